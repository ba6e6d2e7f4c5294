package subscription

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"raygate/internal/models"
	"raygate/pkg/jsonhelper"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

const (
	userInfoHeader  = "subscription-userinfo"
	defaultEndpoint = "v2ray-json"
	defaultTimeout  = 30 * time.Second

	unknownRemarks = "Unknown Server"
)

var (
	ErrFetchFailure  = errors.New("failed to fetch subscription")
	ErrInvalidFormat = errors.New("invalid subscription format")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Endpoint suffixes that mark a URL as already pointing at a JSON
// subscription feed.
var knownEndpoints = []string{"/v2ray-json", "/v2ray", "/json"}

// Service fetches remote server lists and reconciles them against the
// stored subscription documents.
type Service struct {
	client *http.Client
}

func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		client: &http.Client{Timeout: timeout},
	}
}

// NormalizeURL strips a trailing slash and appends the canonical JSON
// endpoint unless the URL already looks like a subscription feed.
func NormalizeURL(raw string) string {
	raw = strings.TrimRight(raw, "/")

	lower := strings.ToLower(raw)
	for _, endpoint := range knownEndpoints {
		if strings.Contains(lower, endpoint) {
			return raw
		}
	}
	return raw + "/" + defaultEndpoint
}

// parseUserInfo parses the subscription-userinfo header:
//
//	upload=0; download=862108477783; total=0; expire=0
//
// upload+download is the used traffic; total==0 means unlimited and
// expire==0 means no expiry, both mapped to nil. Any parse error degrades
// to nil without failing the fetch.
func parseUserInfo(header string) *models.UserInfo {
	pairs := make(map[string]int64)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			log.WithFields(log.Fields{"header": header, "pair": part}).Warn("unparseable subscription-userinfo pair")
			return nil
		}
		pairs[strings.TrimSpace(key)] = n
	}

	info := &models.UserInfo{
		UsedTraffic: pairs["upload"] + pairs["download"],
	}
	if total := pairs["total"]; total > 0 {
		info.Total = &total
	}
	if expire := pairs["expire"]; expire > 0 {
		t := time.Unix(expire, 0).UTC()
		info.Expire = &t
	}
	return info
}

// Fetch retrieves the subscription payload. The body must be JSON in one
// of three shapes: a bare array of configs, an object wrapping a `configs`
// or `servers` array, or a single config object.
func (s *Service) Fetch(url string) ([]map[string]any, *models.UserInfo, error) {
	resp, err := s.client.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("%w: HTTP %d: %s", ErrFetchFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var userInfo *models.UserInfo
	if header := resp.Header.Get(userInfoHeader); header != "" {
		userInfo = parseUserInfo(header)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetchFailure, err)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: not valid JSON", ErrInvalidFormat)
	}

	configs, err := extractConfigs(payload)
	if err != nil {
		return nil, nil, err
	}
	return configs, userInfo, nil
}

func extractConfigs(payload any) ([]map[string]any, error) {
	switch data := payload.(type) {
	case []any:
		return configList(data)
	case map[string]any:
		if wrapped, ok := data["configs"].([]any); ok {
			return configList(wrapped)
		}
		if wrapped, ok := data["servers"].([]any); ok {
			return configList(wrapped)
		}
		return []map[string]any{data}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected data structure", ErrInvalidFormat)
	}
}

func configList(items []any) ([]map[string]any, error) {
	configs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		cfg, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: non-object entry in server list", ErrInvalidFormat)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// ExtractRemarks finds a display name for a config, checking the common
// field names in priority order and falling back to the first outbound's
// tag.
func ExtractRemarks(cfg map[string]any) string {
	for _, key := range []string{"remarks", "ps", "name", "tag"} {
		if remarks, ok := cfg[key].(string); ok && remarks != "" {
			return remarks
		}
	}
	if outbounds, ok := cfg["outbounds"].([]any); ok && len(outbounds) > 0 {
		if first, ok := outbounds[0].(map[string]any); ok {
			if tag, ok := first["tag"].(string); ok && tag != "" {
				return tag
			}
		}
	}
	return unknownRemarks
}

// applyPortOverrides bakes the global port overrides into a copy of the
// config. These are the only overrides that persist; everything else is
// runtime-only.
func applyPortOverrides(cfg map[string]any, socksPort, httpPort *int) map[string]any {
	if socksPort == nil && httpPort == nil {
		return cfg
	}
	inbounds, ok := cfg["inbounds"].([]any)
	if !ok || len(inbounds) == 0 {
		return cfg
	}

	modified, err := jsonhelper.Clone(cfg)
	if err != nil {
		log.WithError(err).Warn("failed to copy config for port overrides")
		return cfg
	}

	if inbounds, ok := modified["inbounds"].([]any); ok {
		for _, item := range inbounds {
			inbound, ok := item.(map[string]any)
			if !ok {
				continue
			}
			tag, _ := inbound["tag"].(string)
			tag = strings.ToLower(tag)
			switch {
			case socksPort != nil && strings.Contains(tag, "socks"):
				inbound["port"] = *socksPort
			case httpPort != nil && strings.Contains(tag, "http"):
				inbound["port"] = *httpPort
			}
		}
	}
	return modified
}

// Create fetches the source and builds a subscription with fresh server
// identities, all stopped.
func (s *Service) Create(name, rawURL string, socksPort, httpPort *int) (*models.Subscription, error) {
	normalized := NormalizeURL(rawURL)

	configs, userInfo, err := s.Fetch(normalized)
	if err != nil {
		return nil, err
	}

	servers := make([]*models.ServerSpec, 0, len(configs))
	for _, cfg := range configs {
		servers = append(servers, &models.ServerSpec{
			ID:      uuid.New(),
			Remarks: ExtractRemarks(cfg),
			Raw:     applyPortOverrides(cfg, socksPort, httpPort),
			Status:  models.StatusStopped,
		})
	}

	now := time.Now()
	sub := &models.Subscription{
		ID:          uuid.New(),
		Name:        name,
		URL:         normalized,
		Servers:     servers,
		LastUpdated: &now,
		UserInfo:    userInfo,
	}

	log.WithFields(log.Fields{
		"subscription": sub.ID,
		"servers":      len(servers),
	}).Info("created subscription")
	return sub, nil
}

// Refresh re-fetches the source and replaces the server list wholesale.
// Entries matching an existing server by remarks keep that server's
// identity and status; on duplicate remarks the first occurrence in the
// previous list wins. Unmatched entries get fresh identities.
func (s *Service) Refresh(sub *models.Subscription, socksPort, httpPort *int) error {
	configs, userInfo, err := s.Fetch(sub.URL)
	if err != nil {
		return err
	}

	existingByRemarks := make(map[string]*models.ServerSpec, len(sub.Servers))
	for _, srv := range sub.Servers {
		if _, seen := existingByRemarks[srv.Remarks]; !seen {
			existingByRemarks[srv.Remarks] = srv
		}
	}

	servers := make([]*models.ServerSpec, 0, len(configs))
	for _, cfg := range configs {
		remarks := ExtractRemarks(cfg)
		raw := applyPortOverrides(cfg, socksPort, httpPort)

		if existing, ok := existingByRemarks[remarks]; ok {
			// Consume the match so a second entry with the same remarks
			// gets a fresh identity instead of silently merging.
			delete(existingByRemarks, remarks)
			servers = append(servers, &models.ServerSpec{
				ID:      existing.ID,
				Remarks: remarks,
				Raw:     raw,
				Status:  existing.Status,
			})
			continue
		}
		servers = append(servers, &models.ServerSpec{
			ID:      uuid.New(),
			Remarks: remarks,
			Raw:     raw,
			Status:  models.StatusStopped,
		})
	}

	now := time.Now()
	sub.Servers = servers
	sub.LastUpdated = &now
	sub.UserInfo = userInfo

	log.WithFields(log.Fields{
		"subscription": sub.ID,
		"servers":      len(servers),
	}).Info("refreshed subscription")
	return nil
}
