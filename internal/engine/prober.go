package engine

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"raygate/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	xproxy "golang.org/x/net/proxy"
)

const (
	defaultProbeURL = "http://gstatic.com/generate_204"
	portWaitTimeout = 2 * time.Second
	warmupTimeout   = time.Second
	maxTestWorkers  = 8
)

const (
	probeErrTimeout = "timeout"
)

// Prober measures server reachability by routing a single HTTP request
// through a short-lived engine instance on ephemeral ports. Testing the
// current server borrows its live ports instead; that process is never
// stopped by the test's cleanup.
type Prober struct {
	sup        *Supervisor
	ports      *PortAllocator
	ProbeURL   string
	MaxWorkers int
}

func NewProber(sup *Supervisor, ports *PortAllocator) *Prober {
	return &Prober{
		sup:        sup,
		ports:      ports,
		ProbeURL:   defaultProbeURL,
		MaxWorkers: maxTestWorkers,
	}
}

// Test probes a single server. Every branch returns a structured result;
// a started private process is stopped on the way out regardless of which
// step failed.
func (p *Prober) Test(serverID, subscriptionID uuid.UUID, raw map[string]any, timeout time.Duration) *models.ConnectivityResult {
	result := &models.ConnectivityResult{ServerID: serverID}

	socksPort, httpPort, err := p.ports.AllocateTestPortPair()
	if err != nil {
		return failResult(result, 0, 0, err.Error())
	}

	startedPrivate := false
	defer func() {
		if !startedPrivate {
			return
		}
		if err := p.sup.Stop(serverID); err != nil && !errors.Is(err, ErrNotRunning) {
			log.WithField("server", serverID).WithError(err).Warn("failed to stop test process")
		}
	}()

	if serverID == p.sup.CurrentID() {
		// Borrow the live process's ports; ownership stays with the
		// supervisor.
		for _, info := range p.sup.PortInfo(serverID) {
			switch info.Protocol {
			case "socks":
				socksPort = info.Port
			case "http":
				httpPort = info.Port
			}
		}
	} else {
		if err := p.sup.Start(serverID, subscriptionID, raw, &socksPort, &httpPort); err != nil {
			return failResult(result, socksPort, httpPort, err.Error())
		}
		startedPrivate = true
		waitForPort(httpPort, portWaitTimeout)
	}

	useSocks := !hasInbound(raw, "http") && hasInbound(raw, "socks")

	// Warm-up request so the proxy establishes its upstream tunnel before
	// the timed measurement; its outcome is ignored.
	if warmup, err := p.client(socksPort, httpPort, useSocks, warmupTimeout); err == nil {
		if resp, err := warmup.Get(p.ProbeURL); err == nil {
			resp.Body.Close()
		}
	}

	client, err := p.client(socksPort, httpPort, useSocks, timeout)
	if err != nil {
		return failResult(result, socksPort, httpPort, fmt.Sprintf("connection error: %v", err))
	}

	start := time.Now()
	resp, err := client.Get(p.ProbeURL)
	if err != nil {
		if isTimeout(err) {
			return failResult(result, socksPort, httpPort, probeErrTimeout)
		}
		return failResult(result, socksPort, httpPort, fmt.Sprintf("connection error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return failResult(result, socksPort, httpPort, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	ping := int(time.Since(start).Milliseconds())
	result.Success = true
	result.PingMs = &ping
	result.SocksPort = socksPort
	result.HTTPPort = httpPort
	return result
}

// TestSubscription probes every server concurrently with a bounded worker
// pool and returns exactly one result per server, in input order.
func (p *Prober) TestSubscription(servers []*models.ServerSpec, subscriptionID uuid.UUID, timeout time.Duration) []*models.ConnectivityResult {
	n := len(servers)
	if n == 0 {
		return nil
	}

	workers := p.MaxWorkers
	if workers <= 0 {
		workers = maxTestWorkers
	}
	if workers > n {
		workers = n
	}

	results := make([]*models.ConnectivityResult, n)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				srv := servers[i]
				result := p.Test(srv.ID, subscriptionID, srv.Raw, timeout)
				result.Remarks = srv.Remarks
				results[i] = result
			}
		}()
	}

	for i := range servers {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (p *Prober) client(socksPort, httpPort int, useSocks bool, timeout time.Duration) (*http.Client, error) {
	var transport *http.Transport
	if useSocks {
		dialer, err := xproxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", socksPort), nil, xproxy.Direct)
		if err != nil {
			return nil, err
		}
		transport = &http.Transport{
			Dial:              dialer.Dial,
			DisableKeepAlives: true,
		}
	} else {
		proxyURL, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", httpPort))
		if err != nil {
			return nil, err
		}
		transport = &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// hasInbound reports whether any inbound matches the protocol, by protocol
// field or tag substring.
func hasInbound(cfg map[string]any, protocol string) bool {
	for _, inbound := range mapSlice(cfg, "inbounds") {
		if stringField(inbound, "protocol") == protocol {
			return true
		}
		if strings.Contains(strings.ToLower(stringField(inbound, "tag")), protocol) {
			return true
		}
	}
	return false
}

// waitForPort polls until the port accepts connections or the deadline
// passes. A slow engine start shows up as a probe failure, not an error.
func waitForPort(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func failResult(result *models.ConnectivityResult, socksPort, httpPort int, errMsg string) *models.ConnectivityResult {
	result.Success = false
	result.PingMs = nil
	result.Error = &errMsg
	result.SocksPort = socksPort
	result.HTTPPort = httpPort
	return result
}
