package engine

import (
	"strings"

	"raygate/internal/models"
	"raygate/pkg/jsonhelper"

	gnet "github.com/shirou/gopsutil/net"
	log "github.com/sirupsen/logrus"
)

// buildRuntimeConfig produces the configuration actually handed to the
// engine process: the stored raw config deep-copied with port, log-level
// and outbound-interface overrides applied. The raw config is never
// mutated and the result is never persisted.
func buildRuntimeConfig(raw map[string]any, socksPort, httpPort *int, logLevel models.LogLevel) map[string]any {
	cfg, err := jsonhelper.Clone(raw)
	if err != nil {
		log.WithError(err).Warn("failed to copy raw config, using it as-is")
		return raw
	}

	applyPortOverrides(cfg, socksPort, httpPort)
	applyLogLevelOverride(cfg, logLevel)
	applyDefaultInterface(cfg, defaultNetworkInterface())

	return cfg
}

// applyPortOverrides rewrites inbound ports matched by tag substring:
// "socks" inbounds get socksPort, "http" inbounds get httpPort.
func applyPortOverrides(cfg map[string]any, socksPort, httpPort *int) {
	if socksPort == nil && httpPort == nil {
		return
	}
	for _, inbound := range mapSlice(cfg, "inbounds") {
		tag := strings.ToLower(stringField(inbound, "tag"))
		switch {
		case socksPort != nil && strings.Contains(tag, "socks"):
			log.WithFields(log.Fields{"tag": tag, "port": *socksPort}).Debug("overriding socks inbound port")
			inbound["port"] = *socksPort
		case httpPort != nil && strings.Contains(tag, "http"):
			log.WithFields(log.Fields{"tag": tag, "port": *httpPort}).Debug("overriding http inbound port")
			inbound["port"] = *httpPort
		}
	}
}

func applyLogLevelOverride(cfg map[string]any, level models.LogLevel) {
	if level == "" {
		return
	}
	section, ok := cfg["log"].(map[string]any)
	if !ok {
		section = make(map[string]any)
		cfg["log"] = section
	}
	section["loglevel"] = string(level)
}

// applyDefaultInterface binds every outbound lacking an explicit
// streamSettings.sockopt.interface to the host's default interface, so
// traffic cannot loop back through the system proxy.
func applyDefaultInterface(cfg map[string]any, iface string) {
	if iface == "" {
		return
	}
	for _, outbound := range mapSlice(cfg, "outbounds") {
		stream, ok := outbound["streamSettings"].(map[string]any)
		if !ok {
			stream = make(map[string]any)
			outbound["streamSettings"] = stream
		}
		sockopt, ok := stream["sockopt"].(map[string]any)
		if !ok {
			sockopt = make(map[string]any)
			stream["sockopt"] = sockopt
		}
		if _, exists := sockopt["interface"]; exists {
			continue
		}
		sockopt["interface"] = iface

		// xhttp split-download transports carry their own sockopt.
		if extra, ok := stream["xhttpSettings"].(map[string]any); ok {
			if dl, ok := extraDownloadSettings(extra); ok {
				dlSockopt, ok := dl["sockopt"].(map[string]any)
				if !ok {
					dlSockopt = make(map[string]any)
					dl["sockopt"] = dlSockopt
				}
				if _, exists := dlSockopt["interface"]; !exists {
					dlSockopt["interface"] = iface
				}
			}
		}
	}
}

func extraDownloadSettings(xhttp map[string]any) (map[string]any, bool) {
	extra, ok := xhttp["extra"].(map[string]any)
	if !ok {
		return nil, false
	}
	dl, ok := extra["downloadSettings"].(map[string]any)
	return dl, ok
}

// defaultNetworkInterface picks the first non-loopback interface that is
// up and carries an IPv4 address.
func defaultNetworkInterface() string {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		log.WithError(err).Warn("failed to list network interfaces")
		return ""
	}
	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, "lo") {
			continue
		}
		up := false
		for _, flag := range iface.Flags {
			if flag == "up" {
				up = true
				break
			}
		}
		if !up {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := strings.Split(addr.Addr, "/")[0]
			if ip != "" && !strings.HasPrefix(ip, "127.") && !strings.Contains(ip, ":") {
				return iface.Name
			}
		}
	}
	return ""
}

// extractPortInfo reads back the inbound ports of a runtime configuration
// for display and port borrowing.
func extractPortInfo(cfg map[string]any) []models.PortInfo {
	var ports []models.PortInfo
	for _, inbound := range mapSlice(cfg, "inbounds") {
		port, ok := intField(inbound, "port")
		if !ok {
			continue
		}
		protocol := stringField(inbound, "protocol")
		if protocol == "" {
			protocol = "unknown"
		}
		ports = append(ports, models.PortInfo{
			Port:     port,
			Protocol: protocol,
			Tag:      stringField(inbound, "tag"),
		})
	}
	return ports
}

func mapSlice(cfg map[string]any, key string) []map[string]any {
	raw, ok := cfg[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
