package engine

import (
	"os/exec"
	"regexp"
	"strings"

	"raygate/internal/models"
)

// Example first line:
//
//	Xray 1.8.4 (Xray, Penetrates Everything.) 2cba2c4 (go1.24.1 linux/amd64)
var (
	versionLineRe = regexp.MustCompile(`^Xray\s+([0-9]+\.[0-9]+\.[0-9]+)\S*.*?(?:\s+([0-9a-f]{7,}))?\s*\((go[0-9.]+)\s+([^\s)]+)\)`)
	goVersionRe   = regexp.MustCompile(`(?i)go version (\S+)`)
	archRe        = regexp.MustCompile(`(amd64|arm64|386|arm)`)
)

// CheckAvailability probes `<binary> version` and parses the output with
// tolerant pattern matches; the exact format varies between releases.
func (s *Supervisor) CheckAvailability() models.EngineInfo {
	binary := s.EffectiveBinary()

	out, err := exec.Command(binary, "version").CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			detail = "engine binary not found: " + binary
		}
		return models.EngineInfo{Available: false, Error: detail}
	}

	info := models.EngineInfo{Available: true}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)

		if m := versionLineRe.FindStringSubmatch(line); m != nil {
			info.Version = m[1]
			if m[2] != "" {
				info.Commit = m[2]
			}
			info.GoVersion = m[3]
			info.Arch = m[4]
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "commit:"):
			if info.Commit == "" {
				info.Commit = strings.TrimSpace(line[strings.Index(line, ":")+1:])
			}
		case strings.Contains(lower, "go version"):
			if m := goVersionRe.FindStringSubmatch(line); m != nil {
				info.GoVersion = m[1]
			}
			if info.Arch == "" {
				if m := archRe.FindStringSubmatch(line); m != nil {
					info.Arch = m[1]
				}
			}
		case strings.Contains(line, "/") && info.Arch == "":
			if m := archRe.FindStringSubmatch(line); m != nil {
				info.Arch = m[1]
			}
		}
	}
	return info
}
