package plugin

import (
	"regexp"
	"strconv"
	"strings"

	"gumshoe/internal/execute"
)

var (
	nmapHostRe = regexp.MustCompile(`Nmap scan report for (\S+)`)
	nmapPortRe = regexp.MustCompile(`^(\d+)/(tcp|udp)\s+(open|closed|filtered)\s+(\S+)\s*(.*)$`)
	nmapDoneRe = regexp.MustCompile(`Nmap done`)
)

// Nmap runs network port and service discovery.
type Nmap struct{}

// NewNmap creates the nmap plugin.
func NewNmap() *Nmap { return &Nmap{} }

func (n *Nmap) Descriptor() Descriptor {
	return Descriptor{
		ID:            "nmap",
		Categories:    []string{CategoryWebsite, CategoryOrganisation, CategoryIPServer},
		RequiredTools: []string{"nmap"},
		Produces:      []string{TypeDomain, TypePort, TypeService},
		Consumes:      []string{TypeDomain, TypeIP},
		BaseConfidence: map[string]float64{
			TypeDomain:  0.9,
			TypePort:    0.95,
			TypeService: 0.85,
		},
		ChainPriority: 8,
	}
}

// BuildInvocation chooses a scan profile per category. URLs are rejected;
// nmap scans hosts, not URLs.
func (n *Nmap) BuildInvocation(target, category string, params map[string]string) (execute.Command, error) {
	target = strings.TrimSpace(target)
	if err := validateHostTarget("nmap", target, category); err != nil {
		return execute.Command{}, err
	}

	var args []string
	switch category {
	case CategoryWebsite:
		args = []string{"-sV", "-sC", "--top-ports", "1000"}
	case CategoryOrganisation:
		args = []string{"-sS", "-sV", "--top-ports", "1000"}
	case CategoryIPServer:
		args = []string{"-sS", "-sV", "-O"}
	default:
		return execute.Command{}, &InvalidTargetError{
			PluginID: "nmap", Target: target, Category: category,
			Reason: "unsupported category",
		}
	}

	if ports := params["ports"]; ports != "" {
		filtered := args[:0]
		skip := false
		for _, a := range args {
			if skip {
				skip = false
				continue
			}
			if a == "--top-ports" {
				skip = true
				continue
			}
			filtered = append(filtered, a)
		}
		args = append(filtered, "-p", ports)
	}

	timing := params["timing"]
	if timing == "" {
		timing = "T4"
	}
	args = append(args, "-"+timing)

	if params["no_ping"] == "true" {
		args = append(args, "-Pn")
	}

	args = append(args, target)
	return execute.Command{Binary: "nmap", Arguments: args}, nil
}

// ParseOutput walks nmap's grepable human output line by line. Output
// that never reaches "Nmap done" is flagged incomplete.
func (n *Nmap) ParseOutput(raw, target, category string) *ParsedData {
	parsed := &ParsedData{Target: target, Category: category}
	if strings.TrimSpace(raw) == "" {
		parsed.Incomplete = true
		return parsed
	}

	currentHost := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		if m := nmapHostRe.FindStringSubmatch(line); m != nil {
			currentHost = m[1]
			parsed.Hosts = append(parsed.Hosts, currentHost)
			continue
		}

		if m := nmapPortRe.FindStringSubmatch(line); m != nil {
			port, _ := strconv.Atoi(m[1])
			info := PortInfo{
				Port:     port,
				Protocol: m[2],
				State:    m[3],
				Service:  m[4],
				Version:  strings.TrimSpace(m[5]),
				Host:     currentHost,
			}
			parsed.OpenPorts = append(parsed.OpenPorts, info)
			if info.State == "open" {
				parsed.Services = append(parsed.Services, ServiceInfo{
					Name:    info.Service,
					Version: info.Version,
					Port:    info.Port,
				})
			}
		}
	}

	parsed.Incomplete = !nmapDoneRe.MatchString(raw)
	return parsed
}

// validateHostTarget applies the host-shape checks shared by plugins
// that scan hosts rather than URLs.
func validateHostTarget(pluginID, target, category string) error {
	if target == "" {
		return &InvalidTargetError{
			PluginID: pluginID, Target: target, Category: category,
			Reason: "empty target",
		}
	}
	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return &InvalidTargetError{
			PluginID: pluginID, Target: target, Category: category,
			Reason: "URLs are not scannable, supply a host",
		}
	}
	if strings.ContainsAny(target, "<>\"'&|;") {
		return &InvalidTargetError{
			PluginID: pluginID, Target: target, Category: category,
			Reason: "target contains shell metacharacters",
		}
	}
	return nil
}
