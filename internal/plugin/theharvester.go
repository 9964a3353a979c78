package plugin

import (
	"regexp"
	"strings"

	"gumshoe/internal/execute"
)

var (
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	hostRe   = regexp.MustCompile(`\b([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
	ipv4Re   = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	urlRe    = regexp.MustCompile(`https?://[^\s<>"']+`)
	domainRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)
)

// TheHarvester gathers emails, hosts, and people via OSINT sources.
type TheHarvester struct{}

// NewTheHarvester creates the theHarvester plugin.
func NewTheHarvester() *TheHarvester { return &TheHarvester{} }

func (h *TheHarvester) Descriptor() Descriptor {
	return Descriptor{
		ID:            "theharvester",
		Categories:    []string{CategoryWebsite, CategoryOrganisation, CategoryPeople},
		RequiredTools: []string{"theHarvester"},
		Produces:      []string{TypeEmail, TypeDomain, TypeIP, TypeURL, TypePerson},
		Consumes:      []string{TypeDomain, TypeEmail},
		BaseConfidence: map[string]float64{
			TypeEmail:  0.8,
			TypeDomain: 0.9,
			TypeIP:     0.9,
			TypeURL:    0.8,
			TypePerson: 0.7,
		},
		ChainPriority: 6,
	}
}

func (h *TheHarvester) BuildInvocation(target, category string, params map[string]string) (execute.Command, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return execute.Command{}, &InvalidTargetError{
			PluginID: "theharvester", Target: target, Category: category,
			Reason: "empty target",
		}
	}

	// Strip URL prefixes down to the domain; theHarvester takes -d <domain>.
	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		target = strings.SplitN(strings.TrimPrefix(strings.TrimPrefix(lower, "https://"), "http://"), "/", 2)[0]
	}

	if category != CategoryPeople && !domainRe.MatchString(target) {
		return execute.Command{}, &InvalidTargetError{
			PluginID: "theharvester", Target: target, Category: category,
			Reason: "not a valid domain",
		}
	}

	sources := params["sources"]
	if sources == "" {
		switch category {
		case CategoryWebsite:
			sources = "google,bing,duckduckgo,yahoo"
		case CategoryOrganisation:
			sources = "google,bing,linkedin,yahoo,duckduckgo"
		case CategoryPeople:
			sources = "google,bing,linkedin,twitter,yahoo"
		default:
			sources = "all"
		}
	}

	limit := params["limit"]
	if limit == "" {
		limit = "500"
	}

	args := []string{"-d", target, "-b", sources, "-l", limit}
	return execute.Command{Binary: "theHarvester", Arguments: args}, nil
}

// ParseOutput parses section-oriented theHarvester output. Lines are
// attributed to the most recent "[*] ... found:" header.
func (h *TheHarvester) ParseOutput(raw, target, category string) *ParsedData {
	parsed := &ParsedData{Target: target, Category: category}
	if strings.TrimSpace(raw) == "" {
		parsed.Incomplete = true
		return parsed
	}

	section := ""
	seen := map[string]bool{}
	add := func(dst *[]string, v string) {
		key := section + "|" + v
		if v != "" && !seen[key] {
			seen[key] = true
			*dst = append(*dst, v)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.Contains(line, "[*] Emails found:"):
			section = "emails"
			continue
		case strings.Contains(line, "[*] Hosts found:"):
			section = "hosts"
			continue
		case strings.Contains(line, "[*] IPs found:"):
			section = "ips"
			continue
		case strings.Contains(line, "[*] URLs found:"):
			section = "urls"
			continue
		case strings.Contains(line, "[*] People found:"):
			section = "people"
			continue
		case strings.HasPrefix(line, "[-]") || strings.HasPrefix(line, "[!]") || strings.HasPrefix(line, "[*]"):
			section = ""
			continue
		}

		if line == "" || strings.HasPrefix(line, "=") || strings.HasPrefix(line, "-") {
			continue
		}

		switch section {
		case "emails":
			add(&parsed.Emails, emailRe.FindString(line))
		case "hosts":
			add(&parsed.Hosts, hostRe.FindString(line))
		case "ips":
			add(&parsed.IPs, ipv4Re.FindString(line))
		case "urls":
			add(&parsed.URLs, urlRe.FindString(line))
		case "people":
			if !strings.HasPrefix(line, "http") && !strings.Contains(line, "@") {
				add(&parsed.People, line)
			}
		}
	}

	if strings.Contains(raw, "Error:") || strings.Contains(raw, "ERROR") {
		parsed.Incomplete = true
	}
	return parsed
}
