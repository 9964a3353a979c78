package plugin

import (
	"strings"

	"gumshoe/internal/execute"
)

// Whois queries registration records for domains and addresses.
type Whois struct{}

// NewWhois creates the whois plugin.
func NewWhois() *Whois { return &Whois{} }

func (w *Whois) Descriptor() Descriptor {
	return Descriptor{
		ID:            "whois",
		Categories:    []string{CategoryWebsite, CategoryOrganisation, CategoryIPServer},
		RequiredTools: []string{"whois"},
		Produces:      []string{TypeEmail, TypeDomain},
		Consumes:      []string{TypeDomain, TypeIP},
		BaseConfidence: map[string]float64{
			TypeEmail:  0.75,
			TypeDomain: 0.85,
		},
		ChainPriority: 4,
	}
}

func (w *Whois) BuildInvocation(target, category string, params map[string]string) (execute.Command, error) {
	target = strings.TrimSpace(target)
	if err := validateHostTarget("whois", target, category); err != nil {
		return execute.Command{}, err
	}
	return execute.Command{Binary: "whois", Arguments: []string{target}}, nil
}

// ParseOutput scrapes registrant emails and name servers out of free-form
// whois records.
func (w *Whois) ParseOutput(raw, target, category string) *ParsedData {
	parsed := &ParsedData{Target: target, Category: category}
	if strings.TrimSpace(raw) == "" {
		parsed.Incomplete = true
		return parsed
	}

	seenEmail := map[string]bool{}
	seenHost := map[string]bool{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		for _, email := range emailRe.FindAllString(line, -1) {
			email = strings.ToLower(email)
			// Registrars redact with placeholder addresses.
			if strings.Contains(email, "abuse@") || seenEmail[email] {
				continue
			}
			seenEmail[email] = true
			parsed.Emails = append(parsed.Emails, email)
		}

		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "name server:") || strings.HasPrefix(lower, "nserver:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				host := strings.ToLower(strings.TrimSpace(parts[1]))
				if host != "" && !seenHost[host] {
					seenHost[host] = true
					parsed.Hosts = append(parsed.Hosts, host)
				}
			}
		}
	}

	if strings.Contains(raw, "No match for") || strings.Contains(raw, "NOT FOUND") {
		parsed.Incomplete = true
	}
	return parsed
}
