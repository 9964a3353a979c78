package plugin

import (
	"errors"
	"strings"
	"testing"
)

const harvesterSample = `*******************************************************************
*  _   _                                            _             *
*  theHarvester 4.4.4                                             *
*******************************************************************

[*] Target: example.com

[*] Searching Google.

[*] Emails found: 2
-------------------
admin@example.com
sales@example.com

[*] Hosts found: 3
------------------
mail.example.com
www.example.com
www.example.com
vpn.example.com:93.184.216.40

[*] IPs found: 1
----------------
93.184.216.34

[*] URLs found: 1
-----------------
https://careers.example.com/jobs

[*] People found: 2
-------------------
Jane Smith
John Doe`

func TestTheHarvesterParseOutput(t *testing.T) {
	h := NewTheHarvester()
	parsed := h.ParseOutput(harvesterSample, "example.com", CategoryOrganisation)

	if parsed.Incomplete {
		t.Error("clean output flagged incomplete")
	}
	if len(parsed.Emails) != 2 {
		t.Errorf("emails = %v", parsed.Emails)
	}
	if len(parsed.Hosts) != 3 {
		t.Errorf("hosts must deduplicate: %v", parsed.Hosts)
	}
	if len(parsed.IPs) != 1 || parsed.IPs[0] != "93.184.216.34" {
		t.Errorf("ips = %v", parsed.IPs)
	}
	if len(parsed.URLs) != 1 || parsed.URLs[0] != "https://careers.example.com/jobs" {
		t.Errorf("urls = %v", parsed.URLs)
	}
	if len(parsed.People) != 2 || parsed.People[0] != "Jane Smith" {
		t.Errorf("people = %v", parsed.People)
	}
}

func TestTheHarvesterParseErrors(t *testing.T) {
	h := NewTheHarvester()

	if p := h.ParseOutput("", "example.com", CategoryWebsite); !p.Incomplete {
		t.Error("empty output not flagged incomplete")
	}

	withErr := harvesterSample + "\nError: rate limited by source"
	if p := h.ParseOutput(withErr, "example.com", CategoryWebsite); !p.Incomplete {
		t.Error("error output not flagged incomplete")
	}
}

func TestTheHarvesterBuildInvocation(t *testing.T) {
	h := NewTheHarvester()

	cmd, err := h.BuildInvocation("https://Example.com/about", CategoryWebsite, nil)
	if err != nil {
		t.Fatalf("BuildInvocation: %v", err)
	}
	joined := strings.Join(cmd.Arguments, " ")
	if !strings.Contains(joined, "-d example.com") {
		t.Errorf("URL not reduced to domain: %q", joined)
	}
	if !strings.Contains(joined, "-l 500") {
		t.Errorf("default limit missing: %q", joined)
	}

	cmd, err = h.BuildInvocation("example.com", CategoryPeople, map[string]string{"limit": "100"})
	if err != nil {
		t.Fatalf("BuildInvocation people: %v", err)
	}
	joined = strings.Join(cmd.Arguments, " ")
	if !strings.Contains(joined, "linkedin") {
		t.Errorf("people sources = %q", joined)
	}
	if !strings.Contains(joined, "-l 100") {
		t.Errorf("limit override ignored: %q", joined)
	}
}

func TestTheHarvesterRejectsNonDomain(t *testing.T) {
	h := NewTheHarvester()

	_, err := h.BuildInvocation("not a domain", CategoryWebsite, nil)
	var invalid *InvalidTargetError
	if !errors.As(err, &invalid) {
		t.Errorf("err = %v, want InvalidTargetError", err)
	}

	// People investigations take free-form names.
	if _, err := h.BuildInvocation("Jane Smith", CategoryPeople, nil); err != nil {
		t.Errorf("people target rejected: %v", err)
	}
}
