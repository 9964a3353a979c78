package plugin

import (
	"errors"
	"strings"
	"testing"
)

const nmapSample = `Starting Nmap 7.94 ( https://nmap.org ) at 2026-03-14 09:26 UTC
Nmap scan report for example.com (93.184.216.34)
Host is up (0.012s latency).
Not shown: 997 closed tcp ports (reset)
PORT    STATE    SERVICE  VERSION
22/tcp  open     ssh      OpenSSH 8.9p1 Ubuntu
80/tcp  open     http     nginx 1.24.0
443/tcp open     https    nginx 1.24.0
25/tcp  filtered smtp

Nmap done: 1 IP address (1 host up) scanned in 8.31 seconds`

func TestNmapParseOutput(t *testing.T) {
	n := NewNmap()
	parsed := n.ParseOutput(nmapSample, "example.com", CategoryWebsite)

	if parsed.Incomplete {
		t.Error("complete scan flagged incomplete")
	}
	if len(parsed.Hosts) != 1 || parsed.Hosts[0] != "example.com" {
		t.Errorf("hosts = %v", parsed.Hosts)
	}
	if len(parsed.OpenPorts) != 4 {
		t.Fatalf("ports = %d, want 4 (open and filtered)", len(parsed.OpenPorts))
	}

	ssh := parsed.OpenPorts[0]
	if ssh.Port != 22 || ssh.Protocol != "tcp" || ssh.State != "open" || ssh.Service != "ssh" {
		t.Errorf("ssh port = %+v", ssh)
	}
	if ssh.Version != "OpenSSH 8.9p1 Ubuntu" {
		t.Errorf("ssh version = %q", ssh.Version)
	}
	if ssh.Host != "example.com" {
		t.Errorf("port host attribution = %q", ssh.Host)
	}

	// Services mirror open ports only; 25/filtered contributes none.
	if len(parsed.Services) != 3 {
		t.Errorf("services = %d, want 3", len(parsed.Services))
	}
}

func TestNmapParseIncompleteOutput(t *testing.T) {
	n := NewNmap()

	truncated := strings.Split(nmapSample, "\n\n")[0]
	parsed := n.ParseOutput(truncated, "example.com", CategoryWebsite)
	if !parsed.Incomplete {
		t.Error("truncated output not flagged incomplete")
	}
	if len(parsed.OpenPorts) == 0 {
		t.Error("partial parse must still recover ports")
	}

	if p := n.ParseOutput("", "example.com", CategoryWebsite); !p.Incomplete {
		t.Error("empty output not flagged incomplete")
	}
}

func TestNmapBuildInvocation(t *testing.T) {
	n := NewNmap()

	cmd, err := n.BuildInvocation("example.com", CategoryWebsite, nil)
	if err != nil {
		t.Fatalf("BuildInvocation: %v", err)
	}
	if cmd.Binary != "nmap" {
		t.Errorf("binary = %s", cmd.Binary)
	}
	joined := strings.Join(cmd.Arguments, " ")
	if !strings.Contains(joined, "--top-ports 1000") {
		t.Errorf("website scan args = %q", joined)
	}
	if cmd.Arguments[len(cmd.Arguments)-1] != "example.com" {
		t.Error("target must be the last argument")
	}
}

func TestNmapBuildInvocationParams(t *testing.T) {
	n := NewNmap()

	cmd, err := n.BuildInvocation("example.com", CategoryWebsite, map[string]string{
		"ports":   "80,443",
		"timing":  "T2",
		"no_ping": "true",
	})
	if err != nil {
		t.Fatalf("BuildInvocation: %v", err)
	}
	joined := strings.Join(cmd.Arguments, " ")
	if strings.Contains(joined, "--top-ports") {
		t.Error("explicit ports must replace --top-ports")
	}
	if !strings.Contains(joined, "-p 80,443") {
		t.Errorf("args = %q", joined)
	}
	if !strings.Contains(joined, "-T2") || !strings.Contains(joined, "-Pn") {
		t.Errorf("timing/no_ping missing: %q", joined)
	}
}

func TestNmapRejectsBadTargets(t *testing.T) {
	n := NewNmap()

	tests := []struct {
		name   string
		target string
	}{
		{"Empty", ""},
		{"URL", "https://example.com"},
		{"ShellMeta", "example.com; rm -rf /"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.BuildInvocation(tt.target, CategoryWebsite, nil)
			var invalid *InvalidTargetError
			if !errors.As(err, &invalid) {
				t.Errorf("err = %v, want InvalidTargetError", err)
			}
		})
	}
}
