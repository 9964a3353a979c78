// Package plugin defines the capability contract every executable recon
// capability satisfies: command construction, structured-output parsing,
// and static descriptor metadata. The package has no dependency on the
// scheduler; plugins are selected dynamically by ID at registration time.
package plugin

import (
	"fmt"

	"gumshoe/internal/execute"
)

// Artifact type vocabulary. Plugins declare which of these they produce
// and consume; the intelligence engine keys extraction and chaining on it.
const (
	TypeEmail   = "email"
	TypeDomain  = "domain"
	TypeIP      = "ip"
	TypePort    = "port"
	TypeService = "service"
	TypeURL     = "url"
	TypePerson  = "person"
	TypeVuln    = "vulnerability"
)

// Investigation categories.
const (
	CategoryWebsite      = "website"
	CategoryOrganisation = "organisation"
	CategoryPeople       = "people"
	CategoryIPServer     = "ip_server"
)

// Descriptor is the static capability metadata for one plugin. It is
// loaded once at startup and read-only thereafter.
type Descriptor struct {
	// ID identifies the plugin in tasks and the registry.
	ID string `json:"id" yaml:"id"`

	// Categories this plugin supports.
	Categories []string `json:"categories" yaml:"categories"`

	// RequiredTools are the external binaries that must be in PATH.
	RequiredTools []string `json:"required_tools" yaml:"required_tools"`

	// Produces and Consumes list artifact types for chaining decisions.
	Produces []string `json:"produces" yaml:"produces"`
	Consumes []string `json:"consumes" yaml:"consumes"`

	// BaseConfidence is the plugin-declared confidence per produced type.
	BaseConfidence map[string]float64 `json:"base_confidence" yaml:"base_confidence"`

	// ChainPriority orders chaining candidates; higher runs first.
	ChainPriority int `json:"chain_priority" yaml:"chain_priority"`
}

// SupportsCategory reports whether the descriptor covers the category.
func (d Descriptor) SupportsCategory(category string) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ConsumesType reports whether the plugin accepts artifacts of the type.
func (d Descriptor) ConsumesType(artifactType string) bool {
	for _, t := range d.Consumes {
		if t == artifactType {
			return true
		}
	}
	return false
}

// Confidence returns the plugin-declared base confidence for a type,
// falling back to a conservative default for undeclared types.
func (d Descriptor) Confidence(artifactType string) float64 {
	if c, ok := d.BaseConfidence[artifactType]; ok {
		return c
	}
	return 0.5
}

// PortInfo is one discovered port in structured output.
type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service"`
	Version  string `json:"version,omitempty"`
	Host     string `json:"host,omitempty"`
}

// ServiceInfo is one identified service in structured output.
type ServiceInfo struct {
	Name    string `json:"name"`
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// ParsedData is the structured vocabulary plugins parse raw output into.
// Parsing is best-effort: malformed output yields whatever could be
// recovered plus Incomplete=true, because partial recon data is still
// valuable.
type ParsedData struct {
	Target    string        `json:"target"`
	Category  string        `json:"category"`
	Emails    []string      `json:"emails,omitempty"`
	Hosts     []string      `json:"hosts,omitempty"`
	IPs       []string      `json:"ips,omitempty"`
	OpenPorts []PortInfo    `json:"open_ports,omitempty"`
	Services  []ServiceInfo `json:"services,omitempty"`
	URLs      []string      `json:"urls,omitempty"`
	People    []string      `json:"people,omitempty"`

	// Incomplete marks a best-effort partial parse.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Empty reports whether nothing was extracted.
func (p *ParsedData) Empty() bool {
	return len(p.Emails) == 0 && len(p.Hosts) == 0 && len(p.IPs) == 0 &&
		len(p.OpenPorts) == 0 && len(p.Services) == 0 &&
		len(p.URLs) == 0 && len(p.People) == 0
}

// Plugin is implemented by every recon capability. BuildInvocation and
// ParseOutput are pure; the scheduler owns execution and its timeout
// boundary via the execute.Runner abstraction.
type Plugin interface {
	// Descriptor returns the static capability metadata.
	Descriptor() Descriptor

	// BuildInvocation constructs the command for a target and category.
	// Returns *InvalidTargetError when the target is incompatible.
	BuildInvocation(target, category string, params map[string]string) (execute.Command, error)

	// ParseOutput turns raw tool output into structured data. It never
	// fails; malformed output produces a partial result with Incomplete.
	ParseOutput(raw, target, category string) *ParsedData
}

// InvalidTargetError reports a target the plugin cannot operate on.
// Not retryable.
type InvalidTargetError struct {
	PluginID string
	Target   string
	Category string
	Reason   string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("plugin %s: invalid target %q for category %q: %s",
		e.PluginID, e.Target, e.Category, e.Reason)
}
