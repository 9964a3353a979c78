// Package intel turns structured plugin output into deduplicated, scored
// artifacts and decides which artifacts spawn chained follow-up tasks.
package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Artifact is one discovered fact. Identity for deduplication is
// (type, normalized value); duplicates merge rather than replace so the
// first discovery's provenance survives.
type Artifact struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Value        string            `json:"value"`
	SourcePlugin string            `json:"source_plugin"`
	SourceTaskID string            `json:"source_task_id"`
	Confidence   float64           `json:"confidence"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`

	// CorroboratedBy lists every distinct plugin that independently
	// produced this (type, value), including the first.
	CorroboratedBy []string `json:"corroborated_by,omitempty"`
}

// NormalizeValue is the canonical form used for identity.
func NormalizeValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ArtifactID derives the stable identity hash for (type, value).
func ArtifactID(artifactType, value string) string {
	sum := sha256.Sum256([]byte(artifactType + ":" + NormalizeValue(value)))
	return hex.EncodeToString(sum[:])[:16]
}

// HasTag reports whether the artifact carries the tag.
func (a *Artifact) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// addTags unions new tags in, keeping the slice sorted for stable output.
func (a *Artifact) addTags(tags ...string) {
	changed := false
	for _, tag := range tags {
		if tag != "" && !a.HasTag(tag) {
			a.Tags = append(a.Tags, tag)
			changed = true
		}
	}
	if changed {
		sort.Strings(a.Tags)
	}
}

// corroboratedByPlugin reports whether the plugin already produced this
// artifact.
func (a *Artifact) corroboratedByPlugin(pluginID string) bool {
	for _, p := range a.CorroboratedBy {
		if p == pluginID {
			return true
		}
	}
	return false
}
