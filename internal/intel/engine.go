package intel

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"gumshoe/internal/plugin"
	"gumshoe/internal/schedule"
)

// Aggressiveness caps how many chained tasks one artifact type may spawn
// at each depth.
const (
	AggressivenessLow    = "low"
	AggressivenessMedium = "medium"
	AggressivenessHigh   = "high"
)

var cvePattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)

// corroborationBoost is added per additional distinct source plugin,
// applied globally per artifact (not per plugin pair) and capped at 1.0.
const corroborationBoost = 0.05

// Config tunes extraction and chaining for one investigation.
type Config struct {
	Category       string
	MaxDepth       int
	Aggressiveness string
	EnableChaining bool
}

// chainCap translates the aggressiveness setting into the per-type,
// per-depth chained-task cap.
func (c Config) chainCap() int {
	switch c.Aggressiveness {
	case AggressivenessLow:
		return 2
	case AggressivenessHigh:
		return 10
	default:
		return 5
	}
}

// Engine accumulates artifacts across scheduling rounds. It is driven by
// the controller between rounds and is not safe for concurrent use; the
// merge function is commutative and idempotent, so the final artifact set
// is independent of completion order.
type Engine struct {
	registry *plugin.Registry
	cfg      Config
	logger   *zap.Logger

	artifacts map[string]*Artifact // keyed by ArtifactID
	order     []string             // insertion order for stable listing

	// processed guards chain cycles: one entry per
	// (plugin_id, type, normalized value) already produced or targeted.
	processed map[string]bool

	// chained counts chained tasks per "depth|type" for the cap.
	chained map[string]int

	depthReached int
}

// NewEngine creates an engine over the plugin registry.
func NewEngine(registry *plugin.Registry, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
		artifacts: make(map[string]*Artifact),
		processed: make(map[string]bool),
		chained:   make(map[string]int),
	}
}

// DepthReached returns the deepest chain depth that produced a task.
func (e *Engine) DepthReached() int { return e.depthReached }

// Artifacts returns all artifacts in first-discovery order.
func (e *Engine) Artifacts() []*Artifact {
	out := make([]*Artifact, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.artifacts[id])
	}
	return out
}

// ArtifactMap returns the artifact mapping for persistence.
func (e *Engine) ArtifactMap() map[string]*Artifact {
	out := make(map[string]*Artifact, len(e.artifacts))
	for id, a := range e.artifacts {
		out[id] = a
	}
	return out
}

// ChainKeys returns the processed (plugin, type, value) guard entries for
// persistence, sorted for determinism.
func (e *Engine) ChainKeys() []string {
	keys := make([]string, 0, len(e.processed))
	for k := range e.processed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Restore reloads a persisted artifact set and chain guard, so a resumed
// investigation never re-derives artifacts that survived the snapshot.
func (e *Engine) Restore(artifacts map[string]*Artifact, chainKeys []string, depthReached int) {
	restored := make([]string, 0, len(artifacts))
	for id, a := range artifacts {
		if _, exists := e.artifacts[id]; !exists {
			restored = append(restored, id)
		}
		e.artifacts[id] = a
	}
	// The snapshot map carries no order, so discovery timestamps rebuild it.
	sort.Slice(restored, func(i, j int) bool {
		ai, aj := e.artifacts[restored[i]], e.artifacts[restored[j]]
		if ai.DiscoveredAt.Equal(aj.DiscoveredAt) {
			return restored[i] < restored[j]
		}
		return ai.DiscoveredAt.Before(aj.DiscoveredAt)
	})
	e.order = append(e.order, restored...)
	for _, k := range chainKeys {
		e.processed[k] = true
	}
	if depthReached > e.depthReached {
		e.depthReached = depthReached
	}
}

// Ingest consumes one completed task's outcome, merges its artifacts, and
// returns the artifacts touched plus any chained follow-up tasks.
// Non-success outcomes contribute nothing.
func (e *Engine) Ingest(out schedule.Outcome) ([]*Artifact, []schedule.Task) {
	if out.Task.Status != schedule.StatusSucceeded || out.Result == nil || out.Result.Structured == nil {
		return nil, nil
	}

	pl, ok := e.registry.Get(out.Task.PluginID)
	if !ok {
		return nil, nil
	}
	desc := pl.Descriptor()

	candidates := extract(out.Result.Structured, desc, out.Task)
	if len(candidates) == 0 {
		return nil, nil
	}

	merged := make([]*Artifact, 0, len(candidates))
	for _, cand := range candidates {
		merged = append(merged, e.merge(cand))
	}

	tasks := e.chain(merged, out.Task.Depth)
	e.logger.Debug("outcome ingested",
		zap.String("task_id", out.Task.ID),
		zap.String("plugin", out.Task.PluginID),
		zap.Int("artifacts", len(merged)),
		zap.Int("chained_tasks", len(tasks)))
	return merged, tasks
}

// merge folds a candidate into the artifact mapping. Merge rule:
// confidence = max(existing, new) with cross-corroboration boost, tags
// union, first-writer-wins metadata.
func (e *Engine) merge(cand *Artifact) *Artifact {
	// The producing plugin has now seen this (type, value); never chain
	// it back.
	e.processed[chainKey(cand.SourcePlugin, cand.Type, cand.Value)] = true

	existing, ok := e.artifacts[cand.ID]
	if !ok {
		cand.CorroboratedBy = []string{cand.SourcePlugin}
		e.artifacts[cand.ID] = cand
		e.order = append(e.order, cand.ID)
		return cand
	}

	if cand.Confidence > existing.Confidence {
		existing.Confidence = cand.Confidence
	}
	existing.addTags(cand.Tags...)
	for k, v := range cand.Metadata {
		if _, present := existing.Metadata[k]; !present {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]string)
			}
			existing.Metadata[k] = v
		}
	}

	if !existing.corroboratedByPlugin(cand.SourcePlugin) {
		existing.CorroboratedBy = append(existing.CorroboratedBy, cand.SourcePlugin)
		existing.Confidence += corroborationBoost
		if existing.Confidence > 1.0 {
			existing.Confidence = 1.0
		}
		e.logger.Debug("artifact corroborated",
			zap.String("artifact", existing.Value),
			zap.String("type", existing.Type),
			zap.Float64("confidence", existing.Confidence))
	}
	return existing
}

// chain generates follow-up tasks for merged artifacts. Bounded by max
// depth, the aggressiveness cap, and the (plugin, type, value) cycle
// guard; converges when a round yields zero new tasks.
func (e *Engine) chain(artifacts []*Artifact, parentDepth int) []schedule.Task {
	if !e.cfg.EnableChaining {
		return nil
	}
	childDepth := parentDepth + 1
	if childDepth > e.cfg.MaxDepth {
		return nil
	}

	var tasks []schedule.Task
	for _, a := range artifacts {
		capKey := fmt.Sprintf("%d|%s", childDepth, a.Type)
		for _, cand := range e.registry.ChainCandidates(a.Type, e.cfg.Category) {
			d := cand.Descriptor()
			key := chainKey(d.ID, a.Type, a.Value)
			if e.processed[key] {
				continue
			}
			if e.chained[capKey] >= e.cfg.chainCap() {
				break
			}
			e.processed[key] = true
			e.chained[capKey]++

			task := schedule.NewTask(d.ID, a.Value, e.cfg.Category, childDepth)
			tasks = append(tasks, task)
			e.logger.Info("chained task",
				zap.String("plugin", d.ID),
				zap.String("target", a.Value),
				zap.String("artifact_type", a.Type),
				zap.Int("depth", childDepth))
		}
	}

	if len(tasks) > 0 && childDepth > e.depthReached {
		e.depthReached = childDepth
	}
	return tasks
}

func chainKey(pluginID, artifactType, value string) string {
	return pluginID + "|" + artifactType + "|" + NormalizeValue(value)
}

// extract walks the structured vocabulary and emits candidate artifacts
// with plugin-declared base confidence, tagged with provenance.
func extract(data *plugin.ParsedData, desc plugin.Descriptor, task schedule.Task) []*Artifact {
	now := time.Now().UTC()
	var out []*Artifact

	mk := func(artifactType, value string, tags []string, metadata map[string]string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		a := &Artifact{
			ID:           ArtifactID(artifactType, value),
			Type:         artifactType,
			Value:        value,
			SourcePlugin: desc.ID,
			SourceTaskID: task.ID,
			Confidence:   desc.Confidence(artifactType),
			Metadata:     metadata,
			DiscoveredAt: now,
		}
		a.addTags(tags...)
		out = append(out, a)
	}

	for _, email := range data.Emails {
		meta := map[string]string{}
		if at := strings.LastIndex(email, "@"); at >= 0 {
			meta["domain"] = email[at+1:]
		}
		mk(plugin.TypeEmail, email, []string{"email", "contact"}, meta)
	}
	for _, host := range data.Hosts {
		mk(plugin.TypeDomain, host, []string{"domain", "infrastructure"}, nil)
	}
	for _, ip := range data.IPs {
		mk(plugin.TypeIP, ip, []string{"ip", "infrastructure"}, nil)
	}
	for _, port := range data.OpenPorts {
		if port.State != "open" {
			continue
		}
		host := port.Host
		if host == "" {
			host = task.Target
		}
		mk(plugin.TypePort,
			fmt.Sprintf("%d/%s", port.Port, port.Protocol),
			[]string{"port", "service", "network"},
			map[string]string{"service": port.Service, "host": host})
	}
	for _, svc := range data.Services {
		meta := map[string]string{}
		if svc.Product != "" {
			meta["product"] = svc.Product
		}
		if svc.Version != "" {
			meta["version"] = svc.Version
		}
		mk(plugin.TypeService, svc.Name, []string{"service", "network"}, meta)
	}
	for _, url := range data.URLs {
		mk(plugin.TypeURL, url, []string{"url", "web"}, nil)
	}
	for _, person := range data.People {
		mk(plugin.TypePerson, person, []string{"person", "osint"}, nil)
	}

	enrichCVEs(out)
	return out
}

// enrichCVEs tags service and port artifacts that mention CVE ids.
func enrichCVEs(artifacts []*Artifact) {
	for _, a := range artifacts {
		if a.Type != plugin.TypeService && a.Type != plugin.TypePort {
			continue
		}
		text := a.Value
		for _, v := range a.Metadata {
			text += " " + v
		}
		cves := cvePattern.FindAllString(text, -1)
		if len(cves) == 0 {
			continue
		}
		seen := map[string]bool{}
		uniq := cves[:0]
		for _, c := range cves {
			c = strings.ToUpper(c)
			if !seen[c] {
				seen[c] = true
				uniq = append(uniq, c)
			}
		}
		a.addTags("vulnerability")
		if a.Metadata == nil {
			a.Metadata = make(map[string]string)
		}
		a.Metadata["cves"] = strings.Join(uniq, ",")
	}
}
