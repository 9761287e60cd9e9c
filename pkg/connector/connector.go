// pkg/connector/connector.go

package connector

import (
	"context"
	"strconv"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/alerts"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/cache"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/config"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connerr"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opencti"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/search"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

// Version is reported in summary notes and to the platform.
const Version = "0.3.0"

// dedupCache abstracts the Redis-backed enrichment dedup.
type dedupCache interface {
	Seen(ctx context.Context, entityID string) (bool, error)
	Mark(ctx context.Context, entityID string) error
	Close() error
}

// Connector enriches OpenCTI entities with sightings from Wazuh alerts.
type Connector struct {
	cfg      *config.Config
	api      *opencti.Client
	searcher *search.Searcher
	builder  *stix.Builder
	dedup    dedupCache
	metrics  *metrics.Metrics
	log      *otelzap.Logger

	author     stix.Identity
	siemSystem stix.Identity
	maxTLP     string
}

// New wires the connector from configuration. The Redis dedup cache is
// optional and only connected when configured.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*Connector, error) {
	api, err := opencti.NewClient(opencti.Config{
		URL:       cfg.OpenCTI.URL,
		Token:     cfg.OpenCTI.Token,
		VerifyTLS: cfg.OpenCTI.SSLVerify,
	}, log)
	if err != nil {
		return nil, err
	}

	includeMatch, err := config.ParseMatchPatterns(cfg.Wazuh.OpenSearch.IncludeMatch)
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	excludeMatch, err := config.ParseMatchPatterns(cfg.Wazuh.OpenSearch.ExcludeMatch)
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	searchAfter, err := config.ParseSearchAfter(cfg.Wazuh.OpenSearch.SearchAfter)
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	osClient, err := opensearch.NewClient(opensearch.Config{
		URL:          cfg.Wazuh.OpenSearch.URL,
		Username:     cfg.Wazuh.OpenSearch.Username,
		Password:     cfg.Wazuh.OpenSearch.Password,
		VerifyTLS:    cfg.Wazuh.OpenSearch.VerifyTLS,
		Index:        cfg.Wazuh.OpenSearch.Index,
		Limit:        cfg.Wazuh.OpenSearch.Limit,
		SearchAfter:  searchAfter,
		IncludeMatch: toMatchFilters(includeMatch),
		ExcludeMatch: toMatchFilters(excludeMatch),
	}, log)
	if err != nil {
		return nil, err
	}

	fileOpts, err := search.ParseFileSearchOptions(cfg.Wazuh.FileSearchOptions)
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	filenameBehaviour, err := stix.ParseFilenameBehaviour(cfg.Wazuh.FilenameBehaviour)
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	markingRefs, err := stix.ParseTLPs(config.SplitList(cfg.Wazuh.TLPs))
	if err != nil {
		return nil, connerr.WrapConfigError(err)
	}
	if _, err := stix.ParseTLP(cfg.Wazuh.MaxTLP); err != nil {
		return nil, connerr.WrapConfigError(err)
	}

	confidence := cfg.Connector.ConfidenceLevel
	builder := &stix.Builder{
		Confidence:        &confidence,
		MarkingRefs:       markingRefs,
		SCOLabels:         []string{"wazuh"},
		FilenameBehaviour: filenameBehaviour,
	}
	author := builder.Identity("Wazuh", "organization", "Wazuh")
	builder.CreatedByRef = author.ID
	siemSystem := builder.Identity(cfg.Wazuh.SystemName, "system", "")

	var dedup dedupCache
	if cfg.Connector.DedupRedisURL != "" {
		dedup, err = cache.New(ctx, cache.Config{
			Addr: cfg.Connector.DedupRedisURL,
			TTL:  cfg.Connector.DedupTTL,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	c := &Connector{
		cfg:     cfg,
		api:     api,
		builder: builder,
		dedup:   dedup,
		metrics: m,
		log:     otelzap.New(log),

		author:     author,
		siemSystem: siemSystem,
		maxTLP:     cfg.Wazuh.MaxTLP,
	}
	c.searcher = search.New(osClient, api, search.Options{
		FileSearch:         fileOpts,
		IgnorePrivateAddrs: cfg.Wazuh.IgnorePrivateAddrs,
		LookupAgentIP:      cfg.Wazuh.SearchAgentIP,
		LookupAgentName:    cfg.Wazuh.SearchAgentName,
	}, log)
	return c, nil
}

func toMatchFilters(patterns []config.MatchPattern) []opensearch.MatchFilter {
	out := make([]opensearch.MatchFilter, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, opensearch.MatchFilter{Field: p.Field, Value: p.Value})
	}
	return out
}

// Close releases held connections.
func (c *Connector) Close() {
	if c.dedup != nil {
		_ = c.dedup.Close()
	}
}

// markEnriched records a completed enrichment in the dedup cache. Only
// called after the bundle was pushed; failed runs stay retryable.
func (c *Connector) markEnriched(ctx context.Context, entityID string) {
	if c.dedup == nil {
		return
	}
	if err := c.dedup.Mark(ctx, entityID); err != nil {
		c.log.Ctx(ctx).Warn("Dedup cache unavailable", zap.Error(err))
	}
}

// BuildBundle enriches one entity and returns the resulting STIX bundle. A
// nil bundle with a non-empty outcome means there was nothing to send; the
// outcome explains why.
func (c *Connector) BuildBundle(ctx context.Context, entityID string) (*stix.Bundle, string, error) {
	log := c.log.Ctx(ctx)

	if c.dedup != nil {
		seen, err := c.dedup.Seen(ctx, entityID)
		if err != nil {
			// A sick cache must not block enrichment.
			log.Warn("Dedup cache unavailable", zap.Error(err))
		} else if seen {
			return nil, "Entity was recently enriched, skipping", nil
		}
	}

	entity, err := c.api.Entity(ctx, entityID)
	if err != nil {
		return nil, "", cerr.Wrap(err, "reading entity")
	}
	if entity == nil {
		return nil, "", connerr.NewUserErrorf("entity %s not found", entityID)
	}
	isObservable := entity.EntityType != "Vulnerability"

	if !stix.TLPAllowed(entity.TLPMarkings(), c.maxTLP) {
		return nil, "", connerr.NewUserErrorf("entity TLP exceeds the allowed maximum (%s)", c.maxTLP)
	}

	if isObservable && len(entity.Indicators) == 0 && !c.cfg.Wazuh.CreateObservableSightings {
		return nil, "Observable has no indicators", nil
	}

	result, err := c.searcher.Search(ctx, entity)
	if err != nil {
		return nil, "", err
	}
	if result == nil {
		// Supported entity, but nothing searchable about it. Not an error.
		return nil, entity.EntityType + " has no queryable data", nil
	}

	hits, err := alerts.DecodeHits(result)
	if err != nil {
		return nil, "", err
	}
	if len(hits) == 0 {
		return nil, "No hits found", nil
	}
	log.Info("Alert search finished",
		zap.String("entity_type", entity.EntityType),
		zap.Int("hits", len(hits)),
		zap.Int("dropped", result.Dropped()))

	collector := alerts.NewCollector(entity.StandardID)
	agents := map[string]stix.Identity{}
	for _, alert := range hits {
		sighter := c.siemSystem
		// Agent 000 is the manager; it sights as the SIEM system itself.
		if id, err := strconv.Atoi(alert.Source.Agent.ID); c.cfg.Wazuh.AgentsAsSystems && err == nil && id > 0 {
			agent := c.agentIdentity(alert.Source.Agent)
			agents[alert.Source.Agent.ID] = agent
			sighter = agent
		}
		collector.Add(alert.Source.Timestamp, sighter.ID, sighter.Name, alert)
	}

	objects := []stix.Object{c.author, c.siemSystem}

	if c.cfg.Wazuh.CreateAgentIPObservable {
		objects = append(objects, c.agentAddressObservables(hits)...)
	}
	if c.cfg.Wazuh.CreateAgentHostnameObservable {
		objects = append(objects, c.agentHostnameObservables(hits)...)
	}

	var sightingIDs []string
	for _, sighterID := range collector.SighterIDs() {
		meta := collector.Collated()[sighterID]
		sighting := c.buildSighting(sighterID, meta)
		sightingIDs = append(sightingIDs, sighting.ID)
		objects = append(objects, sighting)
		if c.cfg.Wazuh.AlertsAsNotes {
			objects = append(objects, c.buildAlertNotes(sighting.ID, meta)...)
		}
	}

	if c.cfg.Wazuh.SightingSummaryNote {
		objects = append(objects, c.buildSummaryNote(result, collector, sightingIDs))
	}

	if c.cfg.Wazuh.IncidentRequireIndicator && isObservable && len(entity.Indicators) == 0 {
		log.Info("Not creating incidents: an indicator is required and the observable has none")
	} else {
		incidentObjects, err := c.buildIncidents(entity, result, collector)
		if err != nil {
			return nil, "", err
		}
		objects = append(objects, incidentObjects...)
	}

	for _, agent := range agents {
		objects = append(objects, agent)
	}

	bundle := stix.NewBundle(objects...)
	return &bundle, "", nil
}

func (c *Connector) agentIdentity(agent alerts.Agent) stix.Identity {
	return c.builder.IdentityFromSeed(agent.ID, "system", agent.Name, "Wazuh agent ID "+agent.ID)
}

// entityNameValue renders an entity as "Type value" for incident names and
// descriptions.
func entityNameValue(e *opencti.Entity) string {
	var value string
	switch e.EntityType {
	case "StixFile", "Artifact":
		value = firstNonEmpty(append([]string{e.Name}, e.AdditionalNames...)...)
	case "Directory":
		value = e.Path
	case "Software", "Windows-Registry-Value-Type", "Vulnerability":
		value = e.Name
	case "User-Account":
		value = firstNonEmpty(e.AccountLogin, e.UserID)
	case "Windows-Registry-Key":
		value = e.Key
	default:
		value = firstNonEmpty(e.Value, e.ObservableValue)
	}
	return strings.TrimSpace(e.EntityType + " " + value)
}

// incidentEntityRelationType picks the relationship type between an
// incident and the entity that triggered it.
func incidentEntityRelationType(e *opencti.Entity) string {
	if e.EntityType == "Vulnerability" {
		return "targets"
	}
	return "related-to"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
