// pkg/connector/connector_test.go

package connector

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/alerts"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/config"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opencti"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	confidence := 80
	builder := &stix.Builder{
		Confidence: &confidence,
		SCOLabels:  []string{"wazuh"},
	}
	author := builder.Identity("Wazuh", "organization", "Wazuh")
	builder.CreatedByRef = author.ID

	cfg := &config.Config{}
	cfg.Wazuh.AppURL = "https://wazuh.example.org"
	cfg.Wazuh.IncidentCreateMode = "per_query"
	cfg.Wazuh.SightingMaxExtRefs = 10
	cfg.Wazuh.SightingMaxExtRefsPerRule = 2
	cfg.Wazuh.SightingMaxNotes = 10
	cfg.Wazuh.SightingMaxNotesPerRule = 2
	cfg.Wazuh.OpenSearch.Limit = 50

	return &Connector{
		cfg:     cfg,
		builder: builder,
		log:     otelzap.New(zap.NewNop()),
		author:  author,
	}
}

func testAlert(docID, timestamp, ruleID string, level int, description, agentID, agentName string) alerts.Alert {
	return alerts.Alert{
		DocID: docID,
		Source: alerts.Source{
			Timestamp: timestamp,
			ID:        "160922:" + docID,
			Rule: alerts.Rule{
				ID:          ruleID,
				Level:       level,
				Description: description,
			},
			Agent: alerts.Agent{ID: agentID, Name: agentName, IP: "10.0.0.5"},
		},
		Raw: json.RawMessage(`{"rule":{"id":"` + ruleID + `"}}`),
	}
}

func testCollector(sighterID, sighterName string, hits ...alerts.Alert) *alerts.Collector {
	collector := alerts.NewCollector("ipv4-addr--11111111-1111-4111-8111-111111111111")
	for _, alert := range hits {
		collector.Add(alert.Source.Timestamp, sighterID, sighterName, alert)
	}
	return collector
}

type fakeDedup struct {
	seen   bool
	marked []string
}

func (f *fakeDedup) Seen(ctx context.Context, entityID string) (bool, error) {
	return f.seen, nil
}

func (f *fakeDedup) Mark(ctx context.Context, entityID string) error {
	f.marked = append(f.marked, entityID)
	return nil
}

func (f *fakeDedup) Close() error { return nil }

// A recently enriched entity short-circuits before any API call, and the
// check alone must not refresh the dedup mark.
func TestBuildBundleDedupSkipIsReadOnly(t *testing.T) {
	c := newTestConnector(t)
	dedup := &fakeDedup{seen: true}
	c.dedup = dedup

	bundle, outcome, err := c.BuildBundle(context.Background(), "file--abc")
	require.NoError(t, err)
	assert.Nil(t, bundle)
	assert.Equal(t, "Entity was recently enriched, skipping", outcome)
	assert.Empty(t, dedup.marked)
}

func TestMarkEnriched(t *testing.T) {
	c := newTestConnector(t)
	dedup := &fakeDedup{}
	c.dedup = dedup

	c.markEnriched(context.Background(), "file--abc")
	assert.Equal(t, []string{"file--abc"}, dedup.marked)

	c.dedup = nil
	c.markEnriched(context.Background(), "file--def")
}

func TestEntityNameValue(t *testing.T) {
	tests := []struct {
		name   string
		entity opencti.Entity
		want   string
	}{
		{
			name:   "file by name",
			entity: opencti.Entity{EntityType: "StixFile", Name: "evil.exe"},
			want:   "StixFile evil.exe",
		},
		{
			name:   "file falls back to additional names",
			entity: opencti.Entity{EntityType: "StixFile", AdditionalNames: []string{"dropper.exe"}},
			want:   "StixFile dropper.exe",
		},
		{
			name:   "directory",
			entity: opencti.Entity{EntityType: "Directory", Path: "/var/tmp"},
			want:   "Directory /var/tmp",
		},
		{
			name:   "vulnerability",
			entity: opencti.Entity{EntityType: "Vulnerability", Name: "CVE-2024-3094"},
			want:   "Vulnerability CVE-2024-3094",
		},
		{
			name:   "account login",
			entity: opencti.Entity{EntityType: "User-Account", AccountLogin: "root"},
			want:   "User-Account root",
		},
		{
			name:   "account uid only",
			entity: opencti.Entity{EntityType: "User-Account", UserID: "0"},
			want:   "User-Account 0",
		},
		{
			name:   "registry key",
			entity: opencti.Entity{EntityType: "Windows-Registry-Key", Key: `HKLM\Software\Run`},
			want:   `Windows-Registry-Key HKLM\Software\Run`,
		},
		{
			name:   "value fallback",
			entity: opencti.Entity{EntityType: "IPv4-Addr", ObservableValue: "1.2.3.4"},
			want:   "IPv4-Addr 1.2.3.4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entityNameValue(&tt.entity))
		})
	}
}

func TestIncidentEntityRelationType(t *testing.T) {
	assert.Equal(t, "targets", incidentEntityRelationType(&opencti.Entity{EntityType: "Vulnerability"}))
	assert.Equal(t, "related-to", incidentEntityRelationType(&opencti.Entity{EntityType: "IPv4-Addr"}))
}

func TestForCappedAlerts(t *testing.T) {
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 5, "ssh", "001", "server1"),
		testAlert("a2", "2024-01-01T11:00:00.000Z", "100", 5, "ssh", "001", "server1"),
		testAlert("a3", "2024-01-01T12:00:00.000Z", "100", 5, "ssh", "001", "server1"),
		testAlert("b1", "2024-01-01T13:00:00.000Z", "200", 7, "sudo", "001", "server1"),
	)
	meta := collector.Collated()["identity--sighter"]

	var visited []string
	var cappedSeen bool
	forCappedAlerts(meta, 2, 10, func(alert alerts.Alert, capped *capInfo) {
		visited = append(visited, alert.DocID)
		if capped != nil {
			cappedSeen = true
			assert.Equal(t, 3, capped.total)
			assert.Equal(t, 2, capped.perRule)
		}
	})
	// Rule 100 keeps its two newest alerts, rule 200 is under the cap.
	assert.Equal(t, []string{"a2", "a3", "b1"}, visited)
	assert.True(t, cappedSeen)

	visited = nil
	forCappedAlerts(meta, 2, 1, func(alert alerts.Alert, capped *capInfo) {
		visited = append(visited, alert.DocID)
	})
	assert.Equal(t, []string{"a2"}, visited)
}

func TestBuildSighting(t *testing.T) {
	c := newTestConnector(t)
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 5, "ssh", "001", "server1"),
		testAlert("a2", "2024-01-01T12:00:00.000Z", "100", 5, "ssh", "001", "server1"),
	)
	meta := collector.Collated()["identity--sighter"]

	sighting := c.buildSighting("identity--sighter", meta)
	assert.Equal(t, "sighting", sighting.Type)
	assert.Equal(t, stix.DummyIndicatorID, sighting.SightingOfRef)
	assert.Equal(t, collector.ObservableID(), sighting.XOpenCTISightingOfRef)
	assert.Equal(t, []string{"identity--sighter"}, sighting.WhereSightedRefs)
	assert.Equal(t, "2024-01-01T10:00:00.000Z", sighting.FirstSeen)
	assert.Equal(t, "2024-01-01T12:00:00.000Z", sighting.LastSeen)
	assert.Equal(t, 2, sighting.Count)
	require.Len(t, sighting.ExternalReferences, 2)
	ref := sighting.ExternalReferences[0]
	assert.Equal(t, "Wazuh alert", ref.SourceName)
	assert.Contains(t, ref.Description, "|Rule ID|100|")
	assert.Equal(t,
		"https://wazuh.example.org/app/discover#/context/wazuh-alerts-*/a1?_a=(columns:!(_source),filters:!())",
		ref.URL)
}

func TestBuildAlertNote(t *testing.T) {
	c := newTestConnector(t)
	alert := testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 5, "ssh brute force", "001", "server1")

	note := c.buildAlertNote("sighting--x", alert, nil)
	assert.Equal(t, `Wazuh alert "ssh brute force" for sighting at 2024-01-01T10:00:00.000Z`, note.Abstract)
	assert.Equal(t, []string{"sighting--x"}, note.ObjectRefs)
	assert.Contains(t, note.Content, "```json\n{\n")
	assert.True(t, strings.HasSuffix(note.Content, "```\n"), "json fence must be closed")
}

func TestBuildSummaryNote(t *testing.T) {
	c := newTestConnector(t)
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 5, "sshd: failed password", "001", "server1"),
		testAlert("a2", "2024-01-01T11:00:00.000Z", "100", 5, "sshd: failed publickey", "001", "server1"),
	)
	result := resultWithHits(2, 5)

	note := c.buildSummaryNote(result, collector, []string{"sighting--x"})
	assert.Contains(t, note.Content, "## Wazuh enrichment summary")
	assert.Contains(t, note.Content, "|Hits returned|2|")
	assert.Contains(t, note.Content, "|Total hits|5|")
	assert.Contains(t, note.Content, "|**Dropped**|**3**|")
	// Per-rule row carries the "+" marker when hits were dropped.
	assert.Contains(t, note.Content, "|100|5|2+|")
	assert.Contains(t, note.Content, "sshd: failed p[…]")
	assert.Equal(t, append([]string{collector.ObservableID()}, "sighting--x"), note.ObjectRefs)
}

func TestBuildIncidentsPerQuery(t *testing.T) {
	c := newTestConnector(t)
	c.cfg.Wazuh.IncidentCreateMode = "per_query"
	entity := &opencti.Entity{
		StandardID:      "ipv4-addr--11111111-1111-4111-8111-111111111111",
		EntityType:      "IPv4-Addr",
		ObservableValue: "1.2.3.4",
	}
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 12, "ssh", "001", "server1"),
		testAlert("a2", "2024-01-01T11:00:00.000Z", "100", 12, "ssh", "001", "server1"),
	)

	objects, err := c.buildIncidents(entity, resultWithHits(2, 2), collector)
	require.NoError(t, err)

	incidents := objectsOfType(objects, "incident")
	require.Len(t, incidents, 1)
	incident := incidents[0].(stix.Incident)
	assert.Equal(t, "Wazuh alert: IPv4-Addr 1.2.3.4 sighted", incident.Name)
	assert.Equal(t, "high", incident.Severity)
	assert.Contains(t, incident.Description, "a total of 2 time(s) in 1 system(s)")

	rels := objectsOfType(objects, "relationship")
	require.Len(t, rels, 2)
	assert.Equal(t, "related-to", rels[0].(stix.Relationship).RelationshipType)
	assert.Equal(t, "targets", rels[1].(stix.Relationship).RelationshipType)
}

func TestBuildIncidentsPerAlert(t *testing.T) {
	c := newTestConnector(t)
	c.cfg.Wazuh.IncidentCreateMode = "per_alert"
	entity := &opencti.Entity{
		StandardID:      "ipv4-addr--11111111-1111-4111-8111-111111111111",
		EntityType:      "IPv4-Addr",
		ObservableValue: "1.2.3.4",
	}
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 3, "ssh", "001", "server1"),
		testAlert("a2", "2024-01-01T11:00:00.000Z", "200", 14, "sudo", "001", "server1"),
	)

	objects, err := c.buildIncidents(entity, resultWithHits(2, 2), collector)
	require.NoError(t, err)

	incidents := objectsOfType(objects, "incident")
	require.Len(t, incidents, 2)
	first := incidents[0].(stix.Incident)
	assert.Equal(t, "2024-01-01T10:00:00.000Z", first.Created)
	assert.Equal(t, first.FirstSeen, first.LastSeen)
	assert.Equal(t, "low", first.Severity)
	assert.Equal(t, "critical", incidents[1].(stix.Incident).Severity)
}

func TestBuildIncidentsInvalidMode(t *testing.T) {
	c := newTestConnector(t)
	c.cfg.Wazuh.IncidentCreateMode = "bogus"
	collector := testCollector("identity--sighter", "server1",
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 3, "ssh", "001", "server1"))

	_, err := c.buildIncidents(&opencti.Entity{EntityType: "IPv4-Addr"}, resultWithHits(1, 1), collector)
	assert.ErrorContains(t, err, "invalid")
}

func TestIncidentEnrichment(t *testing.T) {
	c := newTestConnector(t)
	c.cfg.Wazuh.IncidentCreateMode = "per_query"
	entity := &opencti.Entity{
		StandardID:      "ipv4-addr--11111111-1111-4111-8111-111111111111",
		EntityType:      "IPv4-Addr",
		ObservableValue: "1.2.3.4",
	}
	alert := testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 10, "PsExec lateral movement", "001", "server1")
	alert.Source.Rule.Mitre.ID = []string{"T1053.005"}
	alert.Source.Data = map[string]interface{}{"srcuser": "root(uid=0)"}
	collector := testCollector("identity--sighter", "server1", alert)

	objects, err := c.buildIncidents(entity, resultWithHits(1, 1), collector)
	require.NoError(t, err)

	patterns := objectsOfType(objects, "attack-pattern")
	require.Len(t, patterns, 1)
	assert.Equal(t, "T1053.005", patterns[0].(stix.AttackPattern).Name)

	tools := objectsOfType(objects, "tool")
	require.Len(t, tools, 1)
	assert.Equal(t, "schtasks", tools[0].(stix.Tool).Name)

	accounts := objectsOfType(objects, "user-account")
	require.Len(t, accounts, 1)
	account := accounts[0].(stix.UserAccount)
	assert.Equal(t, "root", account.AccountLogin)
	assert.Equal(t, "0", account.UserID)
}

func TestUniqueAgents(t *testing.T) {
	hits := []alerts.Alert{
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 3, "ssh", "002", "web1"),
		testAlert("a2", "2024-01-01T11:00:00.000Z", "100", 3, "ssh", "001", "db1"),
		testAlert("a3", "2024-01-01T12:00:00.000Z", "100", 3, "ssh", "002", "web1"),
	}
	agents := uniqueAgents(hits)
	require.Len(t, agents, 2)
	assert.Equal(t, "001", agents[0].ID)
	assert.Equal(t, "002", agents[1].ID)
}

func TestAgentObservables(t *testing.T) {
	c := newTestConnector(t)
	hits := []alerts.Alert{
		testAlert("a1", "2024-01-01T10:00:00.000Z", "100", 3, "ssh", "001", "server1"),
	}

	addrs := c.agentAddressObservables(hits)
	require.Len(t, addrs, 2)
	addr := addrs[0].(stix.IPv4Address)
	assert.Equal(t, "10.0.0.5", addr.Value)
	rel := addrs[1].(stix.Relationship)
	assert.Equal(t, "related-to", rel.RelationshipType)
	assert.Equal(t, stix.IdentityID("001", "system"), rel.SourceRef)
	assert.Equal(t, addr.ID, rel.TargetRef)

	hostnames := c.agentHostnameObservables(hits)
	require.Len(t, hostnames, 2)
	assert.Equal(t, "server1", hostnames[0].(stix.Hostname).Value)
}

func resultWithHits(returned, total int) *opensearch.Result {
	result := &opensearch.Result{}
	result.Hits.Total.Value = total
	result.Hits.Hits = make([]opensearch.Hit, returned)
	return result
}

func objectsOfType(objects []stix.Object, objectType string) []stix.Object {
	var out []stix.Object
	for _, obj := range objects {
		if strings.HasPrefix(obj.ObjectID(), objectType+"--") {
			out = append(out, obj)
		}
	}
	return out
}
