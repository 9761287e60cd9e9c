// pkg/connector/sightings.go

package connector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/alerts"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

func (c *Connector) buildSighting(sighterID string, meta *alerts.SightingMeta) stix.Sighting {
	common := c.builder.ObjectCommon("sighting",
		stix.SightingID(meta.ObservableID, sighterID, meta.FirstSeen, meta.LastSeen))
	return stix.Sighting{
		Common:           common,
		FirstSeen:        meta.FirstSeen,
		LastSeen:         meta.LastSeen,
		Count:            meta.Count,
		WhereSightedRefs: []string{sighterID},
		// STIX requires an indicator here; OpenCTI reads the real target
		// from the x_opencti extension.
		SightingOfRef:         stix.DummyIndicatorID,
		XOpenCTISightingOfRef: meta.ObservableID,
		ExternalReferences:    c.buildSightingExtRefs(meta),
	}
}

// capInfo describes how an alert list was truncated, shown as an extra
// table row.
type capInfo struct {
	index   int
	total   int
	perRule int
}

func (ci *capInfo) rows() [][2]string {
	if ci == nil {
		return nil
	}
	return [][2]string{{
		"Count",
		fmt.Sprintf("%d of %d (limited to %d)", ci.index, ci.total, ci.perRule),
	}}
}

// forCappedAlerts visits the newest alerts of each rule group, limited both
// per rule and in total.
func forCappedAlerts(meta *alerts.SightingMeta, perRule, total int, visit func(alert alerts.Alert, capped *capInfo)) {
	visited := 0
	for _, ruleID := range sortedRuleIDs(meta) {
		group := meta.Alerts[ruleID]
		kept := group
		if len(group) > perRule {
			kept = group[len(group)-perRule:]
		}
		for i, alert := range kept {
			if visited >= total {
				return
			}
			visited++
			var capped *capInfo
			if len(group) > perRule {
				capped = &capInfo{index: i + 1, total: len(group), perRule: perRule}
			}
			visit(alert, capped)
		}
	}
}

func sortedRuleIDs(meta *alerts.SightingMeta) []string {
	ids := make([]string, 0, len(meta.Alerts))
	for id := range meta.Alerts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connector) buildSightingExtRefs(meta *alerts.SightingMeta) []stix.ExternalReference {
	var refs []stix.ExternalReference
	forCappedAlerts(meta, c.cfg.Wazuh.SightingMaxExtRefsPerRule, c.cfg.Wazuh.SightingMaxExtRefs,
		func(alert alerts.Alert, capped *capInfo) {
			refs = append(refs, stix.ExternalReference{
				SourceName:  "Wazuh alert",
				Description: alerts.MarkdownTable(alert, capped.rows()),
				URL:         c.alertURL(alert),
			})
		})
	return refs
}

// alertURL links to the alert's context view in the Wazuh dashboard.
func (c *Connector) alertURL(alert alerts.Alert) string {
	return strings.TrimRight(c.cfg.Wazuh.AppURL, "/") +
		"/app/discover#/context/wazuh-alerts-*/" + alert.DocID +
		"?_a=(columns:!(_source),filters:!())"
}

func (c *Connector) buildAlertNotes(sightingID string, meta *alerts.SightingMeta) []stix.Object {
	var notes []stix.Object
	forCappedAlerts(meta, c.cfg.Wazuh.SightingMaxNotesPerRule, c.cfg.Wazuh.SightingMaxNotes,
		func(alert alerts.Alert, capped *capInfo) {
			notes = append(notes, c.buildAlertNote(sightingID, alert, capped))
		})
	return notes
}

func (c *Connector) buildAlertNote(sightingID string, alert alerts.Alert, capped *capInfo) stix.Note {
	sightedAt := alert.Source.Timestamp
	content := alerts.MarkdownTable(alert, capped.rows()) +
		"\n\n```json\n" + prettyJSON(alert.Raw) + "\n```\n"

	note := stix.Note{
		Common:     c.builder.ObjectCommon("note", stix.NoteID(sightedAt, content)),
		Created:    sightedAt,
		Abstract:   fmt.Sprintf("Wazuh alert %q for sighting at %s", alert.Source.Rule.Description, sightedAt),
		Content:    content,
		ObjectRefs: []string{sightingID},
	}
	return note
}

func prettyJSON(raw json.RawMessage) string {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

func (c *Connector) buildSummaryNote(result *opensearch.Result, collector *alerts.Collector, sightingIDs []string) stix.Note {
	runTime := nowISO()
	hitsReturned := len(result.Hits.Hits)
	totalHits := result.Hits.Total.Value

	var b strings.Builder
	b.WriteString("## Wazuh enrichment summary\n\n\n")
	b.WriteString("|Key|Value|\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "|Time|%s|\n", runTime)
	fmt.Fprintf(&b, "|Hits returned|%d|\n", hitsReturned)
	fmt.Fprintf(&b, "|Total hits|%d|\n", totalHits)
	fmt.Fprintf(&b, "|Max hits|%d|\n", c.cfg.Wazuh.OpenSearch.Limit)
	fmt.Fprintf(&b, "|**Dropped**|**%d**|\n", totalHits-hitsReturned)
	fmt.Fprintf(&b, "|Search since|%s|\n", valueOrDash(c.cfg.Wazuh.OpenSearch.SearchAfter))
	fmt.Fprintf(&b, "|Include filter|%s|\n", c.cfg.Wazuh.OpenSearch.IncludeMatch)
	fmt.Fprintf(&b, "|Exclude filter|%s|\n", c.cfg.Wazuh.OpenSearch.ExcludeMatch)
	fmt.Fprintf(&b, "|Connector v.|%s|\n", Version)
	b.WriteString("\n### Alerts overview\n\n")
	b.WriteString("|Rule|Level|Count|Earliest|Latest|Description|\n")
	b.WriteString("|----|-----|-----|--------|------|-----------|\n")

	dropped := ""
	if totalHits > hitsReturned {
		dropped = "+"
	}
	byRule := collector.AlertsByRule()
	for _, ruleID := range collector.RuleIDs() {
		meta := byRule[ruleID]
		var descriptions []string
		for _, alert := range meta.Alerts {
			descriptions = append(descriptions, alert.Source.Rule.Description)
		}
		fmt.Fprintf(&b, "|%s|%d|%d%s|%s|%s|%s|\n",
			ruleID,
			meta.Alerts[0].Source.Rule.Level,
			len(meta.Alerts), dropped,
			meta.FirstSeen,
			meta.LastSeen,
			alerts.CommonPrefixString(descriptions))
	}
	content := b.String()

	return stix.Note{
		Common:     c.builder.ObjectCommon("note", stix.NoteID(runTime, content)),
		Created:    runTime,
		Abstract:   "Wazuh enrichment at " + runTime,
		Content:    content,
		ObjectRefs: append([]string{collector.ObservableID()}, sightingIDs...),
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
