// pkg/connector/incidents.go

package connector

import (
	"fmt"
	"strings"

	cerr "github.com/cockroachdb/errors"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/alerts"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opencti"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

func (c *Connector) newIncident(name, created, description, severity, firstSeen, lastSeen string) stix.Incident {
	return stix.Incident{
		Common:       c.builder.ObjectCommon("incident", stix.IncidentID(name, created)),
		Created:      created,
		Name:         name,
		Description:  description,
		IncidentType: "alert",
		Severity:     severity,
		FirstSeen:    firstSeen,
		LastSeen:     lastSeen,
	}
}

// buildIncidents creates incidents at the configured granularity, their
// relationships and their enrichment objects.
func (c *Connector) buildIncidents(entity *opencti.Entity, result *opensearch.Result, collector *alerts.Collector) ([]stix.Object, error) {
	dropped := ""
	if result.Dropped() > 0 {
		dropped = "+"
	}

	var incidents []stix.Incident
	var objects []stix.Object

	switch c.cfg.Wazuh.IncidentCreateMode {
	case "per_query":
		totalSightings := 0
		for _, meta := range collector.Collated() {
			totalSightings += meta.Count
		}
		name := fmt.Sprintf("Wazuh alert: %s sighted", entityNameValue(entity))
		incident := c.newIncident(
			name,
			collector.LastSightingTimestamp(),
			fmt.Sprintf("Observable %s has been sighted a total of %d%s time(s) in %d system(s)",
				entityNameValue(entity), totalSightings, dropped, len(collector.SighterIDs())),
			alerts.RuleLevelToSeverity(collector.MaxRuleLevel()),
			collector.FirstSeen(),
			collector.LastSeen(),
		)
		incidents = append(incidents, incident)
		objects = append(objects, incident)
		objects = append(objects, c.incidentRelationships(incident, entity, collector.SighterIDs())...)

	case "per_sighting":
		for _, sighterID := range collector.SighterIDs() {
			meta := collector.Collated()[sighterID]
			name := fmt.Sprintf("Wazuh alert: %s sighted in %s", entityNameValue(entity), meta.SighterName)
			incident := c.newIncident(
				name,
				meta.LastSeen,
				fmt.Sprintf("Observable %s has been sighted %d%s time(s) in %s",
					entityNameValue(entity), meta.Count, dropped, meta.SighterName),
				alerts.RuleLevelToSeverity(meta.MaxRuleLevel),
				meta.FirstSeen,
				meta.LastSeen,
			)
			incidents = append(incidents, incident)
			objects = append(objects, incident)
			objects = append(objects, c.incidentRelationships(incident, entity, []string{sighterID})...)
		}

	case "per_alert_rule":
		byRule := collector.AlertsByRule()
		for _, ruleID := range collector.RuleIDs() {
			meta := byRule[ruleID]
			var descriptions []string
			for _, alert := range meta.Alerts {
				descriptions = append(descriptions, alert.Source.Rule.Description)
			}
			name := fmt.Sprintf("Wazuh alert: %s sighted", entityNameValue(entity))
			incident := c.newIncident(
				name,
				meta.LastSeen,
				fmt.Sprintf("Observable %s has been sighted %d%s time(s) in alert rule %s: %q",
					entityNameValue(entity), len(meta.Alerts), dropped, ruleID,
					alerts.CommonPrefixString(descriptions)),
				alerts.RuleLevelToSeverity(meta.Alerts[0].Source.Rule.Level),
				meta.FirstSeen,
				meta.LastSeen,
			)
			incidents = append(incidents, incident)
			objects = append(objects, incident)
			objects = append(objects, c.incidentRelationships(incident, entity, meta.Sighters)...)
		}

	case "per_alert":
		bySighter := collector.AlertsBySighter()
		for _, sighterID := range collector.SighterIDs() {
			meta := collector.Collated()[sighterID]
			name := fmt.Sprintf("Wazuh alert: %s sighted in %s", entityNameValue(entity), meta.SighterName)
			for _, alert := range bySighter[sighterID] {
				sightedAt := alert.Source.Timestamp
				incident := c.newIncident(
					name,
					sightedAt,
					fmt.Sprintf("Observable %s has been sighted in alert rule %s: %q",
						entityNameValue(entity), alert.Source.Rule.ID, alert.Source.Rule.Description),
					alerts.RuleLevelToSeverity(alert.Source.Rule.Level),
					sightedAt,
					sightedAt,
				)
				incidents = append(incidents, incident)
				objects = append(objects, incident)
				objects = append(objects, c.incidentRelationships(incident, entity, []string{sighterID})...)
			}
		}

	default:
		return nil, cerr.Newf("incident create mode %q is invalid", c.cfg.Wazuh.IncidentCreateMode)
	}

	all := collector.Alerts()
	for _, incident := range incidents {
		objects = append(objects, c.enrichIncidentMitre(incident, all)...)
		objects = append(objects, c.enrichIncidentTool(incident, all)...)
		objects = append(objects, c.enrichIncidentAccounts(incident, all)...)
	}
	return objects, nil
}

func (c *Connector) incidentRelationships(incident stix.Incident, entity *opencti.Entity, sighters []string) []stix.Object {
	relType := incidentEntityRelationType(entity)
	objects := []stix.Object{
		c.builder.Relationship(relType, incident.ID, entity.StandardID, incident.Created),
	}
	for _, sighter := range sighters {
		objects = append(objects, c.builder.Relationship("targets", incident.ID, sighter, incident.Created))
	}
	for _, indicator := range entity.Indicators {
		objects = append(objects, c.builder.Relationship("indicates", indicator.StandardID, incident.ID, incident.Created))
	}
	return objects
}

// enrichIncidentMitre creates attack patterns for the MITRE techniques on
// the first alert's rule.
func (c *Connector) enrichIncidentMitre(incident stix.Incident, all []alerts.Alert) []stix.Object {
	if len(all) == 0 {
		return nil
	}
	first := all[0]
	var objects []stix.Object
	for _, mitreID := range first.Source.Rule.Mitre.ID {
		pattern := c.builder.AttackPattern(mitreID)
		objects = append(objects,
			pattern,
			c.builder.Relationship("uses", incident.ID, pattern.ID, first.Source.Timestamp))
	}
	return objects
}

// enrichIncidentTool creates tools inferred from alert rules: scheduled
// task techniques imply schtasks, PsExec mentions imply PsExec.
func (c *Connector) enrichIncidentTool(incident stix.Incident, all []alerts.Alert) []stix.Object {
	var objects []stix.Object
	for _, alert := range all {
		var toolName string
		switch {
		case contains(alert.Source.Rule.Mitre.ID, "T1053.005"):
			toolName = "schtasks"
		case strings.Contains(strings.ToLower(alert.Source.Rule.Description), "psexec"):
			toolName = "PsExec"
		default:
			continue
		}
		tool := c.builder.Tool(toolName)
		objects = append(objects,
			tool,
			c.builder.Relationship("uses", incident.ID, tool.ID, alert.Source.Timestamp))
	}
	return objects
}

// enrichIncidentAccounts creates user accounts from the srcuser/dstuser
// alert fields.
func (c *Connector) enrichIncidentAccounts(incident stix.Incident, all []alerts.Alert) []stix.Object {
	var objects []stix.Object
	seen := map[string]struct{}{}
	for _, alert := range all {
		for _, field := range []string{"srcuser", "dstuser"} {
			username := alert.DataString(field)
			if username == "" {
				continue
			}
			account := c.builder.AccountFromUsername(username)
			if _, dup := seen[account.ID]; dup {
				continue
			}
			seen[account.ID] = struct{}{}
			objects = append(objects,
				account,
				c.builder.Relationship("related-to", incident.ID, account.ID, alert.Source.Timestamp))
		}
	}
	return objects
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
