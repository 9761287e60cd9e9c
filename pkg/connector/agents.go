// pkg/connector/agents.go

package connector

import (
	"sort"

	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/alerts"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/stix"
)

func uniqueAgents(hits []alerts.Alert) []alerts.Agent {
	byID := map[string]alerts.Agent{}
	for _, alert := range hits {
		if alert.Source.Agent.ID != "" {
			byID[alert.Source.Agent.ID] = alert.Source.Agent
		}
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	agents := make([]alerts.Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, byID[id])
	}
	return agents
}

// agentAddressObservables creates address observables for the agents that
// produced the alerts, related to the agent identities.
func (c *Connector) agentAddressObservables(hits []alerts.Alert) []stix.Object {
	var objects []stix.Object
	for _, agent := range uniqueAgents(hits) {
		if agent.IP == "" {
			continue
		}
		addr, err := c.builder.AddrSCO(agent.IP)
		if err != nil {
			c.log.Warn("Agent IP is not a valid address",
				zap.String("agent", agent.ID),
				zap.String("ip", agent.IP))
			continue
		}
		identityID := stix.IdentityID(agent.ID, "system")
		objects = append(objects,
			addr,
			c.builder.Relationship("related-to", identityID, addr.ObjectID(), ""))
	}
	return objects
}

// agentHostnameObservables creates hostname observables for the agents.
func (c *Connector) agentHostnameObservables(hits []alerts.Alert) []stix.Object {
	var objects []stix.Object
	for _, agent := range uniqueAgents(hits) {
		if agent.Name == "" {
			continue
		}
		hostname, err := c.builder.SCO("Hostname", agent.Name)
		if err != nil {
			continue
		}
		identityID := stix.IdentityID(agent.ID, "system")
		objects = append(objects,
			hostname,
			c.builder.Relationship("related-to", identityID, hostname.ObjectID(), ""))
	}
	return objects
}
