// pkg/alerts/collector.go

package alerts

import "sort"

// SightingMeta aggregates all alerts sighted by one sighter (a Wazuh agent
// or the SIEM itself).
type SightingMeta struct {
	ObservableID string
	SighterName  string
	FirstSeen    string
	LastSeen     string
	Count        int
	// Alerts groups this sighter's alerts by rule id, each group sorted by
	// timestamp.
	Alerts       map[string][]Alert
	MaxRuleLevel int
}

// RuleMeta aggregates alerts across sighters for one rule id.
type RuleMeta struct {
	Alerts    []Alert
	FirstSeen string
	LastSeen  string
	Sighters  []string
}

// Collector reduces a batch of alerts to one sighting per sighter. Adding
// an alert for a known sighter widens its first/last seen span and bumps
// the count. Timestamps are the alerts' ISO 8601 strings, which order
// correctly under plain string comparison.
type Collector struct {
	observableID string
	sightings    map[string]*SightingMeta
	sighterOrder []string
	latest       string
}

// NewCollector creates a collector for sightings of a single observable.
func NewCollector(observableID string) *Collector {
	return &Collector{
		observableID: observableID,
		sightings:    map[string]*SightingMeta{},
	}
}

// Add records that sighter saw the observable in the given alert.
func (c *Collector) Add(timestamp, sighterID, sighterName string, alert Alert) {
	ruleID := alert.Source.Rule.ID
	if timestamp > c.latest {
		c.latest = timestamp
	}

	meta, ok := c.sightings[sighterID]
	if !ok {
		c.sightings[sighterID] = &SightingMeta{
			ObservableID: c.observableID,
			SighterName:  sighterName,
			FirstSeen:    timestamp,
			LastSeen:     timestamp,
			Count:        1,
			Alerts:       map[string][]Alert{ruleID: {alert}},
			MaxRuleLevel: alert.Source.Rule.Level,
		}
		c.sighterOrder = append(c.sighterOrder, sighterID)
		return
	}

	if timestamp < meta.FirstSeen {
		meta.FirstSeen = timestamp
	}
	if timestamp > meta.LastSeen {
		meta.LastSeen = timestamp
	}
	meta.Count++
	meta.Alerts[ruleID] = insertByTimestamp(meta.Alerts[ruleID], alert)
	if alert.Source.Rule.Level > meta.MaxRuleLevel {
		meta.MaxRuleLevel = alert.Source.Rule.Level
	}
}

func insertByTimestamp(list []Alert, alert Alert) []Alert {
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Source.Timestamp > alert.Source.Timestamp
	})
	list = append(list, Alert{})
	copy(list[idx+1:], list[idx:])
	list[idx] = alert
	return list
}

// ObservableID returns the observable all collected sightings refer to.
func (c *Collector) ObservableID() string { return c.observableID }

// Empty reports whether anything has been collected.
func (c *Collector) Empty() bool { return len(c.sightings) == 0 }

// Collated returns the per-sighter metadata.
func (c *Collector) Collated() map[string]*SightingMeta { return c.sightings }

// SighterIDs returns sighter ids in the order they were first seen.
func (c *Collector) SighterIDs() []string { return c.sighterOrder }

// LastSightingTimestamp returns the most recent timestamp seen by any
// sighter.
func (c *Collector) LastSightingTimestamp() string { return c.latest }

// MaxRuleLevel returns the highest rule level across all sighters.
func (c *Collector) MaxRuleLevel() int {
	max := 0
	for _, meta := range c.sightings {
		if meta.MaxRuleLevel > max {
			max = meta.MaxRuleLevel
		}
	}
	return max
}

// FirstSeen returns the earliest sighting timestamp across all sighters.
func (c *Collector) FirstSeen() string {
	first := ""
	for _, meta := range c.sightings {
		if first == "" || meta.FirstSeen < first {
			first = meta.FirstSeen
		}
	}
	return first
}

// LastSeen returns the latest sighting timestamp across all sighters.
func (c *Collector) LastSeen() string {
	last := ""
	for _, meta := range c.sightings {
		if meta.LastSeen > last {
			last = meta.LastSeen
		}
	}
	return last
}

// RuleIDs returns all rule ids seen, sorted.
func (c *Collector) RuleIDs() []string {
	set := map[string]struct{}{}
	for _, meta := range c.sightings {
		for ruleID := range meta.Alerts {
			set[ruleID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AlertsByRule groups alerts across sighters by rule id, each group sorted
// by timestamp and annotated with its time span and sighters.
func (c *Collector) AlertsByRule() map[string]RuleMeta {
	out := map[string]RuleMeta{}
	for _, ruleID := range c.RuleIDs() {
		var group []Alert
		var sighters []string
		for _, sighterID := range c.sighterOrder {
			if alerts, ok := c.sightings[sighterID].Alerts[ruleID]; ok {
				group = append(group, alerts...)
				sighters = append(sighters, sighterID)
			}
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Source.Timestamp < group[j].Source.Timestamp
		})
		out[ruleID] = RuleMeta{
			Alerts:    group,
			FirstSeen: group[0].Source.Timestamp,
			LastSeen:  group[len(group)-1].Source.Timestamp,
			Sighters:  sighters,
		}
	}
	return out
}

// AlertsBySighter returns each sighter's alerts flattened and sorted by
// timestamp.
func (c *Collector) AlertsBySighter() map[string][]Alert {
	out := map[string][]Alert{}
	for sighterID, meta := range c.sightings {
		var all []Alert
		for _, alerts := range meta.Alerts {
			all = append(all, alerts...)
		}
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Source.Timestamp < all[j].Source.Timestamp
		})
		out[sighterID] = all
	}
	return out
}

// Alerts returns every collected alert.
func (c *Collector) Alerts() []Alert {
	var all []Alert
	for _, sighterID := range c.sighterOrder {
		for _, ruleID := range c.RuleIDs() {
			all = append(all, c.sightings[sighterID].Alerts[ruleID]...)
		}
	}
	return all
}
