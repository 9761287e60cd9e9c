// pkg/alerts/alert.go

package alerts

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	cerr "github.com/cockroachdb/errors"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
)

// Alert is a Wazuh alert document as returned by the OpenSearch search API.
// Only the fields the connector consumes are modeled; everything else stays
// available through Raw.
type Alert struct {
	DocID  string
	Source Source
	// Raw is the original _source document, kept for the full-alert notes.
	Raw json.RawMessage
}

// Source is the alert document body.
type Source struct {
	Timestamp string                 `json:"@timestamp"`
	ID        string                 `json:"id"`
	Rule      Rule                   `json:"rule"`
	Agent     Agent                  `json:"agent"`
	Data      map[string]interface{} `json:"data"`
}

// Rule describes the Wazuh rule that fired.
type Rule struct {
	ID          string `json:"id"`
	Level       int    `json:"level"`
	Description string `json:"description"`
	Mitre       Mitre  `json:"mitre"`
}

// Mitre holds the MITRE technique ids attached to a rule.
type Mitre struct {
	ID []string `json:"id"`
}

// Agent identifies the Wazuh agent that produced the alert. Agent 000 is
// the manager itself.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// DecodeHits decodes search hits into alerts. A hit that fails to decode
// aborts the whole batch; partial results would produce misleading
// sighting counts.
func DecodeHits(result *opensearch.Result) ([]Alert, error) {
	out := make([]Alert, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var src Source
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			return nil, cerr.Wrapf(err, "decoding alert document %s", hit.ID)
		}
		out = append(out, Alert{
			DocID:  hit.ID,
			Source: src,
			Raw:    hit.Source,
		})
	}
	return out, nil
}

// DataString returns a string field from the alert's data object, or "".
func (a Alert) DataString(key string) string {
	if s, ok := a.Source.Data[key].(string); ok {
		return s
	}
	return ""
}

// RuleLevelToSeverity maps a Wazuh rule level to an OpenCTI severity.
func RuleLevelToSeverity(level int) string {
	switch {
	case level >= 14:
		return "critical"
	case level >= 11:
		return "high"
	case level >= 7:
		return "medium"
	default:
		return "low"
	}
}

// CVSS3ToSeverity maps a CVSS3 base score to an OpenCTI severity.
func CVSS3ToSeverity(score float64) string {
	switch {
	case score > 9.0:
		return "critical"
	case score > 7.0:
		return "high"
	case score > 4.0:
		return "medium"
	default:
		return "low"
	}
}

// MarkdownTable renders the alert's key properties as a markdown table,
// with optional extra rows appended.
func MarkdownTable(alert Alert, additionalRows [][2]string) string {
	s := alert.Source
	var b strings.Builder
	b.WriteString("|Key|Value|\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "|Rule ID|%s|\n", s.Rule.ID)
	fmt.Fprintf(&b, "|Rule desc.|%s|\n", s.Rule.Description)
	fmt.Fprintf(&b, "|Rule level|%d|\n", s.Rule.Level)
	fmt.Fprintf(&b, "|Alert ID|%s/%s|\n", alert.DocID, s.ID)
	for _, row := range additionalRows {
		fmt.Fprintf(&b, "|%s|%s|\n", row[0], row[1])
	}
	return b.String()
}

// CommonPrefixString returns the longest common prefix of the strings,
// suffixed with an ellipsis marker unless the prefix is a complete string.
// Used to produce one description for alerts that share a rule but differ
// in detail.
func CommonPrefixString(strs []string) string {
	const elide = "[…]"
	if len(strs) == 0 {
		return ""
	}
	prefix := strs[0]
	for _, s := range strs[1:] {
		for !strings.HasPrefix(s, prefix) {
			// Trim whole runes; a byte-wise cut can leave invalid UTF-8.
			_, size := utf8.DecodeLastRuneInString(prefix)
			prefix = prefix[:len(prefix)-size]
			if prefix == "" {
				return elide
			}
		}
	}
	if prefix == strs[0] {
		return prefix
	}
	return prefix + elide
}
