// pkg/opensearch/dsl_test.go

package opensearch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, q Query) string {
	t.Helper()
	data, err := MarshalQuery(q)
	require.NoError(t, err)
	return string(data)
}

func TestLeafQueries(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{
			name:  "term",
			query: Term{Field: "rule.id", Value: "5710"},
			want:  `{"term":{"rule.id":{"value":"5710"}}}`,
		},
		{
			name:  "match",
			query: Match{Field: "agent.ip", Query: "10.0.0.1"},
			want:  `{"match":{"agent.ip":{"query":"10.0.0.1"}}}`,
		},
		{
			name:  "multi_match",
			query: MultiMatch{Query: "evil.example.org", Fields: []string{"*.hostname", "*.domain"}},
			want:  `{"multi_match":{"fields":["*.hostname","*.domain"],"query":"evil.example.org"}}`,
		},
		{
			name:  "regexp case insensitive",
			query: Regexp{Field: "syscheck.path", Query: `.*[/\\]+evil\.exe`, CaseInsensitive: true},
			want:  `{"regexp":{"syscheck.path":{"case_insensitive":true,"value":".*[/\\\\]+evil\\.exe"}}}`,
		},
		{
			name:  "wildcard",
			query: Wildcard{Field: "data.command", Query: "*--exfil*", CaseInsensitive: true},
			want:  `{"wildcard":{"data.command":{"case_insensitive":true,"value":"*--exfil*"}}}`,
		},
		{
			name:  "range gte only",
			query: Range{Field: "@timestamp", Gte: "2024-03-01T00:00:00Z"},
			want:  `{"range":{"@timestamp":{"gte":"2024-03-01T00:00:00Z"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, marshal(t, tt.query))
		})
	}
}

func TestBoolQueryOmitsEmptyClauses(t *testing.T) {
	q := Bool{Must: []Query{Match{Field: "a", Query: "b"}}}
	got := marshal(t, q)

	assert.JSONEq(t, `{"bool":{"must":[{"match":{"a":{"query":"b"}}}]}}`, got)
	assert.NotContains(t, got, "should")
	assert.NotContains(t, got, "must_not")
}

func TestBoolQueryNesting(t *testing.T) {
	q := Bool{
		Must: []Query{
			Bool{Should: []Query{
				MultiMatch{Query: "x", Fields: []string{"*sha256*"}},
				MultiMatch{Query: "y", Fields: []string{"*md5*"}},
			}},
		},
		MustNot: []Query{Match{Field: "agent.ip", Query: "10.0.0.1"}},
	}

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(marshal(t, q)), &decoded))

	boolClause := decoded["bool"].(map[string]interface{})
	assert.Len(t, boolClause["must"], 1)
	assert.Len(t, boolClause["must_not"], 1)

	inner := boolClause["must"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, inner, "bool")
}

func TestBoolEmpty(t *testing.T) {
	assert.True(t, Bool{}.Empty())
	assert.False(t, Bool{Should: []Query{Term{Field: "a", Value: "b"}}}.Empty())
}
