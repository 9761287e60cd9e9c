// pkg/opensearch/dsl.go

package opensearch

import "encoding/json"

// Query is a single OpenSearch query-DSL leaf or compound. Each type
// marshals to the exact JSON the _search endpoint expects.
type Query interface {
	Map() map[string]interface{}
}

// Term matches an exact (non-analyzed) value.
type Term struct {
	Field string
	Value string
}

func (q Term) Map() map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{
			q.Field: map[string]interface{}{"value": q.Value},
		},
	}
}

// Match is a full-text match against a single field.
type Match struct {
	Field string
	Query string
}

func (q Match) Map() map[string]interface{} {
	return map[string]interface{}{
		"match": map[string]interface{}{
			q.Field: map[string]interface{}{"query": q.Query},
		},
	}
}

// MultiMatch matches a value across several fields. Fields may contain
// globs (e.g. "*.src_ip").
type MultiMatch struct {
	Query  string
	Fields []string
}

func (q MultiMatch) Map() map[string]interface{} {
	return map[string]interface{}{
		"multi_match": map[string]interface{}{
			"query":  q.Query,
			"fields": q.Fields,
		},
	}
}

// Regexp is a lucene regular-expression query against one field. Globs in
// the field name are not allowed by OpenSearch for this query type.
type Regexp struct {
	Field           string
	Query           string
	CaseInsensitive bool
}

func (q Regexp) Map() map[string]interface{} {
	return map[string]interface{}{
		"regexp": map[string]interface{}{
			q.Field: map[string]interface{}{
				"value":            q.Query,
				"case_insensitive": q.CaseInsensitive,
			},
		},
	}
}

// Wildcard is a glob query against one field.
type Wildcard struct {
	Field           string
	Query           string
	CaseInsensitive bool
}

func (q Wildcard) Map() map[string]interface{} {
	return map[string]interface{}{
		"wildcard": map[string]interface{}{
			q.Field: map[string]interface{}{
				"value":            q.Query,
				"case_insensitive": q.CaseInsensitive,
			},
		},
	}
}

// Range constrains a field to an interval. Gte/Lte are emitted only when
// non-nil.
type Range struct {
	Field string
	Gte   interface{}
	Lte   interface{}
}

func (q Range) Map() map[string]interface{} {
	bounds := map[string]interface{}{}
	if q.Gte != nil {
		bounds["gte"] = q.Gte
	}
	if q.Lte != nil {
		bounds["lte"] = q.Lte
	}
	return map[string]interface{}{
		"range": map[string]interface{}{q.Field: bounds},
	}
}

// Bool combines subqueries. Empty clauses are omitted from the JSON.
type Bool struct {
	Must    []Query
	Should  []Query
	MustNot []Query
	Filter  []Query
}

func (q Bool) Map() map[string]interface{} {
	clause := map[string]interface{}{}
	if len(q.Must) > 0 {
		clause["must"] = queryMaps(q.Must)
	}
	if len(q.Should) > 0 {
		clause["should"] = queryMaps(q.Should)
	}
	if len(q.MustNot) > 0 {
		clause["must_not"] = queryMaps(q.MustNot)
	}
	if len(q.Filter) > 0 {
		clause["filter"] = queryMaps(q.Filter)
	}
	return map[string]interface{}{"bool": clause}
}

// Empty reports whether the bool query has no clauses at all.
func (q Bool) Empty() bool {
	return len(q.Must)+len(q.Should)+len(q.MustNot)+len(q.Filter) == 0
}

func queryMaps(queries []Query) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(queries))
	for _, q := range queries {
		out = append(out, q.Map())
	}
	return out
}

// MarshalQuery renders a query as JSON (tests and debug logging).
func MarshalQuery(q Query) ([]byte, error) {
	return json.Marshal(q.Map())
}
