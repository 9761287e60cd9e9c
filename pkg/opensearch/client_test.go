// pkg/opensearch/client_test.go

package opensearch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleResponse = `{
	"took": 7,
	"timed_out": false,
	"hits": {
		"total": {"value": 42, "relation": "eq"},
		"hits": [
			{"_id": "abc123", "_index": "wazuh-alerts-4.x-2024.03.01",
			 "_source": {"@timestamp": "2024-03-01T10:00:00.000Z", "rule": {"id": "5710", "level": 5, "description": "sshd: attempt"}}}
		]
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		URL:      srv.URL,
		Username: "cti_connector",
		Password: "hunter2",
		Index:    "wazuh-alerts-*",
		Limit:    10,
		RetryMax: 1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestSearchSendsExpectedRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(sampleResponse))
	}, nil)

	result, err := client.SearchMulti(context.Background(), []string{"*.src_ip"}, "198.51.100.7")
	require.NoError(t, err)

	assert.Equal(t, "/wazuh-alerts-*/_search", gotPath)
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("cti_connector:hunter2"))
	assert.Equal(t, wantAuth, gotAuth)

	assert.EqualValues(t, 10, gotBody["size"])
	assert.Contains(t, gotBody, "sort")
	assert.Contains(t, gotBody, "query")

	require.Len(t, result.Hits.Hits, 1)
	assert.Equal(t, "abc123", result.Hits.Hits[0].ID)
	assert.Equal(t, 42, result.Hits.Total.Value)
	assert.Equal(t, 41, result.Dropped())
}

func TestSearchMergesWindowAndFilters(t *testing.T) {
	var gotBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(sampleResponse))
	}, func(cfg *Config) {
		cfg.SearchAfter = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		cfg.IncludeMatch = []MatchFilter{{Field: "rule.groups", Value: "audit"}}
		cfg.ExcludeMatch = []MatchFilter{{Field: "data.integration", Value: "opencti"}}
	})

	_, err := client.Search(context.Background(), Bool{
		Must: []Query{Match{Field: "a", Query: "b"}},
	})
	require.NoError(t, err)

	boolClause := gotBody["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.Len(t, boolClause["must"], 2, "given must plus include filter")
	assert.Len(t, boolClause["must_not"], 1, "exclude filter")
	require.Len(t, boolClause["filter"], 1, "search-after range")

	rangeClause := boolClause["filter"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, rangeClause, "range")
}

func TestSearchHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "index_not_found_exception"}`, http.StatusNotFound)
	}, nil)

	_, err := client.Search(context.Background(), Bool{Must: []Query{Match{Field: "a", Query: "b"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSearchBadJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}, nil)

	_, err := client.Search(context.Background(), Bool{Must: []Query{Match{Field: "a", Query: "b"}}})
	require.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, zap.NewNop())
	require.Error(t, err)
}
