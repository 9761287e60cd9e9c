// pkg/opensearch/client.go

package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MatchFilter is a field=value match applied to every search, either as an
// include (must) or exclude (must_not) clause.
type MatchFilter struct {
	Field string
	Value string
}

// Config holds the OpenSearch endpoint and search window settings.
type Config struct {
	URL       string
	Username  string
	Password  string
	VerifyTLS bool
	Index     string
	Limit     int
	// Only alerts at or after this time are searched. Zero disables.
	SearchAfter  time.Time
	IncludeMatch []MatchFilter
	ExcludeMatch []MatchFilter

	Timeout           time.Duration
	RetryMax          int
	RequestsPerSecond float64
	Burst             int
}

// Client queries a Wazuh alert index over the OpenSearch HTTP API. Calls go
// through a client-side rate limiter and a circuit breaker so that a sick
// indexer does not take the whole connector down with it.
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

// Result is the subset of the _search response the connector consumes.
type Result struct {
	Took     int      `json:"took"`
	TimedOut bool     `json:"timed_out"`
	Hits     HitsInfo `json:"hits"`
}

// HitsInfo carries the hit list and total counters.
type HitsInfo struct {
	Total Total `json:"total"`
	Hits  []Hit `json:"hits"`
}

// Total is the (possibly approximate) total hit count.
type Total struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// Hit is a single raw document hit.
type Hit struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Source json.RawMessage `json:"_source"`
}

// Dropped reports how many matching documents were not returned due to the
// configured hit limit.
func (r *Result) Dropped() int {
	return r.Hits.Total.Value - len(r.Hits.Hits)
}

// NewClient builds a Client from config, applying conservative defaults for
// unset tunables.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, cerr.New("opensearch: URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, cerr.Wrap(err, "opensearch: invalid URL")
	}
	if cfg.Index == "" {
		cfg.Index = "wazuh-alerts-*"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "opensearch",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("OpenSearch circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    rc,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     log,
	}, nil
}

// Search runs a bool query against the alert index. The configured
// search-after window and include/exclude match filters are merged into the
// query. Hits are sorted newest first and capped at the configured limit.
func (c *Client) Search(ctx context.Context, query Bool) (*Result, error) {
	if !c.cfg.SearchAfter.IsZero() {
		query.Filter = append(query.Filter, Range{
			Field: "@timestamp",
			Gte:   c.cfg.SearchAfter.UTC().Format(time.RFC3339),
		})
	}
	for _, m := range c.cfg.IncludeMatch {
		query.Must = append(query.Must, Match{Field: m.Field, Query: m.Value})
	}
	for _, m := range c.cfg.ExcludeMatch {
		query.MustNot = append(query.MustNot, Match{Field: m.Field, Query: m.Value})
	}

	body := map[string]interface{}{
		"query": query.Map(),
		"size":  c.cfg.Limit,
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, cerr.Wrap(err, "opensearch: rate limiter")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doSearch(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

// SearchMulti matches a single value across several fields.
func (c *Client) SearchMulti(ctx context.Context, fields []string, value string) (*Result, error) {
	return c.Search(ctx, Bool{
		Must: []Query{MultiMatch{Query: value, Fields: fields}},
	})
}

// SearchMatch requires every field=value pair to match.
func (c *Client) SearchMatch(ctx context.Context, pairs map[string]string) (*Result, error) {
	var must []Query
	for field, value := range pairs {
		must = append(must, Match{Field: field, Query: value})
	}
	return c.Search(ctx, Bool{Must: must})
}

// SearchMultiRegex runs the same regexp against several concrete fields,
// any of which may match.
func (c *Client) SearchMultiRegex(ctx context.Context, fields []string, regexp string, caseInsensitive bool) (*Result, error) {
	var should []Query
	for _, field := range fields {
		should = append(should, Regexp{Field: field, Query: regexp, CaseInsensitive: caseInsensitive})
	}
	return c.Search(ctx, Bool{Should: should})
}

func (c *Client) doSearch(ctx context.Context, body map[string]interface{}) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, cerr.Wrap(err, "opensearch: marshaling query")
	}

	endpoint := fmt.Sprintf("%s/%s/_search", c.cfg.URL, c.cfg.Index)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, cerr.Wrap(err, "opensearch: creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	c.log.Debug("OpenSearch query", zap.ByteString("body", payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cerr.Wrap(err, "opensearch: search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, cerr.Newf("opensearch: search returned %d: %s", resp.StatusCode, string(snippet))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerr.Wrap(err, "opensearch: decoding response")
	}

	c.log.Debug("OpenSearch result",
		zap.Int("took_ms", result.Took),
		zap.Int("hits", len(result.Hits.Hits)),
		zap.Int("total", result.Hits.Total.Value))

	return &result, nil
}
