// pkg/opencti/client.go

package opencti

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client talks to the OpenCTI GraphQL API.
type Client struct {
	url   string
	token string
	http  *retryablehttp.Client
	log   *zap.Logger
}

// Config holds the OpenCTI endpoint settings.
type Config struct {
	URL       string
	Token     string
	VerifyTLS bool
	Timeout   time.Duration
	RetryMax  int
}

// NewClient builds a GraphQL client.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, cerr.New("opencti: URL is required")
	}
	if cfg.Token == "" {
		return nil, cerr.New("opencti: token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
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

	return &Client{
		url:   strings.TrimRight(cfg.URL, "/"),
		token: cfg.Token,
		http:  rc,
		log:   log,
	}, nil
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return cerr.Wrap(err, "opencti: marshaling query")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return cerr.Wrap(err, "opencti: creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return cerr.Wrap(err, "opencti: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cerr.Newf("opencti: API returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return cerr.Wrap(err, "opencti: decoding response")
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return cerr.Newf("opencti: GraphQL errors: %s", strings.Join(messages, "; "))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return cerr.Wrap(err, "opencti: decoding data")
		}
	}
	return nil
}

const observableQuery = `query Observable($id: String!) {
  stixCyberObservable(id: $id) {
    id
    standard_id
    entity_type
    observable_value
    objectMarking {
      definition_type
      definition
    }
    indicators {
      edges {
        node {
          id
          standard_id
        }
      }
    }
    ... on StixFile {
      name
      size
      x_opencti_additional_names
      hashes { algorithm hash }
      parentDirectory { id }
    }
    ... on Artifact {
      hashes { algorithm hash }
    }
    ... on Directory { path }
    ... on IPv4Addr { value }
    ... on IPv6Addr { value }
    ... on MacAddr { value }
    ... on DomainName { value }
    ... on Hostname { value }
    ... on EmailAddr { value }
    ... on Url { value }
    ... on UserAgent { value }
    ... on UserAccount { account_login user_id }
    ... on Process { command_line }
    ... on WindowsRegistryKey { attribute_key }
    ... on WindowsRegistryValueType { data data_type }
    ... on NetworkTraffic {
      src_port
      dst_port
      src { id }
      dst { id }
    }
  }
}`

type gqlRef struct {
	ID string `json:"id"`
}

type gqlHash struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

type gqlMarking struct {
	DefinitionType string `json:"definition_type"`
	Definition     string `json:"definition"`
}

type gqlObservable struct {
	ID              string   `json:"id"`
	StandardID      string   `json:"standard_id"`
	EntityType      string   `json:"entity_type"`
	ObservableValue string   `json:"observable_value"`
	Value           string   `json:"value"`
	Name            string   `json:"name"`
	Size            *int64   `json:"size"`
	AdditionalNames []string  `json:"x_opencti_additional_names"`
	Hashes          []gqlHash `json:"hashes"`
	ParentDirectory *gqlRef   `json:"parentDirectory"`
	Path            string  `json:"path"`
	AttributeKey    string  `json:"attribute_key"`
	Data            string  `json:"data"`
	DataType        string  `json:"data_type"`
	CommandLine     string  `json:"command_line"`
	AccountLogin    string  `json:"account_login"`
	UserID          string  `json:"user_id"`
	SrcPort         *int    `json:"src_port"`
	DstPort         *int    `json:"dst_port"`
	Src             *gqlRef `json:"src"`
	Dst             *gqlRef `json:"dst"`

	ObjectMarking []gqlMarking `json:"objectMarking"`
	Indicators    struct {
		Edges []struct {
			Node struct {
				ID         string `json:"id"`
				StandardID string `json:"standard_id"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"indicators"`
}

func (g *gqlObservable) flatten() *Entity {
	e := &Entity{
		ID:              g.ID,
		StandardID:      g.StandardID,
		EntityType:      g.EntityType,
		ObservableValue: g.ObservableValue,
		Value:           g.Value,
		Name:            g.Name,
		Size:            g.Size,
		AdditionalNames: g.AdditionalNames,
		Path:            g.Path,
		Key:             g.AttributeKey,
		Data:            g.Data,
		DataType:        g.DataType,
		CommandLine:     g.CommandLine,
		AccountLogin:    g.AccountLogin,
		UserID:          g.UserID,
		SrcPort:         g.SrcPort,
		DstPort:         g.DstPort,
	}
	if len(g.Hashes) > 0 {
		e.Hashes = map[string]string{}
		for _, h := range g.Hashes {
			e.Hashes[h.Algorithm] = h.Hash
		}
	}
	if g.ParentDirectory != nil {
		e.ParentDirectoryRef = g.ParentDirectory.ID
	}
	if g.Src != nil {
		e.SrcRef = g.Src.ID
	}
	if g.Dst != nil {
		e.DstRef = g.Dst.ID
	}
	for _, m := range g.ObjectMarking {
		e.ObjectMarking = append(e.ObjectMarking, Marking{
			DefinitionType: m.DefinitionType,
			Definition:     m.Definition,
		})
	}
	for _, edge := range g.Indicators.Edges {
		e.Indicators = append(e.Indicators, Indicator{
			ID:         edge.Node.ID,
			StandardID: edge.Node.StandardID,
		})
	}
	return e
}

// Observable reads an observable by OpenCTI or STIX id. A nil entity means
// not found.
func (c *Client) Observable(ctx context.Context, id string) (*Entity, error) {
	var data struct {
		Observable *gqlObservable `json:"stixCyberObservable"`
	}
	if err := c.query(ctx, observableQuery, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Observable == nil {
		return nil, nil
	}
	return data.Observable.flatten(), nil
}

const vulnerabilityQuery = `query Vulnerability($id: String!) {
  vulnerability(id: $id) {
    id
    standard_id
    entity_type
    name
    objectMarking {
      definition_type
      definition
    }
  }
}`

// Vulnerability reads a vulnerability by id. A nil entity means not found.
func (c *Client) Vulnerability(ctx context.Context, id string) (*Entity, error) {
	var data struct {
		Vulnerability *struct {
			ID            string       `json:"id"`
			StandardID    string       `json:"standard_id"`
			EntityType    string       `json:"entity_type"`
			Name          string       `json:"name"`
			ObjectMarking []gqlMarking `json:"objectMarking"`
		} `json:"vulnerability"`
	}
	if err := c.query(ctx, vulnerabilityQuery, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Vulnerability == nil {
		return nil, nil
	}
	v := data.Vulnerability
	e := &Entity{
		ID:         v.ID,
		StandardID: v.StandardID,
		EntityType: v.EntityType,
		Name:       v.Name,
	}
	for _, m := range v.ObjectMarking {
		e.ObjectMarking = append(e.ObjectMarking, Marking{
			DefinitionType: m.DefinitionType,
			Definition:     m.Definition,
		})
	}
	return e, nil
}

// Entity reads an observable or a vulnerability depending on the STIX id
// prefix.
func (c *Client) Entity(ctx context.Context, id string) (*Entity, error) {
	if strings.HasPrefix(id, "vulnerability--") {
		return c.Vulnerability(ctx, id)
	}
	return c.Observable(ctx, id)
}

// QueueConfig is the broker configuration the platform hands out at
// connector registration.
type QueueConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	UseSSL        bool   `json:"use_ssl"`
	User          string `json:"user"`
	Pass          string `json:"pass"`
	Listen        string `json:"listen"`
	ListenRouting string `json:"listen_routing"`
	PushExchange  string `json:"push_exchange"`
}

// Registration is the platform's answer to connector registration.
type Registration struct {
	ID    string
	State string
	Queue QueueConfig
}

const registerMutation = `mutation RegisterConnector($input: RegisterConnectorInput) {
  registerConnector(input: $input) {
    id
    connector_state
    config {
      connection {
        host
        port
        use_ssl
        user
        pass
      }
      listen
      listen_routing
      push_exchange
    }
  }
}`

// ConnectorInfo describes this connector to the platform.
type ConnectorInfo struct {
	ID          string
	Name        string
	Type        string
	Scope       string
	AutoTrigger bool
}

// RegisterConnector announces the connector and retrieves its queue
// configuration.
func (c *Client) RegisterConnector(ctx context.Context, info ConnectorInfo) (*Registration, error) {
	var data struct {
		RegisterConnector struct {
			ID     string `json:"id"`
			State  string `json:"connector_state"`
			Config struct {
				Connection struct {
					Host   string `json:"host"`
					Port   int    `json:"port"`
					UseSSL bool   `json:"use_ssl"`
					User   string `json:"user"`
					Pass   string `json:"pass"`
				} `json:"connection"`
				Listen        string `json:"listen"`
				ListenRouting string `json:"listen_routing"`
				PushExchange  string `json:"push_exchange"`
			} `json:"config"`
		} `json:"registerConnector"`
	}
	input := map[string]interface{}{
		"id":              info.ID,
		"name":            info.Name,
		"type":            info.Type,
		"scope":           strings.Split(info.Scope, ","),
		"auto":            info.AutoTrigger,
		"only_contextual": false,
	}
	if err := c.query(ctx, registerMutation, map[string]interface{}{"input": input}, &data); err != nil {
		return nil, cerr.Wrap(err, "registering connector")
	}
	r := data.RegisterConnector
	return &Registration{
		ID:    r.ID,
		State: r.State,
		Queue: QueueConfig{
			Host:          r.Config.Connection.Host,
			Port:          r.Config.Connection.Port,
			UseSSL:        r.Config.Connection.UseSSL,
			User:          r.Config.Connection.User,
			Pass:          r.Config.Connection.Pass,
			Listen:        r.Config.Listen,
			ListenRouting: r.Config.ListenRouting,
			PushExchange:  r.Config.PushExchange,
		},
	}, nil
}

const pingMutation = `mutation PingConnector($id: ID!, $state: String) {
  pingConnector(id: $id, state: $state) {
    id
    connector_state
  }
}`

// Ping keeps the connector registration alive.
func (c *Client) Ping(ctx context.Context, connectorID, state string) error {
	return c.query(ctx, pingMutation, map[string]interface{}{
		"id":    connectorID,
		"state": state,
	}, nil)
}

const workToReceivedMutation = `mutation WorkToReceived($id: ID!, $message: String) {
  workEdit(id: $id) {
    toReceived(message: $message)
  }
}`

// WorkToReceived acknowledges that a work item has been picked up.
func (c *Client) WorkToReceived(ctx context.Context, workID, message string) error {
	if workID == "" {
		return nil
	}
	return c.query(ctx, workToReceivedMutation, map[string]interface{}{
		"id":      workID,
		"message": message,
	}, nil)
}

const workToProcessedMutation = `mutation WorkToProcessed($id: ID!, $message: String, $inError: Boolean) {
  workEdit(id: $id) {
    toProcessed(message: $message, inError: $inError)
  }
}`

// WorkToProcessed reports the outcome of a work item.
func (c *Client) WorkToProcessed(ctx context.Context, workID, message string, inError bool) error {
	if workID == "" {
		return nil
	}
	return c.query(ctx, workToProcessedMutation, map[string]interface{}{
		"id":      workID,
		"message": message,
		"inError": inError,
	}, nil)
}

// AMQPURL renders the broker URL for the registered queue configuration.
func (q QueueConfig) AMQPURL() string {
	scheme := "amqp"
	if q.UseSSL {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d", scheme, q.User, q.Pass, q.Host, q.Port)
}
