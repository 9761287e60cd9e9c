// pkg/config/config.go

package config

import (
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connerr"
)

// Config is the complete connector configuration, sourced from environment
// variables (and optionally a config.yml). Env names follow the deployment
// contract: OPENCTI_*, CONNECTOR_* and WAZUH_*.
type Config struct {
	OpenCTI   OpenCTI   `mapstructure:"opencti"`
	Connector Connector `mapstructure:"connector"`
	Wazuh     Wazuh     `mapstructure:"wazuh"`
}

// OpenCTI holds the platform API settings.
type OpenCTI struct {
	URL       string `mapstructure:"url" validate:"required,url"`
	Token     string `mapstructure:"token" validate:"required"`
	SSLVerify bool   `mapstructure:"ssl_verify"`
}

// Connector holds the connector's registration and runtime settings.
type Connector struct {
	ID              string        `mapstructure:"id" validate:"required,uuid"`
	Name            string        `mapstructure:"name" validate:"required"`
	Scope           string        `mapstructure:"scope" validate:"required"`
	AutoTrigger     bool          `mapstructure:"auto"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	ConfidenceLevel int           `mapstructure:"confidence_level" validate:"min=0,max=100"`
	QueueThreshold  int           `mapstructure:"queue_threshold" validate:"min=0"`
	Workers         int           `mapstructure:"workers" validate:"min=1,max=64"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	DedupRedisURL   string        `mapstructure:"dedup_redis_url"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

// Wazuh holds everything about the SIEM side: the OpenSearch endpoint and
// the enrichment behavior toggles.
type Wazuh struct {
	OpenSearch OpenSearch `mapstructure:"opensearch"`

	AppURL string `mapstructure:"app_url" validate:"required,url"`
	MaxTLP string `mapstructure:"max_tlp" validate:"required"`
	// Comma-separated TLP names attached as markings to all created objects.
	TLPs string `mapstructure:"tlps"`

	SystemName      string `mapstructure:"system_name" validate:"required"`
	AgentsAsSystems bool   `mapstructure:"agents_as_systems"`
	SearchAgentIP   bool   `mapstructure:"search_agent_ip"`
	SearchAgentName bool   `mapstructure:"search_agent_name"`

	IgnorePrivateAddrs        bool   `mapstructure:"ignore_private_addrs"`
	CreateObservableSightings bool   `mapstructure:"create_observable_sightings"`
	AlertsAsNotes             bool   `mapstructure:"alerts_as_notes"`
	IncidentRequireIndicator  bool   `mapstructure:"incident_require_indicator"`
	IncidentCreateMode        string `mapstructure:"incident_create_mode" validate:"oneof=per_query per_sighting per_alert per_alert_rule"`

	SightingMaxExtRefs        int  `mapstructure:"sighting_max_extrefs" validate:"min=0"`
	SightingMaxExtRefsPerRule int  `mapstructure:"sighting_max_extrefs_per_alert_rule" validate:"min=0"`
	SightingMaxNotes          int  `mapstructure:"sighting_max_notes" validate:"min=0"`
	SightingMaxNotesPerRule   int  `mapstructure:"sighting_max_notes_per_alert_rule" validate:"min=0"`
	SightingSummaryNote       bool `mapstructure:"sighting_summary_note"`

	CreateAgentIPObservable       bool `mapstructure:"create_agent_ip_observable"`
	CreateAgentHostnameObservable bool `mapstructure:"create_agent_hostname_observable"`

	// Comma-separated FileSearchOption names; see pkg/search.
	FileSearchOptions string `mapstructure:"file_search_options"`
	// Comma-separated filename behaviours: create-dir, remove-path.
	FilenameBehaviour string `mapstructure:"filename_behaviour"`
}

// OpenSearch holds the alert index endpoint settings.
type OpenSearch struct {
	URL       string `mapstructure:"url" validate:"required,url"`
	Username  string `mapstructure:"username" validate:"required"`
	Password  string `mapstructure:"password" validate:"required"`
	VerifyTLS bool   `mapstructure:"verify_tls"`
	Index     string `mapstructure:"index" validate:"required"`
	Limit     int    `mapstructure:"limit" validate:"min=1,max=10000"`
	// Only search alerts newer than this timestamp (RFC 3339 or YYYY-MM-DD).
	SearchAfter string `mapstructure:"search_after"`
	// Additional "field=value" match filters, comma-separated.
	IncludeMatch string `mapstructure:"include_match"`
	ExcludeMatch string `mapstructure:"exclude_match"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("opencti.url", "")
	v.SetDefault("opencti.token", "")
	v.SetDefault("opencti.ssl_verify", true)

	v.SetDefault("connector.id", "")
	v.SetDefault("connector.name", "Wazuh")
	v.SetDefault("connector.scope", "")
	v.SetDefault("connector.auto", true)
	v.SetDefault("connector.log_level", "info")
	v.SetDefault("connector.confidence_level", 80)
	v.SetDefault("connector.queue_threshold", 500)
	v.SetDefault("connector.workers", 1)
	v.SetDefault("connector.metrics_addr", "")
	v.SetDefault("connector.dedup_redis_url", "")
	v.SetDefault("connector.dedup_ttl", 10*time.Minute)

	v.SetDefault("wazuh.opensearch.url", "")
	v.SetDefault("wazuh.opensearch.username", "")
	v.SetDefault("wazuh.opensearch.password", "")
	v.SetDefault("wazuh.opensearch.verify_tls", true)
	v.SetDefault("wazuh.opensearch.index", "wazuh-alerts-*")
	v.SetDefault("wazuh.opensearch.limit", 10)
	v.SetDefault("wazuh.opensearch.search_after", "")
	v.SetDefault("wazuh.opensearch.include_match", "")
	v.SetDefault("wazuh.opensearch.exclude_match", "data.integration=opencti")

	v.SetDefault("wazuh.app_url", "")
	v.SetDefault("wazuh.max_tlp", "")
	v.SetDefault("wazuh.tlps", "")
	v.SetDefault("wazuh.system_name", "Wazuh SIEM")
	v.SetDefault("wazuh.agents_as_systems", true)
	v.SetDefault("wazuh.search_agent_ip", false)
	v.SetDefault("wazuh.search_agent_name", false)
	v.SetDefault("wazuh.ignore_private_addrs", true)
	v.SetDefault("wazuh.create_observable_sightings", true)
	v.SetDefault("wazuh.alerts_as_notes", true)
	v.SetDefault("wazuh.incident_require_indicator", true)
	v.SetDefault("wazuh.incident_create_mode", "per_sighting")
	v.SetDefault("wazuh.sighting_max_extrefs", 10)
	v.SetDefault("wazuh.sighting_max_extrefs_per_alert_rule", 1)
	v.SetDefault("wazuh.sighting_max_notes", 10)
	v.SetDefault("wazuh.sighting_max_notes_per_alert_rule", 1)
	v.SetDefault("wazuh.sighting_summary_note", true)
	v.SetDefault("wazuh.create_agent_ip_observable", false)
	v.SetDefault("wazuh.create_agent_hostname_observable", false)
	v.SetDefault("wazuh.file_search_options",
		"search-size,search-additional-filenames,include-parent-dir-ref,search-filename-only,allow-regexp,case-insensitive")
	v.SetDefault("wazuh.filename_behaviour", "create-dir")
}

// Load reads configuration from the environment and an optional config.yml
// in the working directory, applies defaults and validates the result.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path (tests).
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, connerr.WrapConfigError(cerr.Wrap(err, "reading config file"))
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// A config file is optional; env-only deployments are the norm.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !cerr.As(err, &notFound) {
				return nil, connerr.WrapConfigError(cerr.Wrap(err, "reading config file"))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, connerr.WrapConfigError(cerr.Wrap(err, "unmarshaling config"))
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints and cross-field coherence.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return connerr.WrapConfigError(cerr.Wrap(err, "validating config"))
	}
	if _, err := ParseMatchPatterns(cfg.Wazuh.OpenSearch.IncludeMatch); err != nil {
		return connerr.WrapConfigError(err)
	}
	if _, err := ParseMatchPatterns(cfg.Wazuh.OpenSearch.ExcludeMatch); err != nil {
		return connerr.WrapConfigError(err)
	}
	if _, err := ParseSearchAfter(cfg.Wazuh.OpenSearch.SearchAfter); err != nil {
		return connerr.WrapConfigError(err)
	}
	return nil
}

// MatchPattern is a single field=value match filter.
type MatchPattern struct {
	Field string
	Value string
}

// ParseMatchPatterns parses "foo=bar,baz=qux" into match patterns. An empty
// string yields nil.
func ParseMatchPatterns(patterns string) ([]MatchPattern, error) {
	if patterns == "" {
		return nil, nil
	}
	var out []MatchPattern
	for _, pair := range strings.Split(patterns, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, cerr.Newf("invalid match pattern %q: want field=value", pair)
		}
		out = append(out, MatchPattern{Field: kv[0], Value: kv[1]})
	}
	return out, nil
}

// ParseSearchAfter parses the search-after timestamp. An empty string yields
// a zero time.
func ParseSearchAfter(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, cerr.Newf("cannot parse search-after timestamp %q", value)
}

// SplitList splits a comma-separated list, trimming whitespace and dropping
// empty elements.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
