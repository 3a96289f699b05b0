// Package config loads and validates portal configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/workspace-portal/internal/services"
)

// Storage backends for bucket listings.
const (
	StorageREST = "rest"
	StorageGCS  = "gcs"
)

// Config captures all portal configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Services  ServicesConfig  `mapstructure:"services"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Overrides OverridesConfig `mapstructure:"overrides"`
	Explorer  ExplorerConfig  `mapstructure:"explorer"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig carries the user's bearer token for backend calls.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServicesConfig holds backend base URLs and portal identifiers.
type ServicesConfig struct {
	SamURL              string `mapstructure:"sam_url"`
	RawlsURL            string `mapstructure:"rawls_url"`
	LeoURL              string `mapstructure:"leo_url"`
	DockstoreURL        string `mapstructure:"dockstore_url"`
	AgoraURL            string `mapstructure:"agora_url"`
	OrchestrationURL    string `mapstructure:"orchestration_url"`
	RexURL              string `mapstructure:"rex_url"`
	BondURL             string `mapstructure:"bond_url"`
	MarthaURL           string `mapstructure:"martha_url"`
	CalhounURL          string `mapstructure:"calhoun_url"`
	TosURL              string `mapstructure:"tos_url"`
	FirecloudBucketRoot string `mapstructure:"firecloud_bucket_root"`
	GoogleStorageURL    string `mapstructure:"google_storage_url"`
	GoogleBillingURL    string `mapstructure:"google_billing_url"`
	AppID               string `mapstructure:"app_id"`
	GoogleClientID      string `mapstructure:"google_client_id"`
	JupyterExtensionURL string `mapstructure:"jupyter_extension_url"`
	ClusterVersion      string `mapstructure:"cluster_version"`
}

// SessionConfig seeds the session store.
type SessionConfig struct {
	RequesterPaysProject string `mapstructure:"requester_pays_project"`
}

// StorageConfig selects how bucket listings are served.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	// Endpoint points the native client at an emulator.
	Endpoint string `mapstructure:"endpoint"`
}

// PubSubConfig holds the audit event topic. An empty project keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// OverridesConfig points at the override rules file. Empty disables overrides.
type OverridesConfig struct {
	File string `mapstructure:"file"`
}

// ExplorerConfig adds or replaces Data Explorer origins. Datasets are a list because Viper
// lower-cases map keys and dataset names are case-sensitive.
type ExplorerConfig struct {
	Datasets []ExplorerDataset `mapstructure:"datasets"`
}

// ExplorerDataset maps one dataset name to its explorer origin.
type ExplorerDataset struct {
	Name   string `mapstructure:"name"`
	Origin string `mapstructure:"origin"`
}

// Origins returns the configured datasets keyed by name.
func (e ExplorerConfig) Origins() map[string]string {
	out := make(map[string]string, len(e.Datasets))
	for _, d := range e.Datasets {
		out[d.Name] = d.Origin
	}
	return out
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.token", "")
	v.SetDefault("http.timeout_seconds", 30)
	for _, key := range []string{
		"sam_url", "rawls_url", "leo_url", "dockstore_url", "agora_url", "orchestration_url",
		"rex_url", "bond_url", "martha_url", "calhoun_url", "tos_url", "firecloud_bucket_root",
		"google_client_id", "jupyter_extension_url",
	} {
		v.SetDefault("services."+key, "")
	}
	v.SetDefault("services.google_storage_url", services.DefaultGoogleStorageURL)
	v.SetDefault("services.google_billing_url", services.DefaultGoogleBillingURL)
	v.SetDefault("services.app_id", "Saturn")
	v.SetDefault("services.cluster_version", "")
	v.SetDefault("session.requester_pays_project", "")
	v.SetDefault("storage.backend", StorageREST)
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "portal-events")
	v.SetDefault("overrides.file", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case StorageREST, StorageGCS:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageREST, StorageGCS, c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	for key, raw := range c.Services.urls() {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("services.%s must be an absolute URL, got %q", key, raw)
		}
	}
	for i, d := range c.Explorer.Datasets {
		if d.Name == "" || d.Origin == "" {
			return fmt.Errorf("explorer.datasets[%d] needs a name and an origin", i)
		}
	}
	return nil
}

func (s ServicesConfig) urls() map[string]string {
	return map[string]string{
		"sam_url":               s.SamURL,
		"rawls_url":             s.RawlsURL,
		"leo_url":               s.LeoURL,
		"dockstore_url":         s.DockstoreURL,
		"agora_url":             s.AgoraURL,
		"orchestration_url":     s.OrchestrationURL,
		"rex_url":               s.RexURL,
		"bond_url":              s.BondURL,
		"martha_url":            s.MarthaURL,
		"calhoun_url":           s.CalhounURL,
		"tos_url":               s.TosURL,
		"firecloud_bucket_root": s.FirecloudBucketRoot,
		"google_storage_url":    s.GoogleStorageURL,
		"google_billing_url":    s.GoogleBillingURL,
	}
}

// ServiceURLs converts the services section for the backend façades.
func (c Config) ServiceURLs() services.Config {
	s := c.Services
	return services.Config{
		SamURL:              s.SamURL,
		RawlsURL:            s.RawlsURL,
		LeoURL:              s.LeoURL,
		DockstoreURL:        s.DockstoreURL,
		AgoraURL:            s.AgoraURL,
		OrchestrationURL:    s.OrchestrationURL,
		RexURL:              s.RexURL,
		BondURL:             s.BondURL,
		MarthaURL:           s.MarthaURL,
		CalhounURL:          s.CalhounURL,
		TosURL:              s.TosURL,
		FirecloudBucketRoot: s.FirecloudBucketRoot,
		GoogleStorageURL:    s.GoogleStorageURL,
		GoogleBillingURL:    s.GoogleBillingURL,
		AppID:               s.AppID,
		GoogleClientID:      s.GoogleClientID,
		JupyterExtensionURL: s.JupyterExtensionURL,
		ClusterVersion:      s.ClusterVersion,
	}
}

// HTTPTimeout converts the HTTP timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
