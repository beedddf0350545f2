package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version" validate:"required"`
	Server       *ServerConfig       `yaml:"server" json:"server"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger"`
	Store        *StoreConfig        `yaml:"store" json:"store"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache"`
	Invalidation *InvalidationConfig `yaml:"invalidation" json:"invalidation"`
	Broadcast    *BroadcastConfig    `yaml:"broadcast" json:"broadcast"`
	Monitor      *MonitorConfig      `yaml:"monitor" json:"monitor"`
	Cron         *CronConfig         `yaml:"cron" json:"cron"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Health       *HealthConfig       `yaml:"health" json:"health"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
	Auth *AuthConfig `yaml:"auth" json:"auth"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	CertFile      string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile       string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert      bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains       []string `yaml:"domains,omitempty" json:"domains,omitempty"`
	Email         string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir      string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	ACMEDirectory string   `yaml:"acme_directory,omitempty" json:"acme_directory,omitempty"`
}

// AuthConfig holds the shared-secret bearer token admin endpoints require.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type      string      `yaml:"type" json:"type" validate:"required"`
	Namespace string      `yaml:"namespace" json:"namespace"`
	Config    interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	MetadataGrace time.Duration `yaml:"metadata_grace" json:"metadata_grace"`
	MaxListKeys   int           `yaml:"max_list_keys" json:"max_list_keys"`
	WarmKeys      []string      `yaml:"warm_keys" json:"warm_keys"`
}

type InvalidationConfig struct {
	MaxItems      int           `yaml:"max_items" json:"max_items"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	DeleteRate    float64       `yaml:"delete_rate" json:"delete_rate"`
	Queue         *QueueConfig  `yaml:"queue" json:"queue"`
}

type QueueConfig struct {
	BatchSize          int           `yaml:"batch_size" json:"batch_size"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	OverloadThreshold  int           `yaml:"overload_threshold" json:"overload_threshold"`
	CompletedRetention time.Duration `yaml:"completed_retention" json:"completed_retention"`
}

type BroadcastConfig struct {
	Enabled       bool        `yaml:"enabled" json:"enabled"`
	Type          string      `yaml:"type" json:"type"`
	Channels      []string    `yaml:"channels" json:"channels"`
	WebhookURL    string      `yaml:"webhook_url" json:"webhook_url"`
	WebhookSecret string      `yaml:"webhook_secret" json:"webhook_secret"`
	Config        interface{} `yaml:"config" json:"config"`
}

type MonitorConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	RealtimeSize  int           `yaml:"realtime_size" json:"realtime_size"`
	RealtimeTTL   time.Duration `yaml:"realtime_ttl" json:"realtime_ttl"`
	StoragePath   string        `yaml:"storage_path" json:"storage_path"`
	RetentionDays int           `yaml:"retention_days" json:"retention_days"`
}

type CronConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Timezone    string `yaml:"timezone" json:"timezone"`
	QueueSpec   string `yaml:"queue_spec" json:"queue_spec"`
	RetrySpec   string `yaml:"retry_spec" json:"retry_spec"`
	CleanupSpec string `yaml:"cleanup_spec" json:"cleanup_spec"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type"`
	Prefix  string            `yaml:"prefix" json:"prefix"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	Config  interface{}       `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}
