package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// AdapterConfig names an adapter kind and its kind-specific settings.
// Settings are decoded into one of the *Settings types below by the adapter
// factory for Kind.
type AdapterConfig struct {
	Kind     string                 `yaml:"kind" json:"kind" mapstructure:"kind"`
	Settings map[string]interface{} `yaml:"settings" json:"settings" mapstructure:"settings"`
}

// FileSettings configures the local file adapter
type FileSettings struct {
	BaseDir     string `mapstructure:"base_dir"`
	Format      string `mapstructure:"format"`      // csv, json, jsonl, avro
	Compression string `mapstructure:"compression"` // none, gzip, zstd, lz4
}

// S3Settings configures the S3 object adapter
type S3Settings struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	Prefix       string `mapstructure:"prefix"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	Format       string `mapstructure:"format"`
	Compression  string `mapstructure:"compression"`
}

// OAuthSettings configures client-credentials authentication
type OAuthSettings struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// HTTPSettings configures the HTTP API adapter
type HTTPSettings struct {
	BaseURL          string            `mapstructure:"base_url"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	MaxRetries       uint64            `mapstructure:"max_retries"`
	Headers          map[string]string `mapstructure:"headers"`
	OAuth            *OAuthSettings    `mapstructure:"oauth"`
	BreakerThreshold uint32            `mapstructure:"breaker_threshold"`
	HTTP2            bool              `mapstructure:"http2"`
	// RateLimit caps requests per second to the endpoint (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// SQLSettings configures the relational adapter
type SQLSettings struct {
	// Tenant is the connection pool tenant key the adapter checks sessions out of
	Tenant string `mapstructure:"tenant"`
}

// MongoSettings configures the MongoDB adapter
type MongoSettings struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaSettings configures the Kafka record adapter
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// Decode decodes loosely typed settings into out. Strings are accepted for
// numbers, booleans and durations so settings can come from env-substituted YAML.
func Decode(settings map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build settings decoder: %w", err)
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("failed to decode adapter settings: %w", err)
	}
	return nil
}
