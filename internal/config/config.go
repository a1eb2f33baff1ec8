// Package config loads server configuration from flags and environment
// variables. Environment variables use the FIELDMARK_ prefix, e.g.
// FIELDMARK_PROJECT_ID; flags take precedence over the environment.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort        = 8080
	DefaultHost        = "0.0.0.0"
	DefaultRegion      = "us-central1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 16 * 1024 * 1024 // 16MB, matches the upload limit of the API

	DefaultTemplatesCollection = "templates"
	DefaultFormsCollection     = "filled_forms"
	DefaultDocumentsCollection = "documents"

	DefaultHighConfidence   = 0.9
	DefaultMediumConfidence = 0.7
)

// Config holds all configuration for the form server.
type Config struct {
	// Server
	Host        string
	Port        int
	LogLevel    string
	MaxFileSize int64

	// GCP
	ProjectID      string
	VertexAIRegion string

	// Buckets
	UploadBucket    string
	PagesBucket     string
	ArtifactsBucket string

	// Firestore collections
	TemplatesCollection string
	FormsCollection     string
	DocumentsCollection string

	// Optional post-ingest workflow hand-off
	WorkflowID       string
	WorkflowLocation string

	// E-signature export
	ESignBaseURL string
	ESignAPIKey  string

	// Visualization confidence tiers
	HighConfidenceThreshold   float64
	MediumConfidenceThreshold float64
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:                      DefaultHost,
		Port:                      DefaultPort,
		LogLevel:                  DefaultLogLevel,
		MaxFileSize:               DefaultMaxFileSize,
		VertexAIRegion:            DefaultRegion,
		WorkflowLocation:          DefaultRegion,
		TemplatesCollection:       DefaultTemplatesCollection,
		FormsCollection:           DefaultFormsCollection,
		DocumentsCollection:       DefaultDocumentsCollection,
		HighConfidenceThreshold:   DefaultHighConfidence,
		MediumConfidenceThreshold: DefaultMediumConfidence,
	}
}

// LoadFromFlags parses command line flags plus the environment and returns a
// validated configuration.
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setupEnvironment(v, cfg)

	fs := pflag.NewFlagSet("formserver", pflag.ContinueOnError)
	defineFlags(fs, cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	populate(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads configuration from the environment only. Used by the
// CloudEvent ingestor, which has no command line.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setupEnvironment(v, cfg)
	populate(v, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix("FIELDMARK")
	v.AutomaticEnv()

	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("maxfilesize", cfg.MaxFileSize)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("vertex_ai_region", cfg.VertexAIRegion)
	v.SetDefault("upload_bucket", cfg.UploadBucket)
	v.SetDefault("pages_bucket", cfg.PagesBucket)
	v.SetDefault("artifacts_bucket", cfg.ArtifactsBucket)
	v.SetDefault("templates_collection", cfg.TemplatesCollection)
	v.SetDefault("forms_collection", cfg.FormsCollection)
	v.SetDefault("documents_collection", cfg.DocumentsCollection)
	v.SetDefault("workflow_id", cfg.WorkflowID)
	v.SetDefault("workflow_location", cfg.WorkflowLocation)
	v.SetDefault("esign_base_url", cfg.ESignBaseURL)
	v.SetDefault("esign_api_key", cfg.ESignAPIKey)
	v.SetDefault("high_confidence", cfg.HighConfidenceThreshold)
	v.SetDefault("medium_confidence", cfg.MediumConfidenceThreshold)
}

func defineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("host", cfg.Host, "Server host address")
	fs.Int("port", cfg.Port, "Server port")
	fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF upload size in bytes")
	fs.String("project_id", cfg.ProjectID, "GCP project ID")
	fs.String("vertex_ai_region", cfg.VertexAIRegion, "Vertex AI region")
	fs.String("upload_bucket", cfg.UploadBucket, "Bucket for uploaded PDFs")
	fs.String("pages_bucket", cfg.PagesBucket, "Bucket for split page PDFs")
	fs.String("artifacts_bucket", cfg.ArtifactsBucket, "Bucket for filled PDFs and visualizations")
	fs.String("workflow_id", cfg.WorkflowID, "Optional workflow to trigger after ingest")
	fs.String("workflow_location", cfg.WorkflowLocation, "Workflow location")
	fs.String("esign_base_url", cfg.ESignBaseURL, "E-signature platform base URL")
	fs.String("esign_api_key", cfg.ESignAPIKey, "E-signature platform API key")
}

func populate(v *viper.Viper, cfg *Config) {
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.LogLevel = v.GetString("loglevel")
	cfg.MaxFileSize = v.GetInt64("maxfilesize")
	cfg.ProjectID = v.GetString("project_id")
	cfg.VertexAIRegion = v.GetString("vertex_ai_region")
	cfg.UploadBucket = v.GetString("upload_bucket")
	cfg.PagesBucket = v.GetString("pages_bucket")
	cfg.ArtifactsBucket = v.GetString("artifacts_bucket")
	cfg.TemplatesCollection = v.GetString("templates_collection")
	cfg.FormsCollection = v.GetString("forms_collection")
	cfg.DocumentsCollection = v.GetString("documents_collection")
	cfg.WorkflowID = v.GetString("workflow_id")
	cfg.WorkflowLocation = v.GetString("workflow_location")
	cfg.ESignBaseURL = v.GetString("esign_base_url")
	cfg.ESignAPIKey = v.GetString("esign_api_key")
	cfg.HighConfidenceThreshold = v.GetFloat64("high_confidence")
	cfg.MediumConfidenceThreshold = v.GetFloat64("medium_confidence")
}

// Validate checks the configuration for required values and consistency.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id must be set")
	}
	if c.UploadBucket == "" || c.PagesBucket == "" || c.ArtifactsBucket == "" {
		return fmt.Errorf("upload_bucket, pages_bucket and artifacts_bucket must all be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in (0, 65535], got %d", c.Port)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("maxfilesize must be positive, got %d", c.MaxFileSize)
	}
	if c.MediumConfidenceThreshold > c.HighConfidenceThreshold {
		return fmt.Errorf("medium_confidence (%g) must not exceed high_confidence (%g)",
			c.MediumConfidenceThreshold, c.HighConfidenceThreshold)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
