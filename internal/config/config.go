// SPDX-License-Identifier: Apache-2.0

// Package config loads registry-review settings from a YAML file and
// REVIEW_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: REVIEW_ORACLE_TRANSPORT
// sets oracle.transport.
const EnvPrefix = "REVIEW"

// Config is the complete registry-review configuration.
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Mapping      MappingConfig      `mapstructure:"mapping"`
	Extraction   ExtractionConfig   `mapstructure:"extraction"`
	Verification VerificationConfig `mapstructure:"verification"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Log          LogConfig          `mapstructure:"log"`
}

// StorageConfig configures the badger artifact store.
type StorageConfig struct {
	Path     string `mapstructure:"path" validate:"required_without=InMemory"`
	InMemory bool   `mapstructure:"in_memory"`
}

// CatalogConfig points at catalogs loaded in addition to the embedded ones.
type CatalogConfig struct {
	Dir string `mapstructure:"dir"`
}

// DiscoveryConfig controls which files of a source folder become documents.
type DiscoveryConfig struct {
	Include      []string `mapstructure:"include" validate:"min=1"`
	Exclude      []string `mapstructure:"exclude"`
	MaxFileBytes int64    `mapstructure:"max_file_bytes" validate:"gt=0"`
}

// MappingConfig tunes the requirement mapper.
type MappingConfig struct {
	MaxCandidates int `mapstructure:"max_candidates" validate:"gt=0"`
	MaxKeywords   int `mapstructure:"max_keywords" validate:"gt=0"`
	Concurrency   int `mapstructure:"concurrency" validate:"gt=0"`
}

// ExtractionConfig tunes snippet windows and oracle use during extraction.
type ExtractionConfig struct {
	WindowWords               int  `mapstructure:"window_words" validate:"gt=0"`
	MaxSnippetChars           int  `mapstructure:"max_snippet_chars" validate:"gte=40"`
	MaxSnippetsPerDocument    int  `mapstructure:"max_snippets_per_document" validate:"gt=0"`
	MaxSnippetsPerRequirement int  `mapstructure:"max_snippets_per_requirement" validate:"gt=0"`
	Concurrency               int  `mapstructure:"concurrency" validate:"gt=0"`
	UseOracle                 bool `mapstructure:"use_oracle"`
	OracleExcerptChars        int  `mapstructure:"oracle_excerpt_chars" validate:"gt=0"`
}

// VerificationConfig holds the citation verification policy constants.
type VerificationConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
	VerifiedConfidence  float64 `mapstructure:"verified_confidence" validate:"gt=0,lte=1"`
	PenalizedConfidence float64 `mapstructure:"penalized_confidence" validate:"gt=0,lte=1,ltefield=VerifiedConfidence"`
}

// DatePair declares two date fields that must lie within MaxDays of each other.
type DatePair struct {
	First   string `mapstructure:"first" validate:"required"`
	Second  string `mapstructure:"second" validate:"required"`
	MaxDays int    `mapstructure:"max_days" validate:"gt=0"`
}

// ValidationConfig tunes the cross-validator.
type ValidationConfig struct {
	DatePairs         []DatePair `mapstructure:"date_pairs" validate:"dive"`
	AreaTolerance     float64    `mapstructure:"area_tolerance" validate:"gte=0,lt=1"`
	IdentifierFormats []string   `mapstructure:"identifier_formats" validate:"min=1"`
	LLMMinChecks      int        `mapstructure:"llm_min_checks" validate:"gte=0"`
}

// OracleConfig selects and tunes the text-completion transports.
type OracleConfig struct {
	Transport         string        `mapstructure:"transport" validate:"oneof=auto api cli none"`
	API               APIConfig     `mapstructure:"api"`
	CLI               CLIConfig     `mapstructure:"cli"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

// APIConfig configures the hosted API transport.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model" validate:"required"`
	KeyEnv  string `mapstructure:"key_env" validate:"required"`
}

// CLIConfig configures the subprocess transport.
type CLIConfig struct {
	Command string   `mapstructure:"command" validate:"required"`
	Args    []string `mapstructure:"args"`
}

// RetryConfig configures backoff for transient oracle failures.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gt=0"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"gte=1"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gtefield=BackoffBase"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Default returns a Config with every value set.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: ".registry-review/data"},
		Discovery: DiscoveryConfig{
			Include:      []string{"**/*"},
			Exclude:      []string{"**/.*", "**/.*/**", "**/~$*"},
			MaxFileBytes: 100 << 20,
		},
		Mapping: MappingConfig{
			MaxCandidates: 5,
			MaxKeywords:   20,
			Concurrency:   8,
		},
		Extraction: ExtractionConfig{
			WindowWords:               40,
			MaxSnippetChars:           600,
			MaxSnippetsPerDocument:    3,
			MaxSnippetsPerRequirement: 10,
			Concurrency:               4,
			UseOracle:                 false,
			OracleExcerptChars:        12000,
		},
		Verification: VerificationConfig{
			SimilarityThreshold: 0.75,
			VerifiedConfidence:  0.95,
			PenalizedConfidence: 0.65,
		},
		Validation: ValidationConfig{
			DatePairs: []DatePair{
				{First: "imagery_date", Second: "sampling_date", MaxDays: 120},
			},
			AreaTolerance: 0.01,
			IdentifierFormats: []string{
				`^[A-Z]{1,4}[0-9]{0,3}-[0-9]{3,6}$`,
			},
			LLMMinChecks: 1,
		},
		Oracle: OracleConfig{
			Transport: "auto",
			API: APIConfig{
				Model:  "gpt-4o-mini",
				KeyEnv: "OPENAI_API_KEY",
			},
			CLI: CLIConfig{
				Command: "claude",
				Args:    []string{"-p", "--output-format", "json"},
			},
			Timeout:           3 * time.Minute,
			RequestsPerSecond: 2,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffBase:       2 * time.Second,
				BackoffMultiplier: 2.0,
				MaxBackoff:        30 * time.Second,
			},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks struct constraints and that identifier formats compile.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads configuration from path, or from registry-review.yaml in the
// working directory when path is empty. A missing default file is not an
// error; defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("registry-review")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("catalog.dir", d.Catalog.Dir)
	v.SetDefault("discovery.include", d.Discovery.Include)
	v.SetDefault("discovery.exclude", d.Discovery.Exclude)
	v.SetDefault("discovery.max_file_bytes", d.Discovery.MaxFileBytes)
	v.SetDefault("mapping.max_candidates", d.Mapping.MaxCandidates)
	v.SetDefault("mapping.max_keywords", d.Mapping.MaxKeywords)
	v.SetDefault("mapping.concurrency", d.Mapping.Concurrency)
	v.SetDefault("extraction.window_words", d.Extraction.WindowWords)
	v.SetDefault("extraction.max_snippet_chars", d.Extraction.MaxSnippetChars)
	v.SetDefault("extraction.max_snippets_per_document", d.Extraction.MaxSnippetsPerDocument)
	v.SetDefault("extraction.max_snippets_per_requirement", d.Extraction.MaxSnippetsPerRequirement)
	v.SetDefault("extraction.concurrency", d.Extraction.Concurrency)
	v.SetDefault("extraction.use_oracle", d.Extraction.UseOracle)
	v.SetDefault("extraction.oracle_excerpt_chars", d.Extraction.OracleExcerptChars)
	v.SetDefault("verification.similarity_threshold", d.Verification.SimilarityThreshold)
	v.SetDefault("verification.verified_confidence", d.Verification.VerifiedConfidence)
	v.SetDefault("verification.penalized_confidence", d.Verification.PenalizedConfidence)
	v.SetDefault("validation.area_tolerance", d.Validation.AreaTolerance)
	v.SetDefault("validation.identifier_formats", d.Validation.IdentifierFormats)
	v.SetDefault("validation.llm_min_checks", d.Validation.LLMMinChecks)
	v.SetDefault("oracle.transport", d.Oracle.Transport)
	v.SetDefault("oracle.api.base_url", d.Oracle.API.BaseURL)
	v.SetDefault("oracle.api.model", d.Oracle.API.Model)
	v.SetDefault("oracle.api.key_env", d.Oracle.API.KeyEnv)
	v.SetDefault("oracle.cli.command", d.Oracle.CLI.Command)
	v.SetDefault("oracle.cli.args", d.Oracle.CLI.Args)
	v.SetDefault("oracle.timeout", d.Oracle.Timeout)
	v.SetDefault("oracle.requests_per_second", d.Oracle.RequestsPerSecond)
	v.SetDefault("oracle.retry.max_attempts", d.Oracle.Retry.MaxAttempts)
	v.SetDefault("oracle.retry.backoff_base", d.Oracle.Retry.BackoffBase)
	v.SetDefault("oracle.retry.backoff_multiplier", d.Oracle.Retry.BackoffMultiplier)
	v.SetDefault("oracle.retry.max_backoff", d.Oracle.Retry.MaxBackoff)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
