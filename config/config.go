// Package config loads analyzer configuration from a YAML file or
// command-line flags. All pipeline tuning knobs (batch sizes, retry
// policy, pacing delays, lookback horizon) live here so tests can run
// with zero delays.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMirrorBaseURL = "https://mainnet-public.mirrornode.hedera.com/api/v1"
	defaultOutputDir     = "token_data"
	defaultListenAddr    = ":3001"
	defaultJournalDir    = "wal/runs"

	defaultPageSize        = 50
	defaultHolderBatchSize = 50
	defaultMaxAttempts     = 3
	defaultRetryBaseDelay  = 2 * time.Second
	defaultPageDelay       = 100 * time.Millisecond
	defaultBatchDelay      = 200 * time.Millisecond
	defaultLookback        = 6 * 30 * 24 * time.Hour
	defaultHTTPTimeout     = 30 * time.Second
)

type Config struct {
	// TokenID runs a one-shot analysis from the CLI when set.
	TokenID       string
	MirrorBaseURL string
	OutputDir     string
	ListenAddr    string
	JournalDir    string

	PageSize        int
	HolderBatchSize int
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	PageDelay       time.Duration
	BatchDelay      time.Duration
	Lookback        time.Duration
	HTTPTimeout     time.Duration

	TLSDomains   []string
	CertCacheDir string
}

type configYaml struct {
	TokenID         string `yaml:"token_id,omitempty"`
	MirrorBaseURL   string `yaml:"mirror_base_url,omitempty"`
	OutputDir       string `yaml:"output_dir,omitempty"`
	ListenAddr      string `yaml:"listen_addr,omitempty"`
	JournalDir      string `yaml:"journal_dir,omitempty"`
	PageSize        int    `yaml:"page_size,omitempty"`
	HolderBatchSize int    `yaml:"holder_batch_size,omitempty"`
	MaxAttempts     int    `yaml:"max_attempts,omitempty"`
	RetryBaseDelay  string `yaml:"retry_base_delay,omitempty"`
	PageDelay       string `yaml:"page_delay,omitempty"`
	BatchDelay      string `yaml:"batch_delay,omitempty"`
	Lookback        string `yaml:"lookback,omitempty"`
	HTTPTimeout     string `yaml:"http_timeout,omitempty"`
	TLSDomains      string `yaml:"tls_domains,omitempty"`
	CertCacheDir    string `yaml:"cert_cache_dir,omitempty"`
}

// Default returns the configuration with all defaults applied.
func Default() Config {
	return Config{
		MirrorBaseURL:   defaultMirrorBaseURL,
		OutputDir:       defaultOutputDir,
		ListenAddr:      defaultListenAddr,
		JournalDir:      defaultJournalDir,
		PageSize:        defaultPageSize,
		HolderBatchSize: defaultHolderBatchSize,
		MaxAttempts:     defaultMaxAttempts,
		RetryBaseDelay:  defaultRetryBaseDelay,
		PageDelay:       defaultPageDelay,
		BatchDelay:      defaultBatchDelay,
		Lookback:        defaultLookback,
		HTTPTimeout:     defaultHTTPTimeout,
	}
}

// Get loads configuration from --config when provided, otherwise from
// individual flags.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	tokenID := flag.String("token", "", "token id for a one-shot CLI analysis, example: 0.0.123456")
	mirrorURL := flag.String("mirror", defaultMirrorBaseURL, "mirror node base url")
	outputDir := flag.String("out", defaultOutputDir, "directory for analysis artifacts")
	listenAddr := flag.String("listen", defaultListenAddr, "http listen address")
	flag.Parse()

	if *configPath != "" {
		return FromYaml(*configPath)
	}

	cfg := Default()
	cfg.TokenID = *tokenID
	cfg.MirrorBaseURL = *mirrorURL
	cfg.OutputDir = *outputDir
	cfg.ListenAddr = *listenAddr

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromYaml loads configuration from a YAML file, filling omitted fields
// with defaults.
func FromYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var raw configYaml
	if err := yaml.Unmarshal(f, &raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if raw.TokenID != "" {
		cfg.TokenID = raw.TokenID
	}
	if raw.MirrorBaseURL != "" {
		cfg.MirrorBaseURL = raw.MirrorBaseURL
	}
	if raw.OutputDir != "" {
		cfg.OutputDir = raw.OutputDir
	}
	if raw.ListenAddr != "" {
		cfg.ListenAddr = raw.ListenAddr
	}
	if raw.JournalDir != "" {
		cfg.JournalDir = raw.JournalDir
	}
	if raw.PageSize > 0 {
		cfg.PageSize = raw.PageSize
	}
	if raw.HolderBatchSize > 0 {
		cfg.HolderBatchSize = raw.HolderBatchSize
	}
	if raw.MaxAttempts > 0 {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{raw.RetryBaseDelay, "retry_base_delay", &cfg.RetryBaseDelay},
		{raw.PageDelay, "page_delay", &cfg.PageDelay},
		{raw.BatchDelay, "batch_delay", &cfg.BatchDelay},
		{raw.Lookback, "lookback", &cfg.Lookback},
		{raw.HTTPTimeout, "http_timeout", &cfg.HTTPTimeout},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s provided: %s", d.name, d.raw)
		}
		*d.dst = parsed
	}
	if raw.TLSDomains != "" {
		for _, d := range strings.Split(raw.TLSDomains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.TLSDomains = append(cfg.TLSDomains, d)
			}
		}
	}
	if raw.CertCacheDir != "" {
		cfg.CertCacheDir = raw.CertCacheDir
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MirrorBaseURL == "" {
		return fmt.Errorf("mirror base url is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("invalid page size %d, must be in 1..100", c.PageSize)
	}
	if c.HolderBatchSize <= 0 {
		return fmt.Errorf("invalid holder batch size %d", c.HolderBatchSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("invalid max attempts %d", c.MaxAttempts)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("invalid lookback %s", c.Lookback)
	}
	return nil
}
