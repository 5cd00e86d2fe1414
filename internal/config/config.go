// Package config implements Decency's YAML configuration: a struct tree
// unmarshaled directly with gopkg.in/yaml.v3, a DefaultConfig, a
// LoadConfig, and a Validate covering the spool/SMTP/reinject/cache/
// scoring/disposition/module sections the content-filter pipeline needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, read only after startup.
type Config struct {
	Spool       SpoolConfig       `yaml:"spool"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	Reinject    ReinjectConfig    `yaml:"reinject"`
	Cache       CacheConfig       `yaml:"cache"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Disposition DispositionConfig `yaml:"disposition"`
	Logging     LoggingConfig     `yaml:"logging"`
	Modules     []ModuleConfig    `yaml:"modules"`
}

// SpoolConfig lays out the directories under spool_dir.
type SpoolConfig struct {
	Dir              string `yaml:"dir"`
	QuarantineDir    string `yaml:"quarantine_dir"`
	ReinjectFailDir  string `yaml:"reinject_failure_dir"`
	TempDir          string `yaml:"temp_dir"`
	MimeScratchDir   string `yaml:"mime_dir"`
	DeleteOnComplete bool   `yaml:"delete_on_complete"`
}

// SMTPConfig configures the ingress SMTPFrontend.
type SMTPConfig struct {
	Network         string        `yaml:"network"` // "tcp" or "unix"
	Address         string        `yaml:"address"`
	Hostname        string        `yaml:"hostname"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// ReinjectConfig configures the Reinjector's downstream SMTP listener.
type ReinjectConfig struct {
	Address  string        `yaml:"address"`
	Hostname string        `yaml:"hostname"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig selects and configures the QueueCache backend.
type CacheConfig struct {
	Backend string `yaml:"backend"` // "redis" or "local"
	Redis   struct {
		URL         string `yaml:"url"`
		KeyPrefix   string `yaml:"key_prefix"`
		DatabaseNum int    `yaml:"database_num"`
	} `yaml:"redis"`
}

// ScoringConfig configures signed-scoring verification.
type ScoringConfig struct {
	AcceptScoring bool   `yaml:"accept_scoring"`
	PublicKeyPath string `yaml:"public_key_path"`
}

// DispositionConfig is the process-wide spam/virus disposition policy.
type DispositionConfig struct {
	Spam  SpamPolicy  `yaml:"spam"`
	Virus VirusPolicy `yaml:"virus"`

	NoisyHeaders bool `yaml:"noisy_headers"`

	NotifySender    bool   `yaml:"notify_sender"`
	NotifyRecipient bool   `yaml:"notify_recipient"`
	TemplateFile    string `yaml:"template_file"`
}

type SpamPolicy struct {
	Behavior          string  `yaml:"behavior"` // "ignore", "strict", "scoring"
	Threshold         float64 `yaml:"threshold"`
	Handle            string  `yaml:"handle"` // "tag", "bounce", "delete", "ignore"
	SubjectPrefix     string  `yaml:"subject_prefix"`
}

type VirusPolicy struct {
	Handle string `yaml:"handle"` // "ignore", "bounce", "delete", "quarantine"
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`
}

// ModuleConfig is one entry in the ordered filter module chain.
type ModuleConfig struct {
	Name           string         `yaml:"name"`
	Type           string         `yaml:"type"` // "keyword", "bayes", "spamd", "clamav", "bogofilter", "lua"
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	MaxSizeBytes   int64          `yaml:"max_size_bytes"`
	Disable        bool           `yaml:"disable"`
	DisableTrain   bool           `yaml:"disable_train"`
	WeightSpam     float64        `yaml:"weight_spam"`
	WeightInnocent float64        `yaml:"weight_innocent"`
	Settings       map[string]any `yaml:"settings"`
}

// DefaultConfig returns Decency's default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Spool.Dir = "/var/spool/decency"
	cfg.Spool.QuarantineDir = "/var/spool/decency/quarantine"
	cfg.Spool.ReinjectFailDir = "/var/spool/decency/failure"
	cfg.Spool.TempDir = "/var/spool/decency/temp"
	cfg.Spool.MimeScratchDir = "/var/spool/decency/mime"

	cfg.SMTP.Network = "tcp"
	cfg.SMTP.Address = "127.0.0.1:10025"
	cfg.SMTP.Hostname = "decency"
	cfg.SMTP.ReadTimeout = 5 * time.Minute
	cfg.SMTP.WriteTimeout = 5 * time.Minute

	cfg.Reinject.Address = "127.0.0.1:10026"
	cfg.Reinject.Hostname = "decency"
	cfg.Reinject.Timeout = 2 * time.Minute

	cfg.Cache.Backend = "local"
	cfg.Cache.Redis.URL = "redis://localhost:6379"
	cfg.Cache.Redis.KeyPrefix = "decency"

	cfg.Disposition.Spam.Behavior = "scoring"
	cfg.Disposition.Spam.Threshold = -150
	cfg.Disposition.Spam.Handle = "tag"
	cfg.Disposition.Spam.SubjectPrefix = "[SPAM] "
	cfg.Disposition.Virus.Handle = "quarantine"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from path, falling back to defaults when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for startup-fatal errors: missing
// spool dir, unreadable verify key, missing required config sections.
func (c *Config) Validate() error {
	if c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir must be set")
	}
	if info, err := os.Stat(c.Spool.Dir); err != nil || !info.IsDir() {
		return fmt.Errorf("spool.dir %q does not exist or is not a directory", c.Spool.Dir)
	}

	switch c.Disposition.Spam.Behavior {
	case "ignore", "strict", "scoring":
	default:
		return fmt.Errorf("disposition.spam.behavior must be ignore, strict, or scoring")
	}
	switch c.Disposition.Spam.Handle {
	case "tag", "bounce", "delete", "ignore":
	default:
		return fmt.Errorf("disposition.spam.handle must be tag, bounce, delete, or ignore")
	}
	switch c.Disposition.Virus.Handle {
	case "ignore", "bounce", "delete", "quarantine":
	default:
		return fmt.Errorf("disposition.virus.handle must be ignore, bounce, delete, or quarantine")
	}

	if c.Scoring.AcceptScoring && c.Scoring.PublicKeyPath == "" {
		return fmt.Errorf("scoring.public_key_path must be set when accept_scoring is true")
	}
	if c.Scoring.AcceptScoring {
		if _, err := os.Stat(c.Scoring.PublicKeyPath); err != nil {
			return fmt.Errorf("scoring.public_key_path %q is unreadable: %w", c.Scoring.PublicKeyPath, err)
		}
	}

	switch c.Cache.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("cache.backend must be redis or local")
	}

	if len(c.Modules) == 0 {
		return fmt.Errorf("at least one module must be configured")
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("every module requires a name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate module name %q", m.Name)
		}
		seen[m.Name] = true
	}

	return nil
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
