// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcclellann/loanengine/pkg/models"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type RiskConfig struct {
	ReevaluateInterval time.Duration `yaml:"reevaluate_interval"`
	Workers            int           `yaml:"workers"`
}

type WorkflowConfig struct {
	StarterURL   string        `yaml:"starter_url"` // Empty means log-only
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ClaimLease   time.Duration `yaml:"claim_lease"` // Claimed jobs are retaken after this
	BatchSize    int32         `yaml:"batch_size"`
	MaxAttempts  int32         `yaml:"max_attempts"`
}

type Config struct {
	Env          string               `yaml:"env"`
	Port         string               `yaml:"port"`
	DatabasePath string               `yaml:"database_path"`
	Log          LogConfig            `yaml:"log"`
	Risk         RiskConfig           `yaml:"risk"`
	Workflow     WorkflowConfig       `yaml:"workflow"`
	Products     []models.LoanProduct `yaml:"products"`
}

// Default returns the settings used when neither file nor environment say
// otherwise.
func Default() Config {
	return Config{
		Env:          "local",
		Port:         "8080",
		DatabasePath: "./loans.db",
		Log:          LogConfig{Level: "info", Format: "text"},
		Risk:         RiskConfig{ReevaluateInterval: time.Hour, Workers: 4},
		Workflow: WorkflowConfig{
			HTTPTimeout:  10 * time.Second,
			PollInterval: 5 * time.Second,
			ClaimLease:   5 * time.Minute,
			BatchSize:    10,
			MaxAttempts:  5,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProducts reads a YAML document holding only a products list.
func LoadProducts(path string) ([]models.LoanProduct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product catalog %s: %w", path, err)
	}
	var doc struct {
		Products []models.LoanProduct `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product catalog: %w", err)
	}
	if err := validateProducts(doc.Products); err != nil {
		return nil, err
	}
	return doc.Products, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	if cfg.Env == "prod" || cfg.Env == "production" {
		if _, ok := os.LookupEnv("LOG_FORMAT"); !ok {
			cfg.Log.Format = "json"
		}
	}

	cfg.Risk.ReevaluateInterval = getEnvDuration("RISK_REEVALUATE_INTERVAL", cfg.Risk.ReevaluateInterval)
	cfg.Risk.Workers = getEnvInt("RISK_WORKERS", cfg.Risk.Workers)

	cfg.Workflow.StarterURL = getEnv("WORKFLOW_STARTER_URL", cfg.Workflow.StarterURL)
	cfg.Workflow.PollInterval = getEnvDuration("WORKFLOW_POLL_INTERVAL", cfg.Workflow.PollInterval)
	cfg.Workflow.ClaimLease = getEnvDuration("WORKFLOW_CLAIM_LEASE", cfg.Workflow.ClaimLease)
	cfg.Workflow.BatchSize = int32(getEnvInt("WORKFLOW_BATCH_SIZE", int(cfg.Workflow.BatchSize)))
	cfg.Workflow.MaxAttempts = int32(getEnvInt("WORKFLOW_MAX_ATTEMPTS", int(cfg.Workflow.MaxAttempts)))
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Risk.Workers < 1 {
		return fmt.Errorf("risk.workers must be at least 1, got %d", c.Risk.Workers)
	}
	if c.Risk.ReevaluateInterval <= 0 {
		return fmt.Errorf("risk.reevaluate_interval must be positive, got %v", c.Risk.ReevaluateInterval)
	}
	if c.Workflow.PollInterval <= 0 {
		return fmt.Errorf("workflow.poll_interval must be positive, got %v", c.Workflow.PollInterval)
	}
	if c.Workflow.ClaimLease <= c.Workflow.HTTPTimeout {
		return fmt.Errorf("workflow.claim_lease must exceed workflow.http_timeout, got %v", c.Workflow.ClaimLease)
	}
	if c.Workflow.BatchSize < 1 || c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow.batch_size and workflow.max_attempts must be at least 1")
	}
	return validateProducts(c.Products)
}

func validateProducts(products []models.LoanProduct) error {
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		if p.Code == "" {
			return fmt.Errorf("product code must not be empty")
		}
		if seen[p.Code] {
			return fmt.Errorf("product %s is defined twice", p.Code)
		}
		seen[p.Code] = true

		if !p.MinimumAmount.IsPositive() || p.MinimumAmount.GreaterThan(p.MaximumAmount) {
			return fmt.Errorf("product %s: amount limits [%s, %s] are invalid", p.Code, p.MinimumAmount, p.MaximumAmount)
		}
		if p.MinimumTermMonths < 1 || p.MinimumTermMonths > p.MaximumTermMonths {
			return fmt.Errorf("product %s: term limits [%d, %d] are invalid", p.Code, p.MinimumTermMonths, p.MaximumTermMonths)
		}
		if p.InterestRate.IsNegative() || p.PenaltyRate.IsNegative() {
			return fmt.Errorf("product %s: rates must not be negative", p.Code)
		}
		if p.RepaymentFrequency != "" && !p.RepaymentFrequency.Valid() {
			return fmt.Errorf("product %s: unknown repayment frequency %q", p.Code, p.RepaymentFrequency)
		}
		if !p.IslamicStructure.Valid() {
			return fmt.Errorf("product %s: unknown islamic structure %q", p.Code, p.IslamicStructure)
		}
		if p.IslamicStructure != models.StructureNone && !p.ShariaCompliant {
			return fmt.Errorf("product %s: islamic structure %s requires sharia_compliant", p.Code, p.IslamicStructure)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
