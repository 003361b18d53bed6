// Package application wires the adherence gates, audit store, and
// metering engine into the operations callers invoke: evaluate a task,
// record a billable completion, aggregate an hour window.
package application

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// defaultIntentResolutionThreshold matches the evaluation SDK default
// the original deployment calibrated against.
const defaultIntentResolutionThreshold = 3.0

// Package-level validator instance for configuration validation.
var validate = validator.New()

// ContractConfig controls which optional adherence gates run and how.
// The zero value is the permissive baseline: no required keys, no
// approval gate, no intent resolution gate.
type ContractConfig struct {
	// RequireIntentResolution enables the intent resolution gate.
	RequireIntentResolution bool `yaml:"require_intent_resolution" json:"require_intent_resolution"`

	// IntentResolutionThreshold is the minimum intent_resolution score
	// that passes the gate when evaluator scores are supplied.
	IntentResolutionThreshold float64 `yaml:"intent_resolution_threshold" json:"intent_resolution_threshold" validate:"gte=0"`

	// RequiredOutputKeys lists output keys that must be present for the
	// required-outputs gate. An empty list disables the gate.
	RequiredOutputKeys []string `yaml:"required_output_keys" json:"required_output_keys" validate:"dive,min=1"`

	// RequireApproval enables the approval gate.
	RequireApproval bool `yaml:"require_approval" json:"require_approval"`
}

// DefaultContractConfig returns the permissive baseline configuration.
func DefaultContractConfig() ContractConfig {
	return ContractConfig{IntentResolutionThreshold: defaultIntentResolutionThreshold}
}

// GuardrailConfig caps how many billable tasks a subscription may admit
// per hour and per UTC day. A cap of 0 means unlimited.
type GuardrailConfig struct {
	HourlyCap int `yaml:"hourly_cap" json:"hourly_cap" validate:"gte=0"`
	DailyCap  int `yaml:"daily_cap" json:"daily_cap" validate:"gte=0"`
}

// MeterConfig configures the aggregation engine.
type MeterConfig struct {
	// DryRun keeps usage events local: they are surfaced to the caller
	// and logged, never handed to the submitter. Buckets are still
	// marked submitted so repeated aggregation stays idempotent.
	DryRun bool `yaml:"dry_run" json:"dry_run"`

	// PlanID is attached to every emitted usage event.
	PlanID string `yaml:"plan_id" json:"plan_id"`

	// Guardrails holds the admission caps.
	Guardrails GuardrailConfig `yaml:"guardrails" json:"guardrails"`
}

// ServerConfig configures the HTTP transport around the core.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Contract ContractConfig `yaml:"contract" json:"contract"`
	Meter    MeterConfig    `yaml:"meter" json:"meter"`
}

// DefaultConfig returns a runnable configuration: permissive contract,
// unlimited caps, dry-run metering on :8080.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Contract: DefaultContractConfig(),
		Meter:    MeterConfig{DryRun: true},
	}
}

// LoadConfig reads a YAML configuration file, fills unset fields from
// the defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// FromEnv applies environment overrides so main stays lean:
// METERGATE_ADDR, METERGATE_PLAN_ID, and METERGATE_DRY_RUN=false to go
// live.
func (c Config) FromEnv() Config {
	if addr := os.Getenv("METERGATE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if plan := os.Getenv("METERGATE_PLAN_ID"); plan != "" {
		c.Meter.PlanID = plan
	}
	if dry := os.Getenv("METERGATE_DRY_RUN"); dry != "" {
		c.Meter.DryRun = dry != "false"
	}
	return c
}
