// Package config loads the kernel's TOML configuration, bootstrapping a
// default file on first run the same way the rest of the ecosystem does:
// load if present, write sane defaults if not.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config enumerates every kernel knob from spec §6.
type Config struct {
	IdentityVerification      bool   `toml:"IdentityVerification"`
	NonceTTLSeconds           int    `toml:"NonceTTLSeconds"`
	TimestampMaxDriftSeconds  int    `toml:"TimestampMaxDriftSeconds"`
	CapabilitySigningRequired bool   `toml:"CapabilitySigningRequired"`
	ConstraintEnforcementEnabled bool `toml:"ConstraintEnforcementEnabled"`

	RateLimitRefillPeriodSeconds int `toml:"RateLimitRefillPeriodSeconds"`
	RateLimitBucketTTLSeconds    int `toml:"RateLimitBucketTTLSeconds"`
	RateLimitCleanupIntervalMS   int `toml:"RateLimitCleanupIntervalMS"`

	ConsensusEscalationEnabled bool `toml:"ConsensusEscalationEnabled"`

	MaxCapabilitiesPerAgent int  `toml:"MaxCapabilitiesPerAgent"`
	MaxGlobalCapabilities   int  `toml:"MaxGlobalCapabilities"`
	MaxDelegationDepth      int  `toml:"MaxDelegationDepth"`
	QuotaEnforcementEnabled bool `toml:"QuotaEnforcementEnabled"`

	ApprovalGuardEnabled bool `toml:"ApprovalGuardEnabled"`

	StorageBackend string `toml:"StorageBackend"`
	MasterKeyPath  string `toml:"MasterKeyPath"`

	DataDir       string `toml:"DataDir"`
	ListenAddress string `toml:"ListenAddress"`
}

// Load reads the configuration from path, creating a default file there
// if none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes the spec's enumerated defaults to path and
// returns the resulting Config.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		IdentityVerification:         true,
		NonceTTLSeconds:              300,
		TimestampMaxDriftSeconds:     60,
		CapabilitySigningRequired:    false,
		ConstraintEnforcementEnabled: true,
		RateLimitRefillPeriodSeconds: 3600,
		RateLimitBucketTTLSeconds:    3600,
		RateLimitCleanupIntervalMS:   300000,
		ConsensusEscalationEnabled:   true,
		MaxCapabilitiesPerAgent:      1000,
		MaxGlobalCapabilities:        100000,
		MaxDelegationDepth:           10,
		QuotaEnforcementEnabled:      true,
		ApprovalGuardEnabled:         false,
		StorageBackend:               "bbolt",
		MasterKeyPath:                 ".arbor/security/master.key",
		DataDir:                       ".arbor",
		ListenAddress:                 ":7420",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
