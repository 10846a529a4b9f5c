package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ChainConfig is the runtime preset of the chain the engine validates on.
type ChainConfig struct {
	PresetBase             string `yaml:"PRESET_BASE"`
	SecondsPerSlot         uint64 `yaml:"SECONDS_PER_SLOT"`
	SlotsPerEpoch          uint64 `yaml:"SLOTS_PER_EPOCH"`
	SlotsPerHistoricalRoot uint64 `yaml:"SLOTS_PER_HISTORICAL_ROOT"`
	// GenesisTime in unix seconds. Zero means ask the beacon node.
	GenesisTime uint64 `yaml:"GENESIS_TIME"`

	// Only the domains the engine signs under. Other DOMAIN_* keys in a file are ignored.
	DomainBeaconProposer uint32 `yaml:"DOMAIN_BEACON_PROPOSER"`
	DomainBeaconAttester uint32 `yaml:"DOMAIN_BEACON_ATTESTER"`
	DomainRandao         uint32 `yaml:"DOMAIN_RANDAO"`
}

func MainnetChainConfig() ChainConfig {
	return ChainConfig{
		PresetBase:             "mainnet",
		SecondsPerSlot:         12,
		SlotsPerEpoch:          32,
		SlotsPerHistoricalRoot: 8192,
		DomainBeaconProposer:   0,
		DomainBeaconAttester:   1,
		DomainRandao:           2,
	}
}

func MinimalChainConfig() ChainConfig {
	c := MainnetChainConfig()
	c.PresetBase = "minimal"
	c.SecondsPerSlot = 6
	c.SlotsPerEpoch = 8
	c.SlotsPerHistoricalRoot = 64
	return c
}

func GnosisChainConfig() ChainConfig {
	c := MainnetChainConfig()
	c.PresetBase = "gnosis"
	c.SecondsPerSlot = 5
	c.SlotsPerEpoch = 16
	return c
}

// ChainConfigForNetwork returns the built-in preset of a known network.
func ChainConfigForNetwork(network string) (ChainConfig, error) {
	switch network {
	case "mainnet", "hoodi", "holesky", "lukso":
		return MainnetChainConfig(), nil
	case "gnosis":
		return GnosisChainConfig(), nil
	case "minimal":
		return MinimalChainConfig(), nil
	default:
		return ChainConfig{}, fmt.Errorf("no chain preset for network %s", network)
	}
}

// LoadChainConfigFile overlays the YAML file at path on base. Keys missing from the file keep base values.
func LoadChainConfigFile(path string, base ChainConfig) (ChainConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "could not read chain config %s", path)
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, errors.Wrapf(err, "could not parse chain config %s", path)
	}
	return cfg, nil
}

func (c ChainConfig) Validate() error {
	if c.SecondsPerSlot == 0 {
		return errors.New("SECONDS_PER_SLOT must be positive")
	}
	if c.SlotsPerEpoch == 0 {
		return errors.New("SLOTS_PER_EPOCH must be positive")
	}
	if c.SlotsPerHistoricalRoot < c.SlotsPerEpoch {
		return errors.New("SLOTS_PER_HISTORICAL_ROOT must cover at least one epoch")
	}
	return nil
}

func (c ChainConfig) SlotDuration() time.Duration {
	return time.Duration(c.SecondsPerSlot) * time.Second
}

// StateFetchTimeout bounds one state read so it ends well before the next boundary.
func (c ChainConfig) StateFetchTimeout() time.Duration {
	return c.SlotDuration() / 4
}

// SubmitTimeout bounds one publish call.
func (c ChainConfig) SubmitTimeout() time.Duration {
	return c.SlotDuration() / 3
}

// Domains returns the configured domain constants as wire domain types.
func (c ChainConfig) Domains() Domains {
	return Domains{
		BeaconProposer: domain.DomainTypeFromUint32(c.DomainBeaconProposer),
		BeaconAttester: domain.DomainTypeFromUint32(c.DomainBeaconAttester),
		Randao:         domain.DomainTypeFromUint32(c.DomainRandao),
	}
}

// Domains are the domain types the duty engine signs under.
type Domains struct {
	BeaconProposer domain.DomainType
	BeaconAttester domain.DomainType
	Randao         domain.DomainType
}
