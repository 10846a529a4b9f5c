package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dappnode/validator-duties/internal/logger"
)

const (
	SignerWeb3Signer = "web3signer"
	SignerLocal      = "local"
)

type Config struct {
	BeaconEndpoint     string
	Web3SignerEndpoint string
	Network            string
	SignerDnpName      string
	BeaconchaUrl       string
	DappmanagerUrl     string
	NotifierUrl        string
	BrainUrl           string

	DBPath        string
	MetricsAddr   string
	Signer        string
	LocalKeysFile string
	Graffiti      string
	MaxWorkers    int

	Chain ChainConfig
}

func LoadConfig() Config {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal("%v", err)
	}
	return cfg
}

func loadConfig(getenv func(string) string) (Config, error) {
	network := getenv("NETWORK")
	if network == "" {
		network = "hoodi" // default
	}
	// Normalize network name for logs
	network = strings.ToLower(network)

	// Build the dynamic endpoints
	beaconEndpoint := fmt.Sprintf("http://beacon-chain.%s.dncore.dappnode:3500", network)
	web3SignerEndpoint := fmt.Sprintf("http://web3signer.web3signer-%s.dappnode:9000", network)
	dappmanagerEndpoint := "http://dappmanager.dappnode"
	notifierEndpoint := "http://notifier.dappnode:8080"
	brainEndpoint := fmt.Sprintf("http://brain.web3signer-%s.dappnode", network)

	// Allow override via environment variables
	if envBeacon := getenv("BEACON_ENDPOINT"); envBeacon != "" {
		beaconEndpoint = envBeacon
	}
	if envWeb3Signer := getenv("WEB3SIGNER_ENDPOINT"); envWeb3Signer != "" {
		web3SignerEndpoint = envWeb3Signer
	}
	if envDappmanager := getenv("DAPPMANAGER_ENDPOINT"); envDappmanager != "" {
		dappmanagerEndpoint = envDappmanager
	}
	if envNotifier := getenv("NOTIFIER_URL"); envNotifier != "" {
		notifierEndpoint = envNotifier
	}
	if envBrain := getenv("BRAIN_URL"); envBrain != "" {
		brainEndpoint = envBrain
	}

	if network != "hoodi" && network != "holesky" && network != "mainnet" && network != "gnosis" && network != "lukso" && network != "minimal" {
		return Config{}, fmt.Errorf("unknown network: %s", network)
	}

	var dnpName string
	if network == "mainnet" {
		dnpName = "web3signer.dnp.dappnode.eth"
	} else {
		dnpName = fmt.Sprintf("web3signer-%s.dnp.dappnode.eth", network)
	}

	var beaconchaUrl string
	switch network {
	case "mainnet":
		beaconchaUrl = "https://beaconcha.in"
	case "holesky":
		beaconchaUrl = "https://holesky.beaconcha.in"
	case "hoodi":
		beaconchaUrl = "https://hoodi.beaconcha.in"
	case "gnosis":
		beaconchaUrl = "https://gnosischa.in"
	case "lukso":
		beaconchaUrl = "https://explorer.consensus.mainnet.lukso.network"
	}

	chain, err := ChainConfigForNetwork(network)
	if err != nil {
		return Config{}, err
	}
	if presetFile := getenv("CHAIN_PRESET_FILE"); presetFile != "" {
		if chain, err = LoadChainConfigFile(presetFile, chain); err != nil {
			return Config{}, err
		}
	}
	if genesis := getenv("GENESIS_TIME"); genesis != "" {
		if chain.GenesisTime, err = strconv.ParseUint(genesis, 10, 64); err != nil {
			return Config{}, fmt.Errorf("invalid GENESIS_TIME %q: %w", genesis, err)
		}
	}
	if err := chain.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid chain config for %s: %w", network, err)
	}

	signer := strings.ToLower(getenv("SIGNER"))
	if signer == "" {
		signer = SignerWeb3Signer
	}
	if signer != SignerWeb3Signer && signer != SignerLocal {
		return Config{}, fmt.Errorf("unknown signer: %s", signer)
	}
	localKeys := getenv("LOCAL_KEYS_FILE")
	if signer == SignerLocal && localKeys == "" {
		return Config{}, fmt.Errorf("LOCAL_KEYS_FILE is required with SIGNER=%s", SignerLocal)
	}

	maxWorkers := 16
	if envWorkers := getenv("MAX_WORKERS"); envWorkers != "" {
		n, err := strconv.Atoi(envWorkers)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_WORKERS %q", envWorkers)
		}
		maxWorkers = n
	}

	graffiti := getenv("GRAFFITI")
	if len(graffiti) > 32 {
		return Config{}, fmt.Errorf("GRAFFITI is longer than 32 bytes")
	}

	return Config{
		BeaconEndpoint:     beaconEndpoint,
		Web3SignerEndpoint: web3SignerEndpoint,
		Network:            network,
		SignerDnpName:      dnpName,
		BeaconchaUrl:       beaconchaUrl,
		DappmanagerUrl:     dappmanagerEndpoint,
		NotifierUrl:        notifierEndpoint,
		BrainUrl:           brainEndpoint,
		DBPath:             withDefault(getenv("DB_PATH"), "/data/slashing-protection.db"),
		MetricsAddr:        withDefault(getenv("METRICS_ADDR"), ":8080"),
		Signer:             signer,
		LocalKeysFile:      localKeys,
		Graffiti:           graffiti,
		MaxWorkers:         maxWorkers,
		Chain:              chain,
	}, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
