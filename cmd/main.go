package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dappnode/validator-duties/internal/adapters/beacon"
	"github.com/dappnode/validator-duties/internal/adapters/brain"
	"github.com/dappnode/validator-duties/internal/adapters/dappmanager"
	"github.com/dappnode/validator-duties/internal/adapters/localsigner"
	"github.com/dappnode/validator-duties/internal/adapters/notifier"
	"github.com/dappnode/validator-duties/internal/adapters/sqlite"
	"github.com/dappnode/validator-duties/internal/adapters/web3signer"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/dappnode/validator-duties/internal/application/services"
	"github.com/dappnode/validator-duties/internal/config"
	"github.com/dappnode/validator-duties/internal/logger"
	"github.com/dappnode/validator-duties/internal/metrics"
)

func main() {
	// Load config
	cfg := config.LoadConfig()
	logger.Info("Loaded config: network=%s, beaconEndpoint=%s, signer=%s, slotsPerEpoch=%d, secondsPerSlot=%d",
		cfg.Network, cfg.BeaconEndpoint, cfg.Signer, cfg.Chain.SlotsPerEpoch, cfg.Chain.SecondsPerSlot)

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStart()

	signer, sources := buildSigner(startCtx, cfg)

	// Initialize beacon chain adapter
	adapter, err := beacon.NewBeaconAdapter(beacon.Options{
		Endpoint:               cfg.BeaconEndpoint,
		SlotsPerEpoch:          cfg.Chain.SlotsPerEpoch,
		SlotsPerHistoricalRoot: cfg.Chain.SlotsPerHistoricalRoot,
	})
	if err != nil {
		logger.Fatal("Failed to initialize beacon adapter: %v", err)
	}

	genesis := time.Unix(int64(cfg.Chain.GenesisTime), 0)
	if cfg.Chain.GenesisTime == 0 {
		if genesis, err = adapter.GetGenesisTime(startCtx); err != nil {
			logger.Fatal("Failed to get genesis time from beacon node: %v", err)
		}
	}
	clock := services.NewChainClock(genesis, cfg.Chain.SecondsPerSlot, cfg.Chain.SlotsPerEpoch)
	logger.Info("Genesis at %s, current slot %d", genesis.UTC().Format(time.RFC3339), clock.CurrentSlot(time.Now()))

	// Resolve validator identities from the signer and the brain
	identities, err := services.LoadIdentities(startCtx, adapter, sources...)
	if err != nil {
		logger.Fatal("Failed to load validator identities: %v", err)
	}
	if len(identities) == 0 {
		logger.Warn("No active validators found, the duty cycle will idle")
	}
	logger.Info("Found %d validator indices active", len(identities))

	store, err := sqlite.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open slashing protection database at %s: %v", cfg.DBPath, err)
	}
	defer store.Close()
	guard := services.NewSlashingGuard(store)

	domains := cfg.Chain.Domains()
	var graffiti [32]byte
	copy(graffiti[:], cfg.Graffiti)

	scheduler, err := services.NewDutyScheduler(services.SchedulerOpts{
		Clock:  clock,
		Beacon: adapter,
		Resolver: &services.DutyResolver{
			Clock:  clock,
			Beacon: adapter,
		},
		Attester: &services.AttestationBuilder{
			Clock:          clock,
			Beacon:         adapter,
			Head:           adapter,
			Signer:         signer,
			Guard:          guard,
			AttesterDomain: domains.BeaconAttester,
		},
		Proposer: &services.BlockDutyBuilder{
			Clock:          clock,
			Assembler:      adapter,
			Signer:         signer,
			Guard:          guard,
			RandaoDomain:   domains.Randao,
			ProposerDomain: domains.BeaconProposer,
			Graffiti:       graffiti,
		},
		Notifier:          notifier.NewNotifier(cfg.NotifierUrl, cfg.BeaconchaUrl, cfg.Network, cfg.SignerDnpName),
		Dappmanager:       dappmanager.NewDappManagerAdapter(cfg.DappmanagerUrl, cfg.SignerDnpName),
		Identities:        identities,
		StateFetchTimeout: cfg.Chain.StateFetchTimeout(),
		SubmitTimeout:     cfg.Chain.SubmitTimeout(),
		MaxWorkers:        cfg.MaxWorkers,
	})
	if err != nil {
		logger.Fatal("Failed to create duty scheduler: %v", err)
	}

	// Prepare context and WaitGroup for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.Error("Metrics server stopped: %v", err)
		}
	}()

	// Start the duty cycle in a goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("Duty cycle stopped: %v", err)
			cancel()
		}
	}()

	// Handle graceful shutdown
	handleShutdown(cancel)

	// Wait for all services to stop
	wg.Wait()
	logger.Info("All services stopped. Shutting down.")
}

// buildSigner returns the configured signer and the sources of validator pubkeys.
func buildSigner(ctx context.Context, cfg config.Config) (ports.Signer, []ports.PubkeySource) {
	if cfg.Signer == config.SignerLocal {
		local, err := localsigner.NewFromFile(cfg.LocalKeysFile)
		if err != nil {
			logger.Fatal("Failed to load local keys from %s: %v", cfg.LocalKeysFile, err)
		}
		if err := local.SelfCheck(); err != nil {
			logger.Fatal("Local keys failed the signing check: %v", err)
		}
		logger.Info("Loaded %d local keys", len(local.PubKeys()))
		return local, []ports.PubkeySource{local}
	}

	web3Signer := web3signer.NewWeb3SignerAdapter(cfg.Web3SignerEndpoint)
	sources := []ports.PubkeySource{web3Signer}

	// The brain knows keys the signer has not loaded yet; it is optional.
	brainAdapter, err := brain.NewBrainAdapter(cfg.BrainUrl)
	if err != nil {
		logger.Warn("Invalid brain URL %s, using web3signer keys only: %v", cfg.BrainUrl, err)
		return web3Signer, sources
	}
	if _, err := brainAdapter.GetValidatorPubkeys(ctx); err != nil {
		logger.Warn("Brain unavailable, using web3signer keys only: %v", err)
		return web3Signer, sources
	}
	return web3Signer, append(sources, brainAdapter)
}

// handleShutdown listens for SIGINT/SIGTERM and cancels the context
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal: %s. Initiating shutdown...", sig)
		cancel()
	}()
}
