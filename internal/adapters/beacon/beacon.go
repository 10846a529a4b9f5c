package beacon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	_http "github.com/attestantio/go-eth2-client/http"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/dappnode/validator-duties/internal/logger"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	rootCacheSize = 256
	// maxEmptySlotWalk bounds how far back a lookup walks over slots without a block.
	maxEmptySlotWalk = 64
)

type Options struct {
	Endpoint               string
	Timeout                time.Duration
	SlotsPerEpoch          uint64
	SlotsPerHistoricalRoot uint64
}

type beaconAttestantClient struct {
	client *_http.Service
	opts   Options

	roots *lru.Cache[domain.Slot, domain.Root]
	eth1  *lru.Cache[domain.Epoch, domain.Eth1Data]

	genesisMu sync.Mutex
	genesis   *apiv1.Genesis
}

// Adapter is the beacon node seen through every port the duty engine needs.
type Adapter interface {
	ports.ConsensusNodeClient
	ports.BlockAssembler
	ports.HeadProvider
}

func NewBeaconAdapter(opts Options) (Adapter, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.SlotsPerEpoch == 0 || opts.SlotsPerHistoricalRoot == 0 {
		return nil, fmt.Errorf("slots per epoch and slots per historical root are required")
	}

	customHttpClient := &http.Client{
		Timeout: opts.Timeout,
	}

	client, err := _http.New(context.Background(),
		_http.WithAddress(opts.Endpoint),
		_http.WithHTTPClient(customHttpClient),
		_http.WithTimeout(opts.Timeout), // the per-call timeout overrides the http client one
		_http.WithLogLevel(logger.Log.ZerologLevel()),
	)
	if err != nil {
		return nil, err
	}

	roots, err := lru.New[domain.Slot, domain.Root](rootCacheSize)
	if err != nil {
		return nil, err
	}
	eth1, err := lru.New[domain.Epoch, domain.Eth1Data](4)
	if err != nil {
		return nil, err
	}

	return &beaconAttestantClient{
		client: client.(*_http.Service),
		opts:   opts,
		roots:  roots,
		eth1:   eth1,
	}, nil
}

func isNotFound(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// chainGenesis is fetched once and cached.
func (b *beaconAttestantClient) chainGenesis(ctx context.Context) (*apiv1.Genesis, error) {
	b.genesisMu.Lock()
	defer b.genesisMu.Unlock()
	if b.genesis != nil {
		return b.genesis, nil
	}
	resp, err := b.client.Genesis(ctx, &api.GenesisOpts{})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("empty genesis response")
	}
	b.genesis = resp.Data
	return b.genesis, nil
}

func (b *beaconAttestantClient) GetGenesisTime(ctx context.Context) (time.Time, error) {
	genesis, err := b.chainGenesis(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return genesis.GenesisTime, nil
}

// GetState builds a snapshot of the head state advanced to slot.
func (b *beaconAttestantClient) GetState(ctx context.Context, slot domain.Slot) (*domain.StateSnapshot, error) {
	header, err := b.client.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: "head"})
	if err != nil {
		return nil, fmt.Errorf("%w: head header: %w", domain.ErrStateFetch, err)
	}
	if header.Data == nil || header.Data.Header == nil || header.Data.Header.Message == nil {
		return nil, fmt.Errorf("%w: empty head header", domain.ErrStateFetch)
	}
	fork, err := b.client.Fork(ctx, &api.ForkOpts{State: "head"})
	if err != nil {
		return nil, fmt.Errorf("%w: fork: %w", domain.ErrStateFetch, err)
	}
	finality, err := b.client.Finality(ctx, &api.FinalityOpts{State: "head"})
	if err != nil {
		return nil, fmt.Errorf("%w: finality: %w", domain.ErrStateFetch, err)
	}
	genesis, err := b.chainGenesis(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis: %w", domain.ErrStateFetch, err)
	}

	msg := header.Data.Header.Message
	headRoot := domain.Root(header.Data.Root)
	headSlot := domain.Slot(msg.Slot)
	stateSlot := slot
	if headSlot > stateSlot {
		stateSlot = headSlot
	}

	state := &domain.StateSnapshot{
		Slot:                  stateSlot,
		GenesisTime:           genesis.GenesisTime,
		GenesisValidatorsRoot: domain.Root(genesis.GenesisValidatorsRoot),
		Fork:                  toDomainFork(fork.Data),
		LatestBlockRoot:       headRoot,
		LatestBlockHeader: domain.BeaconBlockHeader{
			Slot:          headSlot,
			ProposerIndex: domain.ValidatorIndex(msg.ProposerIndex),
			ParentRoot:    domain.Root(msg.ParentRoot),
			StateRoot:     domain.Root(msg.StateRoot),
			BodyRoot:      domain.Root(msg.BodyRoot),
		},
		BlockRoots:                 domain.NewBlockRootHistory(b.opts.SlotsPerHistoricalRoot),
		CurrentJustifiedCheckpoint: toDomainCheckpoint(finality.Data.Justified),
		FinalizedCheckpoint:        toDomainCheckpoint(finality.Data.Finalized),
	}

	b.fillHistory(ctx, state)

	epoch := domain.Epoch(uint64(stateSlot) / b.opts.SlotsPerEpoch)
	if eth1, ok := b.eth1.Get(epoch); ok {
		state.Eth1Data = eth1
	} else if eth1, err := b.headEth1Data(ctx); err != nil {
		logger.WarnWithPrefix("Beacon", "Could not read eth1 data of head block: %v", err)
	} else {
		b.eth1.Add(epoch, eth1)
		state.Eth1Data = eth1
	}
	return state, nil
}

// fillHistory records the roots the duty engine reads: empty slots after the
// head and the first slot of the state's epoch.
func (b *beaconAttestantClient) fillHistory(ctx context.Context, state *domain.StateSnapshot) {
	head := state.LatestBlockHeader.Slot
	if head < state.Slot {
		from := head
		if uint64(state.Slot-head) > b.opts.SlotsPerHistoricalRoot {
			from = state.Slot - domain.Slot(b.opts.SlotsPerHistoricalRoot)
		}
		for s := from; s < state.Slot; s++ {
			state.BlockRoots.Set(s, state.LatestBlockRoot)
		}
	}

	epochStart := domain.Slot(uint64(state.Slot) / b.opts.SlotsPerEpoch * b.opts.SlotsPerEpoch)
	if epochStart < head && state.InHistoryWindow(epochStart) {
		root, err := b.blockRootAt(ctx, epochStart)
		if err != nil {
			logger.WarnWithPrefix("Beacon", "Could not read block root at slot %d: %v", epochStart, err)
			return
		}
		state.BlockRoots.Set(epochStart, root)
	}
}

// blockRootAt is the root of the latest block at or before slot.
func (b *beaconAttestantClient) blockRootAt(ctx context.Context, slot domain.Slot) (domain.Root, error) {
	if root, ok := b.roots.Get(slot); ok {
		return root, nil
	}
	for i := 0; i <= maxEmptySlotWalk; i++ {
		s := slot - domain.Slot(i)
		resp, err := b.client.BeaconBlockRoot(ctx, &api.BeaconBlockRootOpts{Block: strconv.FormatUint(uint64(s), 10)})
		if err != nil {
			if isNotFound(err) && s > 0 {
				continue // empty slot
			}
			return domain.Root{}, err
		}
		root := domain.Root(*resp.Data)
		b.roots.Add(slot, root)
		return root, nil
	}
	return domain.Root{}, fmt.Errorf("no block within %d slots before %d", maxEmptySlotWalk, slot)
}

func (b *beaconAttestantClient) GetBlockRootAtSlot(ctx context.Context, state *domain.StateSnapshot, slot domain.Slot) (domain.Root, error) {
	root, err := state.BlockRootAt(slot)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, domain.ErrBlockRootNotRetained) {
		return domain.Root{}, err
	}
	if slot >= state.LatestBlockHeader.Slot {
		return state.LatestBlockRoot, nil
	}
	return b.blockRootAt(ctx, slot)
}

// HeadVote asks the node's fork choice which block to vote for at slot.
func (b *beaconAttestantClient) HeadVote(ctx context.Context, slot domain.Slot) (domain.HeadVote, error) {
	resp, err := b.client.AttestationData(ctx, &api.AttestationDataOpts{Slot: phase0.Slot(slot), CommitteeIndex: 0})
	if err != nil {
		return domain.HeadVote{}, err
	}
	if resp.Data == nil || resp.Data.Target == nil {
		return domain.HeadVote{}, fmt.Errorf("empty attestation data for slot %d", slot)
	}
	return domain.HeadVote{
		BeaconBlockRoot: domain.Root(resp.Data.BeaconBlockRoot),
		Target:          toDomainCheckpoint(resp.Data.Target),
	}, nil
}

func (b *beaconAttestantClient) headEth1Data(ctx context.Context) (domain.Eth1Data, error) {
	resp, err := b.client.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{Block: "head"})
	if err != nil {
		return domain.Eth1Data{}, err
	}
	return eth1DataOf(resp.Data)
}
