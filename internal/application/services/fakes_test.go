package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dappnode/validator-duties/internal/adapters/localsigner"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	attesterDomain = domain.DomainTypeFromUint32(1)
	proposerDomain = domain.DomainTypeFromUint32(0)
	randaoDomain   = domain.DomainTypeFromUint32(2)

	testFork = domain.Fork{
		PreviousVersion: domain.Version{0, 0, 0, 1},
		CurrentVersion:  domain.Version{0, 0, 0, 2},
		Epoch:           1,
	}
)

func rootOf(s string) domain.Root {
	return domain.Root(sha256.Sum256([]byte(s)))
}

// newTestState returns a snapshot at slot whose head block sits at headSlot.
func newTestState(slot, headSlot domain.Slot) *domain.StateSnapshot {
	state := &domain.StateSnapshot{
		Slot:            slot,
		Fork:            testFork,
		LatestBlockRoot: rootOf(fmt.Sprintf("block-%d", headSlot)),
		LatestBlockHeader: domain.BeaconBlockHeader{
			Slot: headSlot,
		},
		BlockRoots:                 domain.NewBlockRootHistory(64),
		CurrentJustifiedCheckpoint: domain.Checkpoint{Epoch: 1, Root: rootOf("justified")},
		FinalizedCheckpoint:        domain.Checkpoint{Epoch: 0, Root: rootOf("finalized")},
		Eth1Data:                   domain.Eth1Data{DepositCount: 3},
	}
	for s := headSlot; s < slot; s++ {
		state.BlockRoots.Set(s, state.LatestBlockRoot)
	}
	return state
}

// fakeBeacon is an in-memory ConsensusNodeClient.
type fakeBeacon struct {
	mu sync.Mutex

	headSlot    domain.Slot
	stateErr    error
	stateCalls  int
	assignments map[domain.Epoch]*domain.EpochAssignments
	assignCalls map[domain.Epoch]int
	indices     map[domain.BLSPubKey]domain.ValidatorIndex
	fallback    domain.Root
	onAssign    func(domain.Epoch)

	publishErr   error
	attestations []*domain.Attestation
	blocks       []*domain.SignedBlock
}

var _ ports.ConsensusNodeClient = (*fakeBeacon)(nil)

func newFakeBeacon() *fakeBeacon {
	return &fakeBeacon{
		assignments: make(map[domain.Epoch]*domain.EpochAssignments),
		assignCalls: make(map[domain.Epoch]int),
		indices:     make(map[domain.BLSPubKey]domain.ValidatorIndex),
		fallback:    rootOf("fallback"),
	}
}

func (f *fakeBeacon) GetGenesisTime(context.Context) (time.Time, error) {
	return time.Unix(0, 0), nil
}

func (f *fakeBeacon) GetState(_ context.Context, slot domain.Slot) (*domain.StateSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	head := f.headSlot
	if head == 0 && slot > 0 {
		head = slot - 1
	}
	return newTestState(slot, head), nil
}

func (f *fakeBeacon) GetAssignments(_ context.Context, epoch domain.Epoch, _ []domain.ValidatorIndex) (*domain.EpochAssignments, error) {
	if f.onAssign != nil {
		f.onAssign(epoch)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls[epoch]++
	if a, ok := f.assignments[epoch]; ok {
		return a, nil
	}
	return &domain.EpochAssignments{Epoch: epoch}, nil
}

func (f *fakeBeacon) GetBlockRootAtSlot(_ context.Context, state *domain.StateSnapshot, slot domain.Slot) (domain.Root, error) {
	root, err := state.BlockRootAt(slot)
	if errors.Is(err, domain.ErrBlockRootNotRetained) {
		return f.fallback, nil
	}
	return root, err
}

func (f *fakeBeacon) GetValidatorIndicesByPubkeys(_ context.Context, pubkeys []domain.BLSPubKey) (map[domain.BLSPubKey]domain.ValidatorIndex, error) {
	out := make(map[domain.BLSPubKey]domain.ValidatorIndex)
	for _, pk := range pubkeys {
		if idx, ok := f.indices[pk]; ok {
			out[pk] = idx
		}
	}
	return out, nil
}

func (f *fakeBeacon) PublishAttestation(_ context.Context, att *domain.Attestation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &domain.PublishError{Kind: "attestation", Err: f.publishErr}
	}
	f.attestations = append(f.attestations, att)
	return nil
}

func (f *fakeBeacon) PublishBlock(_ context.Context, block *domain.SignedBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &domain.PublishError{Kind: "block", Err: f.publishErr}
	}
	f.blocks = append(f.blocks, block)
	return nil
}

func (f *fakeBeacon) published() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attestations), len(f.blocks)
}

func (f *fakeBeacon) assignmentCalls(epoch domain.Epoch) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignCalls[epoch]
}

// fakeHead votes for root. A zero target means fork choice knows no block in the duty's epoch.
type fakeHead struct {
	root   domain.Root
	target domain.Checkpoint
}

func (h fakeHead) HeadVote(context.Context, domain.Slot) (domain.HeadVote, error) {
	return domain.HeadVote{BeaconBlockRoot: h.root, Target: h.target}, nil
}

// fakeAssembler "builds" a block whose root is derived from the draft. The
// parent and eth1 vote follow the draft unless overridden.
type fakeAssembler struct {
	err    error
	parent *domain.Root
	eth1   *domain.Eth1Data
}

func (a fakeAssembler) AssembleBlock(_ context.Context, draft domain.BlockHeaderDraft) (*domain.UnsignedBlock, error) {
	if a.err != nil {
		return nil, a.err
	}
	block := &domain.UnsignedBlock{
		Draft: draft,
		Root:  rootOf(fmt.Sprintf("body-%d-%d", draft.Slot, draft.ProposerIndex)),
		Header: domain.BeaconBlockHeader{
			Slot:          draft.Slot,
			ProposerIndex: draft.ProposerIndex,
			ParentRoot:    draft.ParentRoot,
			BodyRoot:      rootOf(fmt.Sprintf("body-%d", draft.Slot)),
		},
		Eth1Data: draft.Eth1Data,
		Version:  "PHASE0",
	}
	if a.parent != nil {
		block.Header.ParentRoot = *a.parent
	}
	if a.eth1 != nil {
		block.Eth1Data = *a.eth1
	}
	return block, nil
}

type notification struct {
	kind     string
	index    domain.ValidatorIndex
	slot     domain.Slot
	proposed bool
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) SendSigningRejectedNot(idx domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "rejected-" + kind.String(), index: idx, slot: slot})
	return nil
}

func (n *fakeNotifier) SendBlockProposalNot(idx domain.ValidatorIndex, slot domain.Slot, proposed bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "proposal", index: idx, slot: slot, proposed: proposed})
	return nil
}

func (n *fakeNotifier) SendDutyFailedNot(idx domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "failed-" + kind.String(), index: idx, slot: slot})
	return nil
}

func (n *fakeNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

// countingSigner counts calls and can refuse chosen keys.
type countingSigner struct {
	ports.Signer
	calls  atomic.Int64
	refuse map[domain.BLSPubKey]bool
}

func (s *countingSigner) Sign(ctx context.Context, identity domain.ValidatorIdentity, req ports.SignRequest) (domain.BLSSignature, error) {
	s.calls.Add(1)
	if s.refuse[identity.PubKey] {
		return domain.BLSSignature{}, errors.New("remote signer unavailable")
	}
	return s.Signer.Sign(ctx, identity, req)
}

type failingStore struct {
	saveErr error
}

func (s failingStore) LoadRecord(context.Context, domain.BLSPubKey) (domain.SlashingRecord, bool, error) {
	return domain.SlashingRecord{}, false, nil
}

func (s failingStore) SaveRecord(context.Context, domain.BLSPubKey, domain.SlashingRecord) error {
	return s.saveErr
}

// newTestSigner returns a local signer with n keys and identities indexed from 10.
func newTestSigner(t *testing.T, n int) (*countingSigner, []domain.ValidatorIdentity) {
	t.Helper()
	seeds := make([][]byte, n)
	for i := range seeds {
		seed := sha256.Sum256([]byte(fmt.Sprintf("validator-seed-%d", i)))
		seeds[i] = seed[:]
	}
	local, err := localsigner.NewFromSeeds(seeds...)
	require.NoError(t, err)

	pks := local.PubKeys()
	require.Len(t, pks, n)
	identities := make([]domain.ValidatorIdentity, n)
	for i, pk := range pks {
		identities[i] = domain.ValidatorIdentity{PubKey: pk, Index: domain.ValidatorIndex(10 + i), KeyHandle: pk.String()}
	}
	return &countingSigner{Signer: local}, identities
}
