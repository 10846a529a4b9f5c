package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dappnode/validator-duties/internal/adapters/memory"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	clock      *ChainClock
	beacon     *fakeBeacon
	signer     *countingSigner
	notifier   *fakeNotifier
	identities []domain.ValidatorIdentity
	scheduler  *DutyScheduler
}

// newSchedulerFixture builds a scheduler whose wall clock sits well past genesis,
// so the current slot has a future deadline.
func newSchedulerFixture(t *testing.T, validators int) *schedulerFixture {
	t.Helper()
	return newSchedulerFixtureAt(t, validators, time.Now().Add(-10_000*time.Second))
}

func newSchedulerFixtureAt(t *testing.T, validators int, genesis time.Time) *schedulerFixture {
	t.Helper()
	clock := NewChainClock(genesis, 6, 8)
	beacon := newFakeBeacon()
	signer, ids := newTestSigner(t, validators)
	for _, id := range ids {
		beacon.indices[id.PubKey] = id.Index
	}
	guard := NewSlashingGuard(memory.NewSlashingStore())
	notifier := &fakeNotifier{}

	s, err := NewDutyScheduler(SchedulerOpts{
		Clock:    clock,
		Beacon:   beacon,
		Resolver: &DutyResolver{Clock: clock, Beacon: beacon},
		Attester: &AttestationBuilder{
			Clock: clock, Beacon: beacon, Head: fakeHead{root: rootOf("head")},
			Signer: signer, Guard: guard, AttesterDomain: attesterDomain,
		},
		Proposer: &BlockDutyBuilder{
			Clock: clock, Assembler: fakeAssembler{}, Signer: signer, Guard: guard,
			RandaoDomain: randaoDomain, ProposerDomain: proposerDomain,
		},
		Notifier:          notifier,
		Identities:        ids,
		AttestationOffset: time.Nanosecond,
	})
	require.NoError(t, err)
	return &schedulerFixture{clock: clock, beacon: beacon, signer: signer, notifier: notifier, identities: ids, scheduler: s}
}

// assign gives identity i an attestation at slot and identity j, if >= 0, the proposal.
func (f *schedulerFixture) assign(slot domain.Slot, attester, proposer int) {
	epoch := f.clock.EpochOf(slot)
	a := &domain.EpochAssignments{
		Epoch:      epoch,
		Committees: map[domain.Slot][]domain.Committee{},
		Proposers:  map[domain.Slot]domain.ValidatorIndex{},
	}
	if attester >= 0 {
		a.Committees[slot] = []domain.Committee{{Index: 0, Validators: []domain.ValidatorIndex{1, f.identities[attester].Index, 2}}}
	}
	if proposer >= 0 {
		a.Proposers[slot] = f.identities[proposer].Index
	}
	f.beacon.assignments[epoch] = a
}

func (f *schedulerFixture) currentSlot() domain.Slot {
	return f.clock.CurrentSlot(time.Now())
}

func TestProcessSlotDispatchesDuties(t *testing.T) {
	f := newSchedulerFixture(t, 2)
	slot := f.currentSlot()
	f.assign(slot, 0, 1)

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))

	atts, blocks := f.beacon.published()
	assert.Equal(t, 1, atts)
	assert.Equal(t, 1, blocks)
	assert.Equal(t, f.identities[0].Index, f.beacon.attestations[0].AttesterIndex)
	assert.True(t, f.beacon.attestations[0].AggregationBits.BitAt(1))
	assert.Equal(t, f.identities[1].Index, f.beacon.blocks[0].Block.Draft.ProposerIndex)

	assert.Equal(t, StateAwaitingSlotBoundary, f.scheduler.State())
	require.NotNil(t, f.scheduler.Snapshot())
	assert.Equal(t, slot, f.scheduler.Snapshot().Slot)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "proposal", sent[0].kind)
	assert.True(t, sent[0].proposed)
}

func TestProcessSlotTargetsBlockSeenAfterBoundary(t *testing.T) {
	// one second into slot 1600, the first slot of epoch 200
	f := newSchedulerFixtureAt(t, 1, time.Now().Add(-(1600*6+1)*time.Second))
	slot := f.currentSlot()
	require.Equal(t, domain.Slot(1600), slot)
	f.assign(slot, 0, -1)
	// the node's head is still block 1599 at the boundary; block 1600 lands before attesting
	f.scheduler.Attester.Head = fakeHead{
		root:   rootOf("block-1600"),
		target: domain.Checkpoint{Epoch: 200, Root: rootOf("block-1600")},
	}

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))

	atts, _ := f.beacon.published()
	require.Equal(t, 1, atts)
	data := f.beacon.attestations[0].Data
	assert.Equal(t, rootOf("block-1599"), f.scheduler.Snapshot().LatestBlockRoot)
	assert.Equal(t, rootOf("block-1600"), data.BeaconBlockRoot)
	assert.Equal(t, domain.Checkpoint{Epoch: 200, Root: rootOf("block-1600")}, data.Target)
}

func TestProcessSlotStateFetchFailure(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	slot := f.currentSlot()
	f.assign(slot, 0, -1)
	f.beacon.stateErr = errors.New("connection refused")

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))

	atts, _ := f.beacon.published()
	assert.Equal(t, 0, atts)
	assert.Equal(t, 0, f.beacon.assignmentCalls(f.clock.EpochOf(slot)))
	assert.Equal(t, int64(0), f.signer.calls.Load())
	assert.Equal(t, StateAwaitingSlotBoundary, f.scheduler.State())

	// next slot retries
	f.beacon.stateErr = nil
	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))
	atts, _ = f.beacon.published()
	assert.Equal(t, 1, atts)
}

func TestProcessSlotIsolatesFailingIdentity(t *testing.T) {
	f := newSchedulerFixture(t, 2)
	slot := f.currentSlot()
	epoch := f.clock.EpochOf(slot)
	f.beacon.assignments[epoch] = &domain.EpochAssignments{
		Epoch: epoch,
		Committees: map[domain.Slot][]domain.Committee{
			slot: {{Index: 0, Validators: []domain.ValidatorIndex{f.identities[0].Index, f.identities[1].Index}}},
		},
	}
	f.signer.refuse = map[domain.BLSPubKey]bool{f.identities[0].PubKey: true}

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))

	atts, _ := f.beacon.published()
	require.Equal(t, 1, atts)
	assert.Equal(t, f.identities[1].Index, f.beacon.attestations[0].AttesterIndex)
}

func TestProcessSlotPublishFailureIsNotRetried(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	slot := f.currentSlot()
	f.assign(slot, 0, -1)
	f.beacon.publishErr = errors.New("503")

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), slot))
	assert.Equal(t, int64(1), f.signer.calls.Load())

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "failed-attest", sent[0].kind)
}

func TestProcessSlotCachesDutiesAndLooksAhead(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	// past slots are fine here: nothing is dispatched
	epoch := domain.Epoch(3)
	first, err := f.clock.StartSlotOf(epoch)
	require.NoError(t, err)
	last, err := f.clock.LastSlotOf(epoch)
	require.NoError(t, err)

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), first))
	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), first+1))
	assert.Equal(t, 1, f.beacon.assignmentCalls(epoch))
	assert.Equal(t, 0, f.beacon.assignmentCalls(epoch+1))

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), last))
	assert.Equal(t, 1, f.beacon.assignmentCalls(epoch))
	assert.Equal(t, 1, f.beacon.assignmentCalls(epoch+1))

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), last+1))
	assert.Equal(t, 1, f.beacon.assignmentCalls(epoch+1))
}

// waitingHead holds the head vote until released, or gives up after a while.
type waitingHead struct {
	fakeHead
	release  <-chan struct{}
	released atomic.Bool
}

func (h *waitingHead) HeadVote(ctx context.Context, slot domain.Slot) (domain.HeadVote, error) {
	select {
	case <-h.release:
		h.released.Store(true)
	case <-time.After(2 * time.Second):
	}
	return h.fakeHead.HeadVote(ctx, slot)
}

func TestProcessSlotLooksAheadWhileAttesting(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	epoch := domain.Epoch(3)
	last, err := f.clock.LastSlotOf(epoch)
	require.NoError(t, err)
	f.assign(last, 0, -1)

	resolved := make(chan struct{})
	var once sync.Once
	f.beacon.onAssign = func(e domain.Epoch) {
		if e == epoch+1 {
			once.Do(func() { close(resolved) })
		}
	}
	head := &waitingHead{fakeHead: fakeHead{root: rootOf("head")}, release: resolved}
	f.scheduler.Attester.Head = head

	require.NoError(t, f.scheduler.ProcessSlot(context.Background(), last))

	atts, _ := f.beacon.published()
	assert.Equal(t, 1, atts)
	assert.True(t, head.released.Load(), "next epoch was not resolved before the attestation was built")
	assert.Equal(t, 1, f.beacon.assignmentCalls(epoch+1))
}

type chanTicker struct {
	c chan domain.Slot
}

func (t *chanTicker) C() <-chan domain.Slot { return t.c }
func (t *chanTicker) Done()                 {}

func TestRunStopsOnCancel(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	ticker := &chanTicker{c: make(chan domain.Slot)}
	f.scheduler.NewTicker = func() Ticker { return ticker }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	ticker.c <- f.currentSlot()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, StateStopped, f.scheduler.State())
	f.beacon.mu.Lock()
	assert.Equal(t, 1, f.beacon.stateCalls)
	f.beacon.mu.Unlock()
}

func TestNewDutySchedulerDefaults(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	s := f.scheduler
	assert.Equal(t, time.Second+500*time.Millisecond, s.StateFetchTimeout)
	assert.Equal(t, 2*time.Second, s.SubmitTimeout)
	assert.Equal(t, defaultMaxWorkers, s.MaxWorkers)
	assert.Equal(t, uint64(defaultLookaheadSlots), s.LookaheadSlots)

	_, err := NewDutyScheduler(SchedulerOpts{})
	assert.Error(t, err)
}
