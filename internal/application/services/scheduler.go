package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/dappnode/validator-duties/internal/logger"
	"github.com/dappnode/validator-duties/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type SchedulerState int32

const (
	StateIdle SchedulerState = iota
	StateAwaitingSlotBoundary
	StateFetchingState
	StateResolvingDuties
	StateDispatching
	StateSubmitting
	StateStopped
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSlotBoundary:
		return "awaiting-slot-boundary"
	case StateFetchingState:
		return "fetching-state"
	case StateResolvingDuties:
		return "resolving-duties"
	case StateDispatching:
		return "dispatching"
	case StateSubmitting:
		return "submitting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	dutyCacheEpochs       = 4
	defaultLookaheadSlots = 2
	defaultMaxWorkers     = 16
)

type SchedulerOpts struct {
	Clock       *ChainClock
	Beacon      ports.ConsensusNodeClient
	Resolver    *DutyResolver
	Attester    *AttestationBuilder
	Proposer    *BlockDutyBuilder
	Notifier    ports.NotifierPort    // optional
	Dappmanager ports.DappManagerPort // optional
	Identities  []domain.ValidatorIdentity

	StateFetchTimeout time.Duration
	SubmitTimeout     time.Duration
	// AttestationOffset is how far into the slot attestations wait for the block. Defaults to a third.
	AttestationOffset time.Duration
	MaxWorkers        int
	LookaheadSlots    uint64

	// NewTicker overrides the wall clock slot ticker.
	NewTicker func() Ticker
}

// DutyScheduler runs the per-slot duty cycle.
type DutyScheduler struct {
	SchedulerOpts

	state    atomic.Int32
	duties   *lru.Cache[domain.Epoch, map[domain.BLSPubKey]domain.Duties]
	inflight sync.WaitGroup

	snapshotMu sync.RWMutex
	snapshot   *domain.StateSnapshot

	notificationsMu      sync.RWMutex
	notificationsEnabled domain.ValidatorNotificationsEnabled
}

func NewDutyScheduler(opts SchedulerOpts) (*DutyScheduler, error) {
	if opts.Clock == nil || opts.Beacon == nil || opts.Resolver == nil || opts.Attester == nil || opts.Proposer == nil {
		return nil, errors.New("scheduler requires clock, beacon, resolver and builders")
	}
	cache, err := lru.New[domain.Epoch, map[domain.BLSPubKey]domain.Duties](dutyCacheEpochs)
	if err != nil {
		return nil, err
	}
	slot := opts.Clock.SlotDuration()
	if opts.StateFetchTimeout <= 0 {
		opts.StateFetchTimeout = slot / 4
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = slot / 3
	}
	if opts.AttestationOffset <= 0 {
		opts.AttestationOffset = slot / 3
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.LookaheadSlots == 0 {
		opts.LookaheadSlots = defaultLookaheadSlots
	}
	if opts.NewTicker == nil {
		clock := opts.Clock
		opts.NewTicker = func() Ticker { return NewSlotTicker(clock.Genesis(), clock.SecondsPerSlot()) }
	}
	return &DutyScheduler{SchedulerOpts: opts, duties: cache}, nil
}

func (s *DutyScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

func (s *DutyScheduler) setState(st SchedulerState) {
	s.state.Store(int32(st))
}

// Snapshot returns the state fetched at the latest boundary.
func (s *DutyScheduler) Snapshot() *domain.StateSnapshot {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

func (s *DutyScheduler) setSnapshot(state *domain.StateSnapshot) {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()
	s.snapshot = state
}

// Run blocks until ctx is cancelled or the clock cannot advance. In-flight
// signing and submission complete before Run returns.
func (s *DutyScheduler) Run(ctx context.Context) error {
	ticker := s.NewTicker()
	defer ticker.Done()
	defer func() {
		s.inflight.Wait()
		s.setState(StateStopped)
		logger.InfoWithPrefix("Scheduler", "Stopped")
	}()

	logger.InfoWithPrefix("Scheduler", "Starting duty cycle for %d validators", len(s.Identities))
	s.setState(StateAwaitingSlotBoundary)
	for {
		select {
		case <-ctx.Done():
			logger.InfoWithPrefix("Scheduler", "Shutdown requested")
			return nil
		case slot := <-ticker.C():
			if err := s.ProcessSlot(ctx, slot); err != nil {
				return err
			}
		}
	}
}

// ProcessSlot runs one full cycle for slot. Only clock failures are returned;
// everything else is logged and the cycle ends at the next boundary.
func (s *DutyScheduler) ProcessSlot(ctx context.Context, slot domain.Slot) error {
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.setState(StateAwaitingSlotBoundary)

	metrics.CurrentSlot.Set(float64(slot))
	deadline, err := s.Clock.SlotStart(slot + 1)
	if err != nil {
		return err
	}

	s.setState(StateFetchingState)
	fetchCtx, cancel := context.WithTimeout(ctx, s.StateFetchTimeout)
	state, err := s.Beacon.GetState(fetchCtx, slot)
	cancel()
	if err != nil {
		metrics.StateFetchFailures.Inc()
		logger.ErrorWithPrefix("Scheduler", "Could not fetch state for slot %d, retrying at next slot: %v", slot, err)
		return nil
	}
	s.setSnapshot(state)

	s.setState(StateResolvingDuties)
	epoch := s.Clock.EpochOf(slot)
	duties, err := s.dutiesFor(ctx, state, epoch)
	if err != nil {
		if errors.Is(err, domain.ErrArithmeticOverflow) {
			return err
		}
		logger.ErrorWithPrefix("Scheduler", "Could not resolve duties for epoch %d: %v", epoch, err)
		return nil
	}

	// The next epoch resolves while this slot's duties wait for their offsets.
	var lookahead sync.WaitGroup
	if s.Clock.SlotsUntilEpochEnd(slot) < s.LookaheadSlots {
		if _, ok := s.duties.Peek(epoch + 1); !ok {
			lookahead.Add(1)
			go func() {
				defer lookahead.Done()
				if _, err := s.dutiesFor(ctx, state, epoch+1); err != nil {
					logger.WarnWithPrefix("Scheduler", "Could not pre-resolve duties for epoch %d: %v", epoch+1, err)
				}
			}()
		}
	}

	// Work for this slot is not cancelled by shutdown, only by the end of the slot.
	workCtx, cancelWork := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancelWork()
	err = s.dispatch(workCtx, state, slot, duties)
	lookahead.Wait()
	return err
}

func (s *DutyScheduler) dutiesFor(ctx context.Context, state *domain.StateSnapshot, epoch domain.Epoch) (map[domain.BLSPubKey]domain.Duties, error) {
	if duties, ok := s.duties.Get(epoch); ok {
		return duties, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.StateFetchTimeout)
	defer cancel()
	duties, err := s.Resolver.ResolveEpoch(fetchCtx, state, epoch, s.Identities)
	if err != nil {
		return nil, err
	}
	s.duties.Add(epoch, duties)
	s.refreshNotifications(fetchCtx)

	var attest, propose int
	for _, ds := range duties {
		for _, d := range ds {
			switch d.Kind() {
			case domain.DutyKindAttest:
				attest++
			case domain.DutyKindPropose:
				propose++
			}
		}
	}
	metrics.DutiesResolved.WithLabelValues(domain.DutyKindAttest.String()).Add(float64(attest))
	metrics.DutiesResolved.WithLabelValues(domain.DutyKindPropose.String()).Add(float64(propose))
	logger.InfoWithPrefix("Scheduler", "Resolved epoch %d: %d attestations, %d proposals for %d validators", epoch, attest, propose, len(duties))
	return duties, nil
}

// dispatch runs every identity's work for slot in parallel. Proposals start at
// once, attestations after AttestationOffset. A failing identity never stops the others.
func (s *DutyScheduler) dispatch(ctx context.Context, state *domain.StateSnapshot, slot domain.Slot, duties map[domain.BLSPubKey]domain.Duties) error {
	s.setState(StateDispatching)

	type attestJob struct {
		identity domain.ValidatorIdentity
		duty     domain.AttesterDuty
	}
	var attestJobs []attestJob

	g := new(errgroup.Group)
	g.SetLimit(s.MaxWorkers)
	for _, identity := range s.Identities {
		ds := duties[identity.PubKey]
		if p, ok := ds.ProposerAt(slot); ok {
			g.Go(func() error {
				s.propose(ctx, state, identity, p)
				return nil
			})
		}
		if a, ok := ds.AttesterAt(slot); ok {
			attestJobs = append(attestJobs, attestJob{identity, a})
		}
	}

	if len(attestJobs) > 0 {
		start, err := s.Clock.SlotStart(slot)
		if err != nil {
			_ = g.Wait()
			return err
		}
		s.waitUntil(ctx, start.Add(s.AttestationOffset))
		for _, job := range attestJobs {
			g.Go(func() error {
				s.attest(ctx, state, job.identity, job.duty)
				return nil
			})
		}
	}

	s.setState(StateSubmitting)
	return g.Wait()
}

func (s *DutyScheduler) waitUntil(ctx context.Context, t time.Time) {
	wait := time.Until(t)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *DutyScheduler) attest(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, duty domain.AttesterDuty) {
	key := identity.PubKey.Short()
	att, err := s.Attester.Build(ctx, state, identity, duty)
	if err != nil {
		if errors.Is(err, domain.ErrSigningRejected) {
			metrics.AttestRejectedVec.WithLabelValues(key).Inc()
			logger.WarnWithPrefix("Attester", "⛔ Refused to sign attestation for validator %s at slot %d: %v", identity, duty.Slot, err)
			s.notify(domain.SlashingProtection, func(n ports.NotifierPort) error {
				return n.SendSigningRejectedNot(identity.Index, domain.DutyKindAttest, duty.Slot)
			})
			return
		}
		metrics.AttestFailVec.WithLabelValues(key).Inc()
		logger.ErrorWithPrefix("Attester", "❌ Could not build attestation for validator %s at slot %d: %v", identity, duty.Slot, err)
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	defer cancel()
	if err := s.Beacon.PublishAttestation(submitCtx, att); err != nil {
		metrics.AttestFailVec.WithLabelValues(key).Inc()
		logger.ErrorWithPrefix("Attester", "❌ Could not submit attestation for validator %s at slot %d: %v", identity, duty.Slot, err)
		s.notify(domain.DutyFailure, func(n ports.NotifierPort) error {
			return n.SendDutyFailedNot(identity.Index, domain.DutyKindAttest, duty.Slot, err.Error())
		})
		return
	}
	metrics.AttestSuccessVec.WithLabelValues(key).Inc()
	logger.InfoWithPrefix("Attester", "✅ Submitted attestation for validator %s at slot %d (target epoch %d, head %s)",
		identity, duty.Slot, att.Data.Target.Epoch, att.Data.BeaconBlockRoot)
}

func (s *DutyScheduler) propose(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, duty domain.ProposerDuty) {
	key := identity.PubKey.Short()
	block, err := s.Proposer.Propose(ctx, state, identity, duty)
	if err != nil {
		if errors.Is(err, domain.ErrSigningRejected) {
			metrics.ProposeRejectedVec.WithLabelValues(key).Inc()
			logger.WarnWithPrefix("Proposer", "⛔ Refused to sign block for validator %s at slot %d: %v", identity, duty.Slot, err)
			s.notify(domain.SlashingProtection, func(n ports.NotifierPort) error {
				return n.SendSigningRejectedNot(identity.Index, domain.DutyKindPropose, duty.Slot)
			})
			return
		}
		metrics.ProposeFailVec.WithLabelValues(key).Inc()
		logger.ErrorWithPrefix("Proposer", "❌ Could not build block for validator %s at slot %d: %v", identity, duty.Slot, err)
		s.notify(domain.BlockProposal, func(n ports.NotifierPort) error {
			return n.SendBlockProposalNot(identity.Index, duty.Slot, false)
		})
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.SubmitTimeout)
	defer cancel()
	if err := s.Beacon.PublishBlock(submitCtx, block); err != nil {
		metrics.ProposeFailVec.WithLabelValues(key).Inc()
		logger.ErrorWithPrefix("Proposer", "❌ Could not submit block for validator %s at slot %d: %v", identity, duty.Slot, err)
		s.notify(domain.BlockProposal, func(n ports.NotifierPort) error {
			return n.SendBlockProposalNot(identity.Index, duty.Slot, false)
		})
		return
	}
	metrics.ProposeSuccessVec.WithLabelValues(key).Inc()
	logger.InfoWithPrefix("Proposer", "✅ Submitted block %s for validator %s at slot %d", block.Block.Root, identity, duty.Slot)
	s.notify(domain.BlockProposal, func(n ports.NotifierPort) error {
		return n.SendBlockProposalNot(identity.Index, duty.Slot, true)
	})
}

func (s *DutyScheduler) refreshNotifications(ctx context.Context) {
	if s.Dappmanager == nil {
		return
	}
	enabled, err := s.Dappmanager.GetNotificationsEnabled(ctx)
	if err != nil {
		logger.WarnWithPrefix("Scheduler", "Error fetching notifications enabled, keeping previous settings: %v", err)
		return
	}
	s.notificationsMu.Lock()
	s.notificationsEnabled = enabled
	s.notificationsMu.Unlock()
}

// notify sends a notification when a notifier is configured and, if the
// dappmanager is known, the notification is enabled there.
func (s *DutyScheduler) notify(kind domain.ValidatorNotification, send func(ports.NotifierPort) error) {
	if s.Notifier == nil {
		return
	}
	if s.Dappmanager != nil {
		s.notificationsMu.RLock()
		enabled := s.notificationsEnabled[kind]
		s.notificationsMu.RUnlock()
		if !enabled {
			return
		}
	}
	if err := send(s.Notifier); err != nil {
		logger.WarnWithPrefix("Scheduler", "Error sending %s notification: %v", kind, err)
	}
}
