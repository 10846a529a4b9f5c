package services

import (
	"context"
	"sync"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/dappnode/validator-duties/internal/logger"
	"github.com/pkg/errors"
)

// SignFunc produces a signature once the guard has cleared the message.
type SignFunc func() (domain.BLSSignature, error)

// SlashingGuard refuses to sign messages that could conflict with an earlier signature.
// All operations for one public key are serialised; different keys proceed in parallel.
type SlashingGuard struct {
	store ports.SlashingStore

	mu      sync.Mutex
	entries map[domain.BLSPubKey]*guardEntry
}

type guardEntry struct {
	mu     sync.Mutex
	loaded bool
	record domain.SlashingRecord
}

func NewSlashingGuard(store ports.SlashingStore) *SlashingGuard {
	return &SlashingGuard{
		store:   store,
		entries: make(map[domain.BLSPubKey]*guardEntry),
	}
}

func (g *SlashingGuard) entry(pubkey domain.BLSPubKey) *guardEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[pubkey]
	if !ok {
		e = &guardEntry{}
		g.entries[pubkey] = e
	}
	return e
}

// lock acquires the entry of pubkey and makes sure its record is loaded from the store.
func (g *SlashingGuard) lock(ctx context.Context, pubkey domain.BLSPubKey) (*guardEntry, error) {
	e := g.entry(pubkey)
	e.mu.Lock()
	if e.loaded {
		return e, nil
	}
	record, _, err := g.store.LoadRecord(ctx, pubkey)
	if err != nil {
		e.mu.Unlock()
		return nil, errors.Wrapf(err, "could not load slashing record of %s", pubkey.Short())
	}
	e.record = record
	e.loaded = true
	return e, nil
}

// Record returns the in-memory record of pubkey, loading it if needed.
func (g *SlashingGuard) Record(ctx context.Context, pubkey domain.BLSPubKey) (domain.SlashingRecord, error) {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return domain.SlashingRecord{}, err
	}
	defer e.mu.Unlock()
	return e.record, nil
}

func checkAttestation(r domain.SlashingRecord, source, target domain.Epoch) error {
	if source > target {
		return errors.Wrapf(domain.ErrSlashableAttestation, "source epoch %d after target epoch %d", source, target)
	}
	if r.HasAttested && target <= r.MaxTargetEpoch {
		return errors.Wrapf(domain.ErrSlashableAttestation, "target epoch %d not after recorded %d", target, r.MaxTargetEpoch)
	}
	return nil
}

func checkProposal(r domain.SlashingRecord, slot domain.Slot) error {
	if r.HasProposed && slot <= r.MaxProposalSlot {
		return errors.Wrapf(domain.ErrSlashableProposal, "slot %d not after recorded %d", slot, r.MaxProposalSlot)
	}
	return nil
}

func (g *SlashingGuard) CheckAttestation(ctx context.Context, pubkey domain.BLSPubKey, source, target domain.Epoch) error {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return checkAttestation(e.record, source, target)
}

func (g *SlashingGuard) CheckProposal(ctx context.Context, pubkey domain.BLSPubKey, slot domain.Slot) error {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return checkProposal(e.record, slot)
}

func (g *SlashingGuard) RecordAttestation(ctx context.Context, pubkey domain.BLSPubKey, source, target domain.Epoch) error {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return g.recordAttestation(ctx, e, pubkey, source, target)
}

func (g *SlashingGuard) RecordProposal(ctx context.Context, pubkey domain.BLSPubKey, slot domain.Slot) error {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return g.recordProposal(ctx, e, pubkey, slot)
}

// recordAttestation persists first and only then updates memory. Caller holds e.mu.
func (g *SlashingGuard) recordAttestation(ctx context.Context, e *guardEntry, pubkey domain.BLSPubKey, source, target domain.Epoch) error {
	if e.record.HasAttested && target <= e.record.MaxTargetEpoch {
		logger.ErrorWithPrefix("Guard", "Refusing to lower attestation record of %s from %d to %d", pubkey.Short(), e.record.MaxTargetEpoch, target)
		return errors.Wrapf(domain.ErrNonMonotonicRecord, "target epoch %d, recorded %d", target, e.record.MaxTargetEpoch)
	}
	next := e.record
	next.HasAttested = true
	next.MaxTargetEpoch = target
	if source > next.MaxSourceEpoch {
		next.MaxSourceEpoch = source
	}
	if err := g.store.SaveRecord(ctx, pubkey, next); err != nil {
		return errors.Wrapf(err, "could not persist attestation record of %s", pubkey.Short())
	}
	e.record = next
	return nil
}

func (g *SlashingGuard) recordProposal(ctx context.Context, e *guardEntry, pubkey domain.BLSPubKey, slot domain.Slot) error {
	if e.record.HasProposed && slot <= e.record.MaxProposalSlot {
		logger.ErrorWithPrefix("Guard", "Refusing to lower proposal record of %s from %d to %d", pubkey.Short(), e.record.MaxProposalSlot, slot)
		return errors.Wrapf(domain.ErrNonMonotonicRecord, "proposal slot %d, recorded %d", slot, e.record.MaxProposalSlot)
	}
	next := e.record
	next.HasProposed = true
	next.MaxProposalSlot = slot
	if err := g.store.SaveRecord(ctx, pubkey, next); err != nil {
		return errors.Wrapf(err, "could not persist proposal record of %s", pubkey.Short())
	}
	e.record = next
	return nil
}

// ProtectAttestation checks, signs and records in one critical section for pubkey.
// sign is not called when the check fails. A signature whose record could not be
// persisted is dropped.
func (g *SlashingGuard) ProtectAttestation(ctx context.Context, pubkey domain.BLSPubKey, source, target domain.Epoch, sign SignFunc) (domain.BLSSignature, error) {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return domain.BLSSignature{}, err
	}
	defer e.mu.Unlock()

	if err := checkAttestation(e.record, source, target); err != nil {
		return domain.BLSSignature{}, err
	}
	sig, err := sign()
	if err != nil {
		return domain.BLSSignature{}, err
	}
	if err := g.recordAttestation(ctx, e, pubkey, source, target); err != nil {
		return domain.BLSSignature{}, err
	}
	return sig, nil
}

// ProtectProposal is ProtectAttestation for block proposals, keyed on slot.
func (g *SlashingGuard) ProtectProposal(ctx context.Context, pubkey domain.BLSPubKey, slot domain.Slot, sign SignFunc) (domain.BLSSignature, error) {
	e, err := g.lock(ctx, pubkey)
	if err != nil {
		return domain.BLSSignature{}, err
	}
	defer e.mu.Unlock()

	if err := checkProposal(e.record, slot); err != nil {
		return domain.BLSSignature{}, err
	}
	sig, err := sign()
	if err != nil {
		return domain.BLSSignature{}, err
	}
	if err := g.recordProposal(ctx, e, pubkey, slot); err != nil {
		return domain.BLSSignature{}, err
	}
	return sig, nil
}
