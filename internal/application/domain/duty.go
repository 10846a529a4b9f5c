package domain

import "fmt"

type DutyKind int

const (
	DutyKindNone DutyKind = iota
	DutyKindAttest
	DutyKindPropose
)

func (k DutyKind) String() string {
	switch k {
	case DutyKindAttest:
		return "attest"
	case DutyKindPropose:
		return "propose"
	default:
		return "none"
	}
}

// Duty is one consensus obligation of a validator in an epoch.
type Duty interface {
	Kind() DutyKind
}

type AttesterDuty struct {
	Slot                Slot
	CommitteeIndex      CommitteeIndex
	PositionInCommittee uint64
	CommitteeLength     uint64
	CommitteesAtSlot    uint64
}

func (AttesterDuty) Kind() DutyKind { return DutyKindAttest }

func (d AttesterDuty) String() string {
	return fmt.Sprintf("attest(slot=%d committee=%d position=%d/%d)", d.Slot, d.CommitteeIndex, d.PositionInCommittee, d.CommitteeLength)
}

type ProposerDuty struct {
	Slot Slot
}

func (ProposerDuty) Kind() DutyKind { return DutyKindPropose }

func (d ProposerDuty) String() string {
	return fmt.Sprintf("propose(slot=%d)", d.Slot)
}

type NoDuty struct{}

func (NoDuty) Kind() DutyKind { return DutyKindNone }

func (NoDuty) String() string { return "none" }

// Duties is the list resolved for one identity in one epoch.
type Duties []Duty

// AttesterAt returns the attestation duty at slot, if any.
func (ds Duties) AttesterAt(slot Slot) (AttesterDuty, bool) {
	for _, d := range ds {
		if a, ok := d.(AttesterDuty); ok && a.Slot == slot {
			return a, true
		}
	}
	return AttesterDuty{}, false
}

// ProposerAt returns the proposal duty at slot, if any.
func (ds Duties) ProposerAt(slot Slot) (ProposerDuty, bool) {
	for _, d := range ds {
		if p, ok := d.(ProposerDuty); ok && p.Slot == slot {
			return p, true
		}
	}
	return ProposerDuty{}, false
}

func (ds Duties) IsNone() bool {
	for _, d := range ds {
		if d.Kind() != DutyKindNone {
			return false
		}
	}
	return true
}

// Committee is one beacon committee as returned by the shuffling oracle.
type Committee struct {
	Index      CommitteeIndex
	Validators []ValidatorIndex
}

// EpochAssignments is the committee and proposer layout of one epoch.
type EpochAssignments struct {
	Epoch      Epoch
	Committees map[Slot][]Committee
	Proposers  map[Slot]ValidatorIndex
}
