package domain

import (
	"github.com/prysmaticlabs/go-bitfield"
)

type Checkpoint struct {
	Epoch Epoch
	Root  Root
}

func (c Checkpoint) Equal(o Checkpoint) bool {
	return c.Epoch == o.Epoch && c.Root == o.Root
}

// AttestationData is the signed part of an attestation. It is passed by value
// and never modified after construction.
type AttestationData struct {
	Slot            Slot
	Index           CommitteeIndex
	BeaconBlockRoot Root
	Source          Checkpoint
	Target          Checkpoint
}

// HeadVote is the fork choice view at attestation time: the block to vote
// for and the epoch boundary block it descends from.
type HeadVote struct {
	BeaconBlockRoot Root
	Target          Checkpoint
}

type Attestation struct {
	AggregationBits bitfield.Bitlist
	Data            AttestationData
	Signature       BLSSignature

	// AttesterIndex is not part of the signed payload; post-electra submission needs it.
	AttesterIndex ValidatorIndex
}
