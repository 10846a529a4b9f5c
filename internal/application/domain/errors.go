package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrEpochTooFarInFuture  = errors.New("epoch too far in future")
	ErrSlotOutOfRange       = errors.New("slot out of range of block root history")
	ErrBlockRootNotRetained = errors.New("block root not retained in snapshot")
	ErrSlashableAttestation = errors.New("slashable attestation")
	ErrSlashableProposal    = errors.New("slashable proposal")
	ErrSigningRejected      = errors.New("signing rejected")
	ErrPublish              = errors.New("publish failed")
	ErrStateFetch           = errors.New("state fetch failed")
	ErrSlotAlreadyOccupied  = errors.New("proposal slot not after head")
	ErrArithmeticOverflow   = errors.New("slot arithmetic overflow")
	ErrNonMonotonicRecord   = errors.New("non-monotonic slashing record write")
	ErrAssembledMismatch    = errors.New("assembled block differs from draft")
)

// PublishError is returned when the node refuses or fails to accept a signed object.
type PublishError struct {
	Kind string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }
