package ports

import (
	"context"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
)

// ConsensusNodeClient is everything the duty engine reads from or writes to the beacon node.
type ConsensusNodeClient interface {
	GetGenesisTime(ctx context.Context) (time.Time, error)
	// GetState returns the head state advanced to slot.
	GetState(ctx context.Context, slot domain.Slot) (*domain.StateSnapshot, error)
	// GetAssignments returns committees and proposers of epoch. The node computes the shuffling.
	GetAssignments(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (*domain.EpochAssignments, error)
	GetBlockRootAtSlot(ctx context.Context, state *domain.StateSnapshot, slot domain.Slot) (domain.Root, error)
	GetValidatorIndicesByPubkeys(ctx context.Context, pubkeys []domain.BLSPubKey) (map[domain.BLSPubKey]domain.ValidatorIndex, error)
	PublishAttestation(ctx context.Context, att *domain.Attestation) error
	PublishBlock(ctx context.Context, block *domain.SignedBlock) error
}

// BlockAssembler fills in the body of a proposal.
type BlockAssembler interface {
	AssembleBlock(ctx context.Context, draft domain.BlockHeaderDraft) (*domain.UnsignedBlock, error)
}

// HeadProvider is the fork choice view of the canonical head, read when the
// attestation is built rather than at the slot boundary.
type HeadProvider interface {
	HeadVote(ctx context.Context, slot domain.Slot) (domain.HeadVote, error)
}
