package services

import (
	"context"
	"fmt"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/pkg/errors"
)

// BlockDutyBuilder prepares and signs block proposals.
type BlockDutyBuilder struct {
	Clock          *ChainClock
	Assembler      ports.BlockAssembler
	Signer         ports.Signer
	Guard          *SlashingGuard
	RandaoDomain   domain.DomainType
	ProposerDomain domain.DomainType
	Graffiti       [32]byte
}

// Build fills the proposer-chosen fields of a block at duty.Slot. It signs only the randao reveal.
func (b *BlockDutyBuilder) Build(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, duty domain.ProposerDuty) (*domain.BlockHeaderDraft, error) {
	if duty.Slot <= state.LatestBlockHeader.Slot {
		return nil, errors.Wrapf(domain.ErrSlotAlreadyOccupied, "duty slot %d, head slot %d", duty.Slot, state.LatestBlockHeader.Slot)
	}
	if err := b.Guard.CheckProposal(ctx, identity.PubKey, duty.Slot); err != nil {
		return nil, rejected(err, domain.ErrSlashableProposal)
	}

	epoch := b.Clock.EpochOf(duty.Slot)
	epochRoot, err := EpochRoot(epoch)
	if err != nil {
		return nil, err
	}
	signingRoot, err := ComputeSigningRoot(epochRoot, state.Domain(b.RandaoDomain, &epoch))
	if err != nil {
		return nil, err
	}
	reveal, err := b.Signer.Sign(ctx, identity, ports.SignRequest{
		Kind:                  ports.SigningKindRandao,
		SigningRoot:           signingRoot,
		Fork:                  state.Fork,
		GenesisValidatorsRoot: state.GenesisValidatorsRoot,
		Epoch:                 epoch,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not sign randao reveal")
	}

	return &domain.BlockHeaderDraft{
		Slot:          duty.Slot,
		ProposerIndex: identity.Index,
		ParentRoot:    state.LatestBlockRoot,
		RandaoReveal:  reveal,
		Eth1Data:      state.Eth1Data,
		Graffiti:      b.Graffiti,
	}, nil
}

// Sign signs an assembled block and records the proposal.
func (b *BlockDutyBuilder) Sign(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, block *domain.UnsignedBlock) (*domain.SignedBlock, error) {
	slot := block.Draft.Slot
	epoch := b.Clock.EpochOf(slot)
	signingRoot, err := ComputeSigningRoot(block.Root, state.Domain(b.ProposerDomain, &epoch))
	if err != nil {
		return nil, err
	}

	sig, err := b.Guard.ProtectProposal(ctx, identity.PubKey, slot, func() (domain.BLSSignature, error) {
		return b.Signer.Sign(ctx, identity, ports.SignRequest{
			Kind:                  ports.SigningKindBlock,
			SigningRoot:           signingRoot,
			Fork:                  state.Fork,
			GenesisValidatorsRoot: state.GenesisValidatorsRoot,
			BlockHeader:           &block.Header,
			BlockVersion:          block.Version,
		})
	})
	if err != nil {
		return nil, rejected(errors.Wrap(err, "could not sign block"), domain.ErrSlashableProposal)
	}
	return &domain.SignedBlock{Block: *block, Signature: sig}, nil
}

// Propose runs the full proposal: draft, body assembly by the node, signature.
func (b *BlockDutyBuilder) Propose(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, duty domain.ProposerDuty) (*domain.SignedBlock, error) {
	draft, err := b.Build(ctx, state, identity, duty)
	if err != nil {
		return nil, err
	}
	block, err := b.Assembler.AssembleBlock(ctx, *draft)
	if err != nil {
		return nil, errors.Wrapf(err, "could not assemble block at slot %d", duty.Slot)
	}
	if err := checkAssembled(*draft, block); err != nil {
		return nil, err
	}
	return b.Sign(ctx, state, identity, block)
}

// checkAssembled refuses a block the node built on another parent or with
// another eth1 vote than the draft.
func checkAssembled(draft domain.BlockHeaderDraft, block *domain.UnsignedBlock) error {
	if block.Draft.Slot != draft.Slot {
		return fmt.Errorf("assembled block for slot %d, wanted %d", block.Draft.Slot, draft.Slot)
	}
	if block.Header.ParentRoot != draft.ParentRoot {
		return errors.Wrapf(domain.ErrAssembledMismatch, "parent %s, draft parent %s", block.Header.ParentRoot, draft.ParentRoot)
	}
	if block.Eth1Data != draft.Eth1Data {
		return errors.Wrapf(domain.ErrAssembledMismatch, "eth1 deposit count %d block %s, draft deposit count %d block %s",
			block.Eth1Data.DepositCount, block.Eth1Data.BlockHash, draft.Eth1Data.DepositCount, draft.Eth1Data.BlockHash)
	}
	return nil
}

// rejected marks slashing refusals as ErrSigningRejected and leaves other errors alone.
func rejected(err error, slashable error) error {
	if errors.Is(err, slashable) {
		return fmt.Errorf("%w: %w", domain.ErrSigningRejected, err)
	}
	return err
}
