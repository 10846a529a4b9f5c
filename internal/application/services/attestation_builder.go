package services

import (
	"context"
	"fmt"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

// AttestationBuilder builds and signs the attestation owed by an attester duty.
type AttestationBuilder struct {
	Clock          *ChainClock
	Beacon         ports.ConsensusNodeClient
	Head           ports.HeadProvider
	Signer         ports.Signer
	Guard          *SlashingGuard
	AttesterDomain domain.DomainType
}

// BuildData assembles the attestation data for duty from state. It never signs.
// When the target is the state's own slot, its block may have arrived after
// the snapshot was taken; the fork choice target is used then.
func (b *AttestationBuilder) BuildData(ctx context.Context, state *domain.StateSnapshot, duty domain.AttesterDuty) (domain.AttestationData, error) {
	targetEpoch := b.Clock.EpochOf(duty.Slot)
	targetSlot, err := b.Clock.StartSlotOf(targetEpoch)
	if err != nil {
		return domain.AttestationData{}, err
	}

	vote, err := b.Head.HeadVote(ctx, duty.Slot)
	if err != nil {
		return domain.AttestationData{}, errors.Wrapf(err, "could not get head vote for slot %d", duty.Slot)
	}

	var targetRoot domain.Root
	switch {
	case targetSlot == state.Slot && vote.Target.Epoch == targetEpoch:
		targetRoot = vote.Target.Root
	case targetSlot == state.Slot:
		targetRoot = state.LatestBlockRoot
	default:
		targetRoot, err = b.Beacon.GetBlockRootAtSlot(ctx, state, targetSlot)
		if err != nil {
			return domain.AttestationData{}, errors.Wrapf(err, "could not get target root at slot %d", targetSlot)
		}
	}

	return domain.AttestationData{
		Slot:            duty.Slot,
		Index:           duty.CommitteeIndex,
		BeaconBlockRoot: vote.BeaconBlockRoot,
		Source:          state.CurrentJustifiedCheckpoint,
		Target:          domain.Checkpoint{Epoch: targetEpoch, Root: targetRoot},
	}, nil
}

// Build returns a signed single-bit attestation for identity. The slashing
// record is updated before the attestation is returned.
func (b *AttestationBuilder) Build(ctx context.Context, state *domain.StateSnapshot, identity domain.ValidatorIdentity, duty domain.AttesterDuty) (*domain.Attestation, error) {
	if duty.PositionInCommittee >= duty.CommitteeLength {
		panic(fmt.Sprintf("position %d outside committee of length %d", duty.PositionInCommittee, duty.CommitteeLength))
	}

	data, err := b.BuildData(ctx, state, duty)
	if err != nil {
		return nil, err
	}

	d := state.Domain(b.AttesterDomain, &data.Target.Epoch)
	dataRoot, err := AttestationDataRoot(data)
	if err != nil {
		return nil, err
	}
	signingRoot, err := ComputeSigningRoot(dataRoot, d)
	if err != nil {
		return nil, err
	}

	sig, err := b.Guard.ProtectAttestation(ctx, identity.PubKey, data.Source.Epoch, data.Target.Epoch, func() (domain.BLSSignature, error) {
		return b.Signer.Sign(ctx, identity, ports.SignRequest{
			Kind:                  ports.SigningKindAttestation,
			SigningRoot:           signingRoot,
			Fork:                  state.Fork,
			GenesisValidatorsRoot: state.GenesisValidatorsRoot,
			Attestation:           &data,
		})
	})
	if err != nil {
		return nil, rejected(errors.Wrap(err, "could not sign attestation"), domain.ErrSlashableAttestation)
	}

	bits := bitfield.NewBitlist(duty.CommitteeLength)
	bits.SetBitAt(duty.PositionInCommittee, true)

	return &domain.Attestation{
		AggregationBits: bits,
		Data:            data,
		Signature:       sig,
		AttesterIndex:   identity.Index,
	}, nil
}
