package beacon

import (
	"context"
	"fmt"
	"strings"

	"github.com/attestantio/go-eth2-client/api"
	apiv1deneb "github.com/attestantio/go-eth2-client/api/v1/deneb"
	apiv1electra "github.com/attestantio/go-eth2-client/api/v1/electra"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/altair"
	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	"github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/deneb"
	"github.com/attestantio/go-eth2-client/spec/electra"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
)

func (b *beaconAttestantClient) PublishAttestation(ctx context.Context, att *domain.Attestation) error {
	err := b.client.SubmitAttestations(ctx, &api.SubmitAttestationsOpts{
		Attestations: []*spec.VersionedAttestation{toVersionedAttestation(att)},
	})
	if err != nil {
		return &domain.PublishError{Kind: "attestation", Err: err}
	}
	return nil
}

// AssembleBlock asks the node to build a block body around draft. The node
// picks the body contents; the returned root is what the proposer signs.
func (b *beaconAttestantClient) AssembleBlock(ctx context.Context, draft domain.BlockHeaderDraft) (*domain.UnsignedBlock, error) {
	resp, err := b.client.Proposal(ctx, &api.ProposalOpts{
		Slot:         phase0.Slot(draft.Slot),
		RandaoReveal: phase0.BLSSignature(draft.RandaoReveal),
		Graffiti:     draft.Graffiti,
	})
	if err != nil {
		return nil, fmt.Errorf("proposal for slot %d: %w", draft.Slot, err)
	}
	proposal := resp.Data
	if proposal == nil {
		return nil, fmt.Errorf("empty proposal for slot %d", draft.Slot)
	}
	if proposal.Blinded {
		return nil, fmt.Errorf("blinded proposal for slot %d is not supported", draft.Slot)
	}
	slot, err := proposal.Slot()
	if err != nil {
		return nil, err
	}
	if domain.Slot(slot) != draft.Slot {
		return nil, fmt.Errorf("node built a block for slot %d, wanted %d", slot, draft.Slot)
	}
	root, err := proposal.Root()
	if err != nil {
		return nil, err
	}
	header, err := proposalHeader(proposal)
	if err != nil {
		return nil, err
	}
	eth1, err := proposalEth1Data(proposal)
	if err != nil {
		return nil, err
	}
	return &domain.UnsignedBlock{
		Draft:    draft,
		Root:     domain.Root(root),
		Header:   header,
		Eth1Data: eth1,
		Version:  strings.ToUpper(proposal.Version.String()),
		Payload:  proposal,
	}, nil
}

func (b *beaconAttestantClient) PublishBlock(ctx context.Context, block *domain.SignedBlock) error {
	signed, err := toSignedProposal(block)
	if err != nil {
		return &domain.PublishError{Kind: "block", Err: err}
	}
	if err := b.client.SubmitProposal(ctx, &api.SubmitProposalOpts{Proposal: signed}); err != nil {
		return &domain.PublishError{Kind: "block", Err: err}
	}
	return nil
}

func toSignedProposal(block *domain.SignedBlock) (*api.VersionedSignedProposal, error) {
	proposal, ok := block.Block.Payload.(*api.VersionedProposal)
	if !ok || proposal == nil {
		return nil, fmt.Errorf("block payload %T was not assembled by this node", block.Block.Payload)
	}
	sig := phase0.BLSSignature(block.Signature)
	out := &api.VersionedSignedProposal{Version: proposal.Version}

	switch proposal.Version {
	case spec.DataVersionPhase0:
		out.Phase0 = &phase0.SignedBeaconBlock{Message: proposal.Phase0, Signature: sig}
	case spec.DataVersionAltair:
		out.Altair = &altair.SignedBeaconBlock{Message: proposal.Altair, Signature: sig}
	case spec.DataVersionBellatrix:
		out.Bellatrix = &bellatrix.SignedBeaconBlock{Message: proposal.Bellatrix, Signature: sig}
	case spec.DataVersionCapella:
		out.Capella = &capella.SignedBeaconBlock{Message: proposal.Capella, Signature: sig}
	case spec.DataVersionDeneb:
		if proposal.Deneb == nil {
			return nil, fmt.Errorf("deneb proposal without contents")
		}
		out.Deneb = &apiv1deneb.SignedBlockContents{
			SignedBlock: &deneb.SignedBeaconBlock{Message: proposal.Deneb.Block, Signature: sig},
			KZGProofs:   proposal.Deneb.KZGProofs,
			Blobs:       proposal.Deneb.Blobs,
		}
	case spec.DataVersionElectra:
		if proposal.Electra == nil {
			return nil, fmt.Errorf("electra proposal without contents")
		}
		out.Electra = &apiv1electra.SignedBlockContents{
			SignedBlock: &electra.SignedBeaconBlock{Message: proposal.Electra.Block, Signature: sig},
			KZGProofs:   proposal.Electra.KZGProofs,
			Blobs:       proposal.Electra.Blobs,
		}
	default:
		return nil, fmt.Errorf("unsupported proposal version %s", proposal.Version)
	}
	return out, nil
}
