package beacon

import (
	"fmt"
	"sort"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
)

func toDomainFork(f *phase0.Fork) domain.Fork {
	if f == nil {
		return domain.Fork{}
	}
	return domain.Fork{
		PreviousVersion: domain.Version(f.PreviousVersion),
		CurrentVersion:  domain.Version(f.CurrentVersion),
		Epoch:           domain.Epoch(f.Epoch),
	}
}

func toDomainCheckpoint(c *phase0.Checkpoint) domain.Checkpoint {
	if c == nil {
		return domain.Checkpoint{}
	}
	return domain.Checkpoint{Epoch: domain.Epoch(c.Epoch), Root: domain.Root(c.Root)}
}

func toDomainEth1Data(d *phase0.ETH1Data) domain.Eth1Data {
	if d == nil {
		return domain.Eth1Data{}
	}
	out := domain.Eth1Data{
		DepositRoot:  domain.Root(d.DepositRoot),
		DepositCount: d.DepositCount,
	}
	copy(out.BlockHash[:], d.BlockHash)
	return out
}

func eth1DataOf(block *spec.VersionedSignedBeaconBlock) (domain.Eth1Data, error) {
	if block == nil {
		return domain.Eth1Data{}, fmt.Errorf("no block")
	}
	switch block.Version {
	case spec.DataVersionPhase0:
		if block.Phase0 != nil && block.Phase0.Message != nil && block.Phase0.Message.Body != nil {
			return toDomainEth1Data(block.Phase0.Message.Body.ETH1Data), nil
		}
	case spec.DataVersionAltair:
		if block.Altair != nil && block.Altair.Message != nil && block.Altair.Message.Body != nil {
			return toDomainEth1Data(block.Altair.Message.Body.ETH1Data), nil
		}
	case spec.DataVersionBellatrix:
		if block.Bellatrix != nil && block.Bellatrix.Message != nil && block.Bellatrix.Message.Body != nil {
			return toDomainEth1Data(block.Bellatrix.Message.Body.ETH1Data), nil
		}
	case spec.DataVersionCapella:
		if block.Capella != nil && block.Capella.Message != nil && block.Capella.Message.Body != nil {
			return toDomainEth1Data(block.Capella.Message.Body.ETH1Data), nil
		}
	case spec.DataVersionDeneb:
		if block.Deneb != nil && block.Deneb.Message != nil && block.Deneb.Message.Body != nil {
			return toDomainEth1Data(block.Deneb.Message.Body.ETH1Data), nil
		}
	case spec.DataVersionElectra:
		if block.Electra != nil && block.Electra.Message != nil && block.Electra.Message.Body != nil {
			return toDomainEth1Data(block.Electra.Message.Body.ETH1Data), nil
		}
	default:
		return domain.Eth1Data{}, fmt.Errorf("unsupported block version %s", block.Version)
	}
	return domain.Eth1Data{}, fmt.Errorf("incomplete %s block", block.Version)
}

// proposalHeader is the header of an unblinded proposal, as a remote signer checks it.
func proposalHeader(p *api.VersionedProposal) (domain.BeaconBlockHeader, error) {
	var h domain.BeaconBlockHeader
	slot, err := p.Slot()
	if err != nil {
		return h, err
	}
	proposer, err := p.ProposerIndex()
	if err != nil {
		return h, err
	}
	parent, err := p.ParentRoot()
	if err != nil {
		return h, err
	}
	stateRoot, err := p.StateRoot()
	if err != nil {
		return h, err
	}
	bodyRoot, err := p.BodyRoot()
	if err != nil {
		return h, err
	}
	return domain.BeaconBlockHeader{
		Slot:          domain.Slot(slot),
		ProposerIndex: domain.ValidatorIndex(proposer),
		ParentRoot:    domain.Root(parent),
		StateRoot:     domain.Root(stateRoot),
		BodyRoot:      domain.Root(bodyRoot),
	}, nil
}

// proposalEth1Data is the eth1 vote the node put in an unblinded proposal.
func proposalEth1Data(p *api.VersionedProposal) (domain.Eth1Data, error) {
	switch p.Version {
	case spec.DataVersionPhase0:
		if p.Phase0 != nil && p.Phase0.Body != nil {
			return toDomainEth1Data(p.Phase0.Body.ETH1Data), nil
		}
	case spec.DataVersionAltair:
		if p.Altair != nil && p.Altair.Body != nil {
			return toDomainEth1Data(p.Altair.Body.ETH1Data), nil
		}
	case spec.DataVersionBellatrix:
		if p.Bellatrix != nil && p.Bellatrix.Body != nil {
			return toDomainEth1Data(p.Bellatrix.Body.ETH1Data), nil
		}
	case spec.DataVersionCapella:
		if p.Capella != nil && p.Capella.Body != nil {
			return toDomainEth1Data(p.Capella.Body.ETH1Data), nil
		}
	case spec.DataVersionDeneb:
		if p.Deneb != nil && p.Deneb.Block != nil && p.Deneb.Block.Body != nil {
			return toDomainEth1Data(p.Deneb.Block.Body.ETH1Data), nil
		}
	case spec.DataVersionElectra:
		if p.Electra != nil && p.Electra.Block != nil && p.Electra.Block.Body != nil {
			return toDomainEth1Data(p.Electra.Block.Body.ETH1Data), nil
		}
	default:
		return domain.Eth1Data{}, fmt.Errorf("unsupported proposal version %s", p.Version)
	}
	return domain.Eth1Data{}, fmt.Errorf("incomplete %s proposal", p.Version)
}

// toAssignments groups committees by slot, ordered by committee index.
func toAssignments(epoch domain.Epoch, committees []*apiv1.BeaconCommittee, proposers []*apiv1.ProposerDuty) *domain.EpochAssignments {
	out := &domain.EpochAssignments{
		Epoch:      epoch,
		Committees: make(map[domain.Slot][]domain.Committee),
		Proposers:  make(map[domain.Slot]domain.ValidatorIndex, len(proposers)),
	}
	for _, c := range committees {
		if c == nil {
			continue
		}
		validators := make([]domain.ValidatorIndex, len(c.Validators))
		for i, v := range c.Validators {
			validators[i] = domain.ValidatorIndex(v)
		}
		slot := domain.Slot(c.Slot)
		out.Committees[slot] = append(out.Committees[slot], domain.Committee{
			Index:      domain.CommitteeIndex(c.Index),
			Validators: validators,
		})
	}
	for slot := range out.Committees {
		cs := out.Committees[slot]
		sort.Slice(cs, func(i, j int) bool { return cs[i].Index < cs[j].Index })
	}
	for _, p := range proposers {
		if p == nil {
			continue
		}
		out.Proposers[domain.Slot(p.Slot)] = domain.ValidatorIndex(p.ValidatorIndex)
	}
	return out
}

func toPhase0AttestationData(data domain.AttestationData) *phase0.AttestationData {
	return &phase0.AttestationData{
		Slot:            phase0.Slot(data.Slot),
		Index:           phase0.CommitteeIndex(data.Index),
		BeaconBlockRoot: phase0.Root(data.BeaconBlockRoot),
		Source:          &phase0.Checkpoint{Epoch: phase0.Epoch(data.Source.Epoch), Root: phase0.Root(data.Source.Root)},
		Target:          &phase0.Checkpoint{Epoch: phase0.Epoch(data.Target.Epoch), Root: phase0.Root(data.Target.Root)},
	}
}

func toVersionedAttestation(att *domain.Attestation) *spec.VersionedAttestation {
	index := phase0.ValidatorIndex(att.AttesterIndex)
	return &spec.VersionedAttestation{
		Version:        spec.DataVersionPhase0,
		ValidatorIndex: &index,
		Phase0: &phase0.Attestation{
			AggregationBits: att.AggregationBits,
			Data:            toPhase0AttestationData(att.Data),
			Signature:       phase0.BLSSignature(att.Signature),
		},
	}
}
