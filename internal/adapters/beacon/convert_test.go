package beacon

import (
	"fmt"
	"testing"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	apiv1deneb "github.com/attestantio/go-eth2-client/api/v1/deneb"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/deneb"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/prysmaticlabs/go-bitfield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAssignmentsGroupsAndSorts(t *testing.T) {
	committees := []*apiv1.BeaconCommittee{
		{Slot: 33, Index: 1, Validators: []phase0.ValidatorIndex{7, 8}},
		{Slot: 32, Index: 0, Validators: []phase0.ValidatorIndex{1, 2, 3}},
		{Slot: 33, Index: 0, Validators: []phase0.ValidatorIndex{4}},
		nil,
	}
	proposers := []*apiv1.ProposerDuty{{Slot: 35, ValidatorIndex: 8}}

	a := toAssignments(1, committees, proposers)

	require.Len(t, a.Committees[33], 2)
	assert.Equal(t, domain.CommitteeIndex(0), a.Committees[33][0].Index)
	assert.Equal(t, domain.CommitteeIndex(1), a.Committees[33][1].Index)
	assert.Equal(t, []domain.ValidatorIndex{1, 2, 3}, a.Committees[32][0].Validators)
	assert.Equal(t, domain.ValidatorIndex(8), a.Proposers[35])
	assert.Equal(t, domain.Epoch(1), a.Epoch)
}

func TestEth1DataOf(t *testing.T) {
	block := &spec.VersionedSignedBeaconBlock{
		Version: spec.DataVersionPhase0,
		Phase0: &phase0.SignedBeaconBlock{
			Message: &phase0.BeaconBlock{
				Body: &phase0.BeaconBlockBody{
					ETH1Data: &phase0.ETH1Data{
						DepositRoot:  phase0.Root{0x01},
						DepositCount: 12,
						BlockHash:    []byte{0xaa, 0xbb},
					},
				},
			},
		},
	}
	got, err := eth1DataOf(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.DepositCount)
	assert.Equal(t, byte(0x01), got.DepositRoot[0])
	assert.Equal(t, byte(0xbb), got.BlockHash[1])

	_, err = eth1DataOf(&spec.VersionedSignedBeaconBlock{Version: spec.DataVersionAltair})
	assert.Error(t, err)
}

func TestProposalHeader(t *testing.T) {
	body := &phase0.BeaconBlockBody{
		ETH1Data: &phase0.ETH1Data{DepositCount: 1, BlockHash: make([]byte, 32)},
	}
	proposal := &api.VersionedProposal{
		Version: spec.DataVersionPhase0,
		Phase0: &phase0.BeaconBlock{
			Slot:          21,
			ProposerIndex: 4,
			ParentRoot:    phase0.Root{0x20},
			StateRoot:     phase0.Root{0x5a},
			Body:          body,
		},
	}
	bodyRoot, err := body.HashTreeRoot()
	require.NoError(t, err)

	h, err := proposalHeader(proposal)
	require.NoError(t, err)
	assert.Equal(t, domain.BeaconBlockHeader{
		Slot:          21,
		ProposerIndex: 4,
		ParentRoot:    domain.Root{0x20},
		StateRoot:     domain.Root{0x5a},
		BodyRoot:      domain.Root(bodyRoot),
	}, h)

	_, err = proposalHeader(&api.VersionedProposal{Version: spec.DataVersionPhase0})
	assert.Error(t, err)
}

func TestProposalEth1Data(t *testing.T) {
	proposal := &api.VersionedProposal{
		Version: spec.DataVersionDeneb,
		Deneb: &apiv1deneb.BlockContents{
			Block: &deneb.BeaconBlock{
				Body: &deneb.BeaconBlockBody{
					ETH1Data: &phase0.ETH1Data{DepositCount: 7, BlockHash: []byte{0x0c}},
				},
			},
		},
	}
	got, err := proposalEth1Data(proposal)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.DepositCount)
	assert.Equal(t, byte(0x0c), got.BlockHash[0])

	_, err = proposalEth1Data(&api.VersionedProposal{Version: spec.DataVersionDeneb, Deneb: &apiv1deneb.BlockContents{}})
	assert.Error(t, err)
}

func TestToVersionedAttestation(t *testing.T) {
	bits := bitfield.NewBitlist(4)
	bits.SetBitAt(2, true)
	att := &domain.Attestation{
		AggregationBits: bits,
		Data: domain.AttestationData{
			Slot:   10,
			Index:  3,
			Source: domain.Checkpoint{Epoch: 1},
			Target: domain.Checkpoint{Epoch: 2, Root: domain.Root{0x02}},
		},
		Signature:     domain.BLSSignature{0x09},
		AttesterIndex: 42,
	}

	v := toVersionedAttestation(att)
	require.NotNil(t, v.Phase0)
	require.NotNil(t, v.ValidatorIndex)
	assert.Equal(t, phase0.ValidatorIndex(42), *v.ValidatorIndex)
	assert.Equal(t, phase0.CommitteeIndex(3), v.Phase0.Data.Index)
	assert.Equal(t, phase0.Epoch(2), v.Phase0.Data.Target.Epoch)
	assert.True(t, v.Phase0.AggregationBits.BitAt(2))
	assert.Equal(t, byte(0x09), v.Phase0.Signature[0])
}

func TestToSignedProposal(t *testing.T) {
	block := &phase0.BeaconBlock{Slot: 5, ProposerIndex: 3}
	signed, err := toSignedProposal(&domain.SignedBlock{
		Block: domain.UnsignedBlock{
			Payload: &api.VersionedProposal{Version: spec.DataVersionPhase0, Phase0: block},
		},
		Signature: domain.BLSSignature{0x07},
	})
	require.NoError(t, err)
	require.NotNil(t, signed.Phase0)
	assert.Same(t, block, signed.Phase0.Message)
	assert.Equal(t, byte(0x07), signed.Phase0.Signature[0])

	_, err = toSignedProposal(&domain.SignedBlock{Block: domain.UnsignedBlock{Payload: "not a proposal"}})
	assert.Error(t, err)

	_, err = toSignedProposal(&domain.SignedBlock{Block: domain.UnsignedBlock{
		Payload: &api.VersionedProposal{Version: spec.DataVersionDeneb},
	}})
	assert.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&api.Error{StatusCode: 404}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &api.Error{StatusCode: 404})))
	assert.False(t, isNotFound(&api.Error{StatusCode: 500}))
	assert.False(t, isNotFound(fmt.Errorf("plain")))
}

func TestToDomainForkNil(t *testing.T) {
	assert.Equal(t, domain.Fork{}, toDomainFork(nil))
	f := toDomainFork(&phase0.Fork{PreviousVersion: phase0.Version{1}, CurrentVersion: phase0.Version{2}, Epoch: 9})
	assert.Equal(t, domain.Epoch(9), f.Epoch)
	assert.Equal(t, domain.Version{2}, f.CurrentVersion)
}
