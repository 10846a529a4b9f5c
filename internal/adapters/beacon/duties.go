package beacon

import (
	"context"
	"fmt"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/logger"
)

// GetAssignments returns every committee of epoch and the proposer slots of
// the given indices.
func (b *beaconAttestantClient) GetAssignments(ctx context.Context, epoch domain.Epoch, indices []domain.ValidatorIndex) (*domain.EpochAssignments, error) {
	e := phase0.Epoch(epoch)
	committees, err := b.client.BeaconCommittees(ctx, &api.BeaconCommitteesOpts{
		State: "head",
		Epoch: &e,
	})
	if err != nil {
		return nil, fmt.Errorf("beacon committees for epoch %d: %w", epoch, err)
	}

	phase0Indices := make([]phase0.ValidatorIndex, len(indices))
	for i, idx := range indices {
		phase0Indices[i] = phase0.ValidatorIndex(idx)
	}
	var proposers []*apiv1.ProposerDuty
	if len(indices) > 0 {
		resp, err := b.client.ProposerDuties(ctx, &api.ProposerDutiesOpts{
			Epoch:   e,
			Indices: phase0Indices,
		})
		if err != nil {
			return nil, fmt.Errorf("proposer duties for epoch %d: %w", epoch, err)
		}
		proposers = resp.Data
	}

	assignments := toAssignments(epoch, committees.Data, proposers)
	logger.DebugWithPrefix("Beacon", "Epoch %d: %d committee slots, %d own proposals", epoch, len(assignments.Committees), len(assignments.Proposers))
	return assignments, nil
}

func (b *beaconAttestantClient) GetValidatorIndicesByPubkeys(ctx context.Context, pubkeys []domain.BLSPubKey) (map[domain.BLSPubKey]domain.ValidatorIndex, error) {
	if len(pubkeys) == 0 {
		return map[domain.BLSPubKey]domain.ValidatorIndex{}, nil
	}
	keys := make([]phase0.BLSPubKey, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = phase0.BLSPubKey(pk)
	}

	resp, err := b.client.Validators(ctx, &api.ValidatorsOpts{
		State:   "head",
		PubKeys: keys,
		ValidatorStates: []apiv1.ValidatorState{
			apiv1.ValidatorStateActiveOngoing,
			apiv1.ValidatorStateActiveExiting,
			apiv1.ValidatorStateActiveSlashed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("validators by pubkey: %w", err)
	}

	out := make(map[domain.BLSPubKey]domain.ValidatorIndex, len(resp.Data))
	for index, v := range resp.Data {
		if v == nil || v.Validator == nil {
			continue
		}
		out[domain.BLSPubKey(v.Validator.PublicKey)] = domain.ValidatorIndex(index)
	}
	return out, nil
}
