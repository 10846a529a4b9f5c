package services

import (
	"context"
	"math"
	"sort"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/pkg/errors"
)

// DutyResolver maps validator identities to their duties in an epoch.
type DutyResolver struct {
	Clock  *ChainClock
	Beacon ports.ConsensusNodeClient
}

// ResolveEpoch fetches the assignments of epoch from the node and resolves them.
func (r *DutyResolver) ResolveEpoch(ctx context.Context, state *domain.StateSnapshot, epoch domain.Epoch, identities []domain.ValidatorIdentity) (map[domain.BLSPubKey]domain.Duties, error) {
	if err := r.checkEpoch(state, epoch); err != nil {
		return nil, err
	}
	indices := make([]domain.ValidatorIndex, 0, len(identities))
	for _, id := range identities {
		indices = append(indices, id.Index)
	}
	assignments, err := r.Beacon.GetAssignments(ctx, epoch, indices)
	if err != nil {
		return nil, errors.Wrapf(err, "could not get assignments for epoch %d", epoch)
	}
	return r.Resolve(state, epoch, identities, assignments)
}

func (r *DutyResolver) checkEpoch(state *domain.StateSnapshot, epoch domain.Epoch) error {
	current := r.Clock.EpochOf(state.Slot)
	if epoch > current && epoch-current > 1 {
		return errors.Wrapf(domain.ErrEpochTooFarInFuture, "epoch %d with state epoch %d", epoch, current)
	}
	return nil
}

// Resolve is pure: the same inputs always give the same duties. Every identity
// gets an entry, NoDuty when it has nothing to do in epoch.
func (r *DutyResolver) Resolve(state *domain.StateSnapshot, epoch domain.Epoch, identities []domain.ValidatorIdentity, assignments *domain.EpochAssignments) (map[domain.BLSPubKey]domain.Duties, error) {
	if err := r.checkEpoch(state, epoch); err != nil {
		return nil, err
	}
	start, err := r.Clock.StartSlotOf(epoch)
	if err != nil {
		return nil, err
	}
	spe := r.Clock.SlotsPerEpoch()
	if uint64(start) > math.MaxUint64-(spe-1) {
		return nil, errors.Wrapf(domain.ErrArithmeticOverflow, "slots of epoch %d", epoch)
	}

	byIndex := make(map[domain.ValidatorIndex][]domain.BLSPubKey, len(identities))
	result := make(map[domain.BLSPubKey]domain.Duties, len(identities))
	for _, id := range identities {
		byIndex[id.Index] = append(byIndex[id.Index], id.PubKey)
		result[id.PubKey] = nil
	}

	for i := uint64(0); i < spe; i++ {
		slot := start + domain.Slot(i)

		if assignments != nil {
			committees := sortedCommittees(assignments.Committees[slot])
			for _, committee := range committees {
				for pos, v := range committee.Validators {
					for _, pk := range byIndex[v] {
						result[pk] = append(result[pk], domain.AttesterDuty{
							Slot:                slot,
							CommitteeIndex:      committee.Index,
							PositionInCommittee: uint64(pos),
							CommitteeLength:     uint64(len(committee.Validators)),
							CommitteesAtSlot:    uint64(len(committees)),
						})
					}
				}
			}

			if proposer, ok := assignments.Proposers[slot]; ok {
				for _, pk := range byIndex[proposer] {
					result[pk] = append(result[pk], domain.ProposerDuty{Slot: slot})
				}
			}
		}
	}

	for pk, duties := range result {
		if len(duties) == 0 {
			result[pk] = domain.Duties{domain.NoDuty{}}
		}
	}
	return result, nil
}

func sortedCommittees(committees []domain.Committee) []domain.Committee {
	out := make([]domain.Committee, len(committees))
	copy(out, committees)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
