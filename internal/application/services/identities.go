package services

import (
	"context"
	"sort"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	"github.com/dappnode/validator-duties/internal/logger"
	"github.com/pkg/errors"
)

// LoadIdentities merges the pubkeys of every source and resolves their validator
// indices. Keys unknown to the beacon node are skipped with a warning.
func LoadIdentities(ctx context.Context, beacon ports.ConsensusNodeClient, sources ...ports.PubkeySource) ([]domain.ValidatorIdentity, error) {
	seen := make(map[domain.BLSPubKey]bool)
	var pubkeys []domain.BLSPubKey
	for _, source := range sources {
		if source == nil {
			continue
		}
		raw, err := source.GetValidatorPubkeys(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "could not list validator pubkeys")
		}
		for _, s := range raw {
			pk, err := domain.PubKeyFromHex(s)
			if err != nil {
				logger.WarnWithPrefix("Identities", "Skipping pubkey: %v", err)
				continue
			}
			if !seen[pk] {
				seen[pk] = true
				pubkeys = append(pubkeys, pk)
			}
		}
	}
	if len(pubkeys) == 0 {
		return nil, nil
	}

	indices, err := beacon.GetValidatorIndicesByPubkeys(ctx, pubkeys)
	if err != nil {
		return nil, errors.Wrap(err, "could not get validator indices")
	}

	identities := make([]domain.ValidatorIdentity, 0, len(indices))
	for _, pk := range pubkeys {
		index, ok := indices[pk]
		if !ok {
			logger.WarnWithPrefix("Identities", "No active validator for %s", pk.Short())
			continue
		}
		identities = append(identities, domain.ValidatorIdentity{PubKey: pk, Index: index, KeyHandle: pk.String()})
	}
	sort.Slice(identities, func(i, j int) bool { return identities[i].Index < identities[j].Index })
	return identities, nil
}
