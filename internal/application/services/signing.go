package services

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
	ssz "github.com/ferranbt/fastssz"
	"github.com/pkg/errors"
)

// ComputeSigningRoot returns hash_tree_root of the container {object_root, domain}.
func ComputeSigningRoot(objectRoot domain.Root, d domain.Domain) (domain.Root, error) {
	hh := ssz.NewHasher()
	indx := hh.Index()
	hh.PutBytes(objectRoot[:])
	hh.PutBytes(d[:])
	hh.Merkleize(indx)
	root, err := hh.HashRoot()
	if err != nil {
		return domain.Root{}, errors.Wrap(err, "could not compute signing root")
	}
	return domain.Root(root), nil
}

// EpochRoot is the hash_tree_root of an epoch as a uint64, the randao reveal message.
func EpochRoot(epoch domain.Epoch) (domain.Root, error) {
	hh := ssz.NewHasher()
	hh.PutUint64(uint64(epoch))
	root, err := hh.HashRoot()
	if err != nil {
		return domain.Root{}, errors.Wrap(err, "could not hash epoch")
	}
	return domain.Root(root), nil
}

// AttestationDataRoot is the SSZ hash_tree_root of data.
func AttestationDataRoot(data domain.AttestationData) (domain.Root, error) {
	root, err := ToPhase0AttestationData(data).HashTreeRoot()
	if err != nil {
		return domain.Root{}, errors.Wrap(err, "could not hash attestation data")
	}
	return domain.Root(root), nil
}

func ToPhase0AttestationData(data domain.AttestationData) *phase0.AttestationData {
	return &phase0.AttestationData{
		Slot:            phase0.Slot(data.Slot),
		Index:           phase0.CommitteeIndex(data.Index),
		BeaconBlockRoot: phase0.Root(data.BeaconBlockRoot),
		Source: &phase0.Checkpoint{
			Epoch: phase0.Epoch(data.Source.Epoch),
			Root:  phase0.Root(data.Source.Root),
		},
		Target: &phase0.Checkpoint{
			Epoch: phase0.Epoch(data.Target.Epoch),
			Root:  phase0.Root(data.Target.Root),
		},
	}
}
