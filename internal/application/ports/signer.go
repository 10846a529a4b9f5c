package ports

import (
	"context"

	"github.com/dappnode/validator-duties/internal/application/domain"
)

type SigningKind string

const (
	SigningKindAttestation SigningKind = "ATTESTATION"
	SigningKindBlock       SigningKind = "BLOCK_V2"
	SigningKindRandao      SigningKind = "RANDAO_REVEAL"
)

// SignRequest is a precomputed signing root together with the message it was
// computed from. Remote signers check the message; local keys only need the root.
type SignRequest struct {
	Kind                  SigningKind
	SigningRoot           domain.Root
	Fork                  domain.Fork
	GenesisValidatorsRoot domain.Root

	Attestation  *domain.AttestationData   // ATTESTATION
	BlockHeader  *domain.BeaconBlockHeader // BLOCK_V2
	BlockVersion string                    // BLOCK_V2, upper case fork name
	Epoch        domain.Epoch              // RANDAO_REVEAL
}

// Signer produces BLS signatures over precomputed signing roots.
type Signer interface {
	PubkeySource
	Sign(ctx context.Context, identity domain.ValidatorIdentity, req SignRequest) (domain.BLSSignature, error)
}
