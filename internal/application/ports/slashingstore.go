package ports

import (
	"context"

	"github.com/dappnode/validator-duties/internal/application/domain"
)

// SlashingStore persists slashing protection records across restarts.
type SlashingStore interface {
	// LoadRecord returns false when the validator has never signed.
	LoadRecord(ctx context.Context, pubkey domain.BLSPubKey) (domain.SlashingRecord, bool, error)
	SaveRecord(ctx context.Context, pubkey domain.BLSPubKey, record domain.SlashingRecord) error
}
