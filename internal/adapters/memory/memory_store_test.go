package memory

import (
	"context"
	"testing"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlashingStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSlashingStore()
	pk := domain.BLSPubKey{0x01}

	_, ok, err := s.LoadRecord(ctx, pk)
	require.NoError(t, err)
	assert.False(t, ok)

	rec := domain.SlashingRecord{MaxTargetEpoch: 4, MaxSourceEpoch: 3, HasAttested: true}
	require.NoError(t, s.SaveRecord(ctx, pk, rec))

	got, ok, err := s.LoadRecord(ctx, pk)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec, got)
}
