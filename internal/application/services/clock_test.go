package services

import (
	"math"
	"testing"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainClockScenarioA(t *testing.T) {
	c := NewChainClock(time.Unix(1000, 0), 6, 8)
	assert.Equal(t, domain.Epoch(2), c.EpochOf(16))
	start, err := c.StartSlotOf(2)
	require.NoError(t, err)
	assert.Equal(t, domain.Slot(16), start)
}

func TestChainClockRoundTrip(t *testing.T) {
	c := NewChainClock(time.Unix(0, 0), 12, 32)
	for _, e := range []domain.Epoch{0, 1, 31, 1 << 20, domain.Epoch(math.MaxUint64 / 32)} {
		start, err := c.StartSlotOf(e)
		require.NoError(t, err)
		assert.Equal(t, e, c.EpochOf(start))
		assert.Equal(t, e, c.EpochOf(start+31))
	}
}

func TestChainClockOverflow(t *testing.T) {
	c := NewChainClock(time.Unix(0, 0), 12, 32)
	_, err := c.StartSlotOf(domain.Epoch(math.MaxUint64/32 + 1))
	assert.True(t, errors.Is(err, domain.ErrArithmeticOverflow))

	_, err = c.SlotStart(domain.Slot(math.MaxUint64 / 2))
	assert.True(t, errors.Is(err, domain.ErrArithmeticOverflow))
}

func TestChainClockCurrentSlot(t *testing.T) {
	genesis := time.Unix(1_600_000_000, 0)
	c := NewChainClock(genesis, 12, 32)

	assert.Equal(t, domain.Slot(0), c.CurrentSlot(genesis.Add(-time.Hour)))
	assert.Equal(t, domain.Slot(0), c.CurrentSlot(genesis.Add(11*time.Second)))
	assert.Equal(t, domain.Slot(1), c.CurrentSlot(genesis.Add(12*time.Second)))
	assert.Equal(t, domain.Slot(100), c.CurrentSlot(genesis.Add(1205*time.Second)))

	start, err := c.SlotStart(100)
	require.NoError(t, err)
	assert.Equal(t, genesis.Add(1200*time.Second), start)
}

func TestSlotsUntilEpochEnd(t *testing.T) {
	c := NewChainClock(time.Unix(0, 0), 6, 8)
	assert.Equal(t, uint64(7), c.SlotsUntilEpochEnd(16))
	assert.Equal(t, uint64(0), c.SlotsUntilEpochEnd(23))
	last, err := c.LastSlotOf(2)
	require.NoError(t, err)
	assert.Equal(t, domain.Slot(23), last)
}
