package services

import (
	"math"
	"math/bits"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/pkg/errors"
)

// ChainClock converts between wall clock time, slots and epochs.
type ChainClock struct {
	genesis        time.Time
	secondsPerSlot uint64
	slotsPerEpoch  uint64
}

func NewChainClock(genesis time.Time, secondsPerSlot, slotsPerEpoch uint64) *ChainClock {
	return &ChainClock{genesis: genesis, secondsPerSlot: secondsPerSlot, slotsPerEpoch: slotsPerEpoch}
}

func (c *ChainClock) Genesis() time.Time     { return c.genesis }
func (c *ChainClock) SecondsPerSlot() uint64 { return c.secondsPerSlot }
func (c *ChainClock) SlotsPerEpoch() uint64  { return c.slotsPerEpoch }

func (c *ChainClock) SlotDuration() time.Duration {
	return time.Duration(c.secondsPerSlot) * time.Second
}

// CurrentSlot is the slot in progress at now. Before genesis it is 0.
func (c *ChainClock) CurrentSlot(now time.Time) domain.Slot {
	if !now.After(c.genesis) {
		return 0
	}
	return domain.Slot(uint64(now.Sub(c.genesis)) / uint64(c.SlotDuration()))
}

// SlotStart is the wall clock time at which slot begins.
func (c *ChainClock) SlotStart(slot domain.Slot) (time.Time, error) {
	hi, secs := bits.Mul64(uint64(slot), c.secondsPerSlot)
	if hi != 0 || secs > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Time{}, errors.Wrapf(domain.ErrArithmeticOverflow, "start of slot %d", slot)
	}
	return c.genesis.Add(time.Duration(secs) * time.Second), nil
}

func (c *ChainClock) EpochOf(slot domain.Slot) domain.Epoch {
	return domain.Epoch(uint64(slot) / c.slotsPerEpoch)
}

func (c *ChainClock) StartSlotOf(epoch domain.Epoch) (domain.Slot, error) {
	hi, lo := bits.Mul64(uint64(epoch), c.slotsPerEpoch)
	if hi != 0 {
		return 0, errors.Wrapf(domain.ErrArithmeticOverflow, "start slot of epoch %d", epoch)
	}
	return domain.Slot(lo), nil
}

// LastSlotOf is the final slot of epoch.
func (c *ChainClock) LastSlotOf(epoch domain.Epoch) (domain.Slot, error) {
	start, err := c.StartSlotOf(epoch)
	if err != nil {
		return 0, err
	}
	if uint64(start) > math.MaxUint64-(c.slotsPerEpoch-1) {
		return 0, errors.Wrapf(domain.ErrArithmeticOverflow, "last slot of epoch %d", epoch)
	}
	return start + domain.Slot(c.slotsPerEpoch-1), nil
}

// SlotsUntilEpochEnd counts the slots after slot that remain in its epoch.
func (c *ChainClock) SlotsUntilEpochEnd(slot domain.Slot) uint64 {
	return c.slotsPerEpoch - 1 - uint64(slot)%c.slotsPerEpoch
}
