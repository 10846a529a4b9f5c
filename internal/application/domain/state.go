package domain

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Version [4]byte
type DomainType [4]byte

// Domain is a 4-byte domain type followed by a 4-byte fork version.
type Domain [8]byte

// DomainTypeFromUint32 encodes a configured domain constant little-endian.
func DomainTypeFromUint32(v uint32) DomainType {
	var dt DomainType
	binary.LittleEndian.PutUint32(dt[:], v)
	return dt
}

type Fork struct {
	PreviousVersion Version
	CurrentVersion  Version
	Epoch           Epoch
}

// VersionAt selects the fork version in force at epoch.
func (f Fork) VersionAt(epoch Epoch) Version {
	if epoch < f.Epoch {
		return f.PreviousVersion
	}
	return f.CurrentVersion
}

// ComputeDomain derives the signing domain of a message at messageEpoch.
func ComputeDomain(domainType DomainType, fork Fork, messageEpoch Epoch) Domain {
	var d Domain
	v := fork.VersionAt(messageEpoch)
	copy(d[:4], domainType[:])
	copy(d[4:], v[:])
	return d
}

// BlockRootHistory is a fixed size ring of block roots indexed by slot modulo its size.
type BlockRootHistory struct {
	mu      sync.RWMutex
	size    uint64
	roots   []Root
	slots   []Slot
	present []bool
}

func NewBlockRootHistory(size uint64) *BlockRootHistory {
	return &BlockRootHistory{
		size:    size,
		roots:   make([]Root, size),
		slots:   make([]Slot, size),
		present: make([]bool, size),
	}
}

func (h *BlockRootHistory) Size() uint64 {
	if h == nil {
		return 0
	}
	return h.size
}

// Set stores root for slot, overwriting whatever slot shared its ring position.
func (h *BlockRootHistory) Set(slot Slot, root Root) {
	if h == nil || h.size == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	i := uint64(slot) % h.size
	h.roots[i] = root
	h.slots[i] = slot
	h.present[i] = true
}

// Get returns the root stored for slot. A ring position holding another slot is a miss.
func (h *BlockRootHistory) Get(slot Slot) (Root, bool) {
	if h == nil || h.size == 0 {
		return Root{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	i := uint64(slot) % h.size
	if !h.present[i] || h.slots[i] != slot {
		return Root{}, false
	}
	return h.roots[i], true
}

// StateSnapshot is the read-only view of the beacon state the duty engine works from.
// Slot is the state slot after advancing through empty slots up to the wall clock.
type StateSnapshot struct {
	Slot                       Slot
	GenesisTime                time.Time
	GenesisValidatorsRoot      Root
	Fork                       Fork
	LatestBlockRoot            Root
	LatestBlockHeader          BeaconBlockHeader
	BlockRoots                 *BlockRootHistory
	CurrentJustifiedCheckpoint Checkpoint
	FinalizedCheckpoint        Checkpoint
	Eth1Data                   Eth1Data
}

// InHistoryWindow reports whether the root of slot is still retained by the state.
func (s *StateSnapshot) InHistoryWindow(slot Slot) bool {
	return slot < s.Slot && uint64(s.Slot-slot) <= s.BlockRoots.Size()
}

// BlockRootAt looks up a historical block root. The state's own slot is not in
// the history; callers use LatestBlockRoot for it.
func (s *StateSnapshot) BlockRootAt(slot Slot) (Root, error) {
	if !s.InHistoryWindow(slot) {
		return Root{}, errors.Wrapf(ErrSlotOutOfRange, "slot %d with state slot %d and history %d", slot, s.Slot, s.BlockRoots.Size())
	}
	root, ok := s.BlockRoots.Get(slot)
	if !ok {
		return Root{}, errors.Wrapf(ErrBlockRootNotRetained, "slot %d", slot)
	}
	return root, nil
}

// Domain computes the signing domain for a message. A nil messageEpoch means the fork epoch.
func (s *StateSnapshot) Domain(domainType DomainType, messageEpoch *Epoch) Domain {
	epoch := s.Fork.Epoch
	if messageEpoch != nil {
		epoch = *messageEpoch
	}
	return ComputeDomain(domainType, s.Fork, epoch)
}
