package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// --------------------------------------------------------

// Domain types used for anything related to validators
type Epoch uint64
type Slot uint64
type ValidatorIndex uint64
type CommitteeIndex uint64

type Root [32]byte
type BLSPubKey [48]byte
type BLSSignature [96]byte

func (r Root) String() string {
	return "0x" + hex.EncodeToString(r[:])
}

func (r Root) IsZero() bool {
	return r == Root{}
}

func (p BLSPubKey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// Short is the truncated form used in log lines and metric labels.
func (p BLSPubKey) Short() string {
	return "0x" + hex.EncodeToString(p[:4])
}

func (s BLSSignature) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// PubKeyFromHex decodes a 0x-prefixed or bare hex public key.
func PubKeyFromHex(s string) (BLSPubKey, error) {
	var pk BLSPubKey
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, errors.Wrapf(err, "failed to decode pubkey %s", s)
	}
	if len(b) != len(pk) {
		return pk, fmt.Errorf("invalid pubkey length %d for %s", len(b), s)
	}
	copy(pk[:], b)
	return pk, nil
}

// --------------------------------------------------------

// ValidatorIdentity is loaded once at startup and never mutated.
type ValidatorIdentity struct {
	PubKey BLSPubKey
	Index  ValidatorIndex
	// KeyHandle is opaque to the duty engine; only the signer resolves it.
	KeyHandle string
}

func (v ValidatorIdentity) String() string {
	return fmt.Sprintf("%d(%s)", v.Index, v.PubKey.Short())
}
