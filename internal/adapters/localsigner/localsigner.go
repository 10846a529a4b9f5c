package localsigner

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"
	"gopkg.in/yaml.v2"
)

// ETH2 uses BLS12381-G2 Curve
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

const secretKeyLength = 32

// keysFile is the YAML layout of LOCAL_KEYS_FILE: a list of hex encoded secret keys.
type keysFile struct {
	SecretKeys []string `yaml:"secret_keys"`
}

// LocalSigner signs with secret keys held in memory. Meant for devnets and tests.
type LocalSigner struct {
	mu   sync.RWMutex
	keys map[domain.BLSPubKey]*blst.SecretKey
}

var _ ports.Signer = (*LocalSigner)(nil)

func New(secretKeys ...[]byte) (*LocalSigner, error) {
	s := &LocalSigner{keys: make(map[domain.BLSPubKey]*blst.SecretKey, len(secretKeys))}
	for i, raw := range secretKeys {
		if len(raw) != secretKeyLength {
			return nil, fmt.Errorf("secret key %d must be %d bytes", i, secretKeyLength)
		}
		sk := new(blst.SecretKey).Deserialize(raw)
		if sk == nil {
			return nil, fmt.Errorf("could not unmarshal secret key %d", i)
		}
		s.add(sk)
	}
	return s, nil
}

// NewFromFile loads the secret keys listed in a YAML file.
func NewFromFile(path string) (*LocalSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read keys file %s", path)
	}
	var f keysFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "could not parse keys file %s", path)
	}
	keys := make([][]byte, 0, len(f.SecretKeys))
	for i, h := range f.SecretKeys {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "secret key %d", i)
		}
		keys = append(keys, b)
	}
	return New(keys...)
}

// NewFromSeeds derives one key per seed with the IETF KeyGen. Seeds need at least 32 bytes.
func NewFromSeeds(seeds ...[]byte) (*LocalSigner, error) {
	s := &LocalSigner{keys: make(map[domain.BLSPubKey]*blst.SecretKey, len(seeds))}
	for i, seed := range seeds {
		sk := blst.KeyGen(seed)
		if sk == nil {
			return nil, fmt.Errorf("could not derive key from seed %d", i)
		}
		s.add(sk)
	}
	return s, nil
}

func (s *LocalSigner) add(sk *blst.SecretKey) domain.BLSPubKey {
	var pk domain.BLSPubKey
	copy(pk[:], new(blst.P1Affine).From(sk).Compress())
	s.mu.Lock()
	s.keys[pk] = sk
	s.mu.Unlock()
	return pk
}

// PubKeys lists the public keys held by the signer.
func (s *LocalSigner) PubKeys() []domain.BLSPubKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BLSPubKey, 0, len(s.keys))
	for pk := range s.keys {
		out = append(out, pk)
	}
	return out
}

func (s *LocalSigner) GetValidatorPubkeys(_ context.Context) ([]string, error) {
	pks := s.PubKeys()
	out := make([]string, 0, len(pks))
	for _, pk := range pks {
		out = append(out, pk.String())
	}
	return out, nil
}

func (s *LocalSigner) Sign(_ context.Context, identity domain.ValidatorIdentity, req ports.SignRequest) (domain.BLSSignature, error) {
	return s.sign(identity.PubKey, req.SigningRoot)
}

func (s *LocalSigner) sign(pubkey domain.BLSPubKey, signingRoot domain.Root) (domain.BLSSignature, error) {
	s.mu.RLock()
	sk, ok := s.keys[pubkey]
	s.mu.RUnlock()
	if !ok {
		return domain.BLSSignature{}, fmt.Errorf("no secret key for %s", pubkey.Short())
	}
	var sig domain.BLSSignature
	copy(sig[:], new(blst.P2Affine).Sign(sk, signingRoot[:], dst).Compress())
	return sig, nil
}

// SelfCheck signs a fixed root with every key and verifies the result against
// the derived public key. Run once at startup.
func (s *LocalSigner) SelfCheck() error {
	pks := s.PubKeys()
	v, err := NewVerifier(len(pks) + 1)
	if err != nil {
		return err
	}
	checkRoot := domain.Root{0x5e, 0x1f}
	for _, pk := range pks {
		sig, err := s.sign(pk, checkRoot)
		if err != nil {
			return err
		}
		if !v.Verify(pk, checkRoot, sig) {
			return fmt.Errorf("key %s does not verify its own signature", pk.Short())
		}
	}
	return nil
}

// Verifier checks signatures, caching decompressed public keys.
type Verifier struct {
	pubkeys *lru.Cache[domain.BLSPubKey, *blst.P1Affine]
}

func NewVerifier(size int) (*Verifier, error) {
	cache, err := lru.New[domain.BLSPubKey, *blst.P1Affine](size)
	if err != nil {
		return nil, err
	}
	return &Verifier{pubkeys: cache}, nil
}

func (v *Verifier) Verify(pubkey domain.BLSPubKey, signingRoot domain.Root, sig domain.BLSSignature) bool {
	pk, ok := v.pubkeys.Get(pubkey)
	if !ok {
		pk = new(blst.P1Affine).Uncompress(pubkey[:])
		if pk == nil || !pk.KeyValidate() {
			return false
		}
		v.pubkeys.Add(pubkey, pk)
	}
	s := new(blst.P2Affine).Uncompress(sig[:])
	if s == nil {
		return false
	}
	return s.Verify(true, pk, false, signingRoot[:], dst)
}
