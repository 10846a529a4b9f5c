package web3signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
)

// Web3SignerAdapter implements ports.Signer against a remote Web3Signer
type Web3SignerAdapter struct {
	Endpoint string
	client   *http.Client
}

var _ ports.Signer = (*Web3SignerAdapter)(nil)

// KeystoreResponse models the expected JSON from /eth/v1/keystores
type KeystoreResponse struct {
	Data []struct {
		ValidatingPubkey string `json:"validating_pubkey"`
	} `json:"data"`
}

// signRequest is the body of /api/v1/eth2/sign. Web3Signer recomputes the
// signing root from fork_info and the typed message.
type signRequest struct {
	Type         ports.SigningKind       `json:"type"`
	ForkInfo     forkInfo                `json:"fork_info"`
	SigningRoot  string                  `json:"signingRoot"`
	Attestation  *phase0.AttestationData `json:"attestation,omitempty"`
	BeaconBlock  *beaconBlockRequest     `json:"beacon_block,omitempty"`
	RandaoReveal *randaoRevealRequest    `json:"randao_reveal,omitempty"`
}

type forkInfo struct {
	Fork                  *phase0.Fork `json:"fork"`
	GenesisValidatorsRoot string       `json:"genesis_validators_root"`
}

type beaconBlockRequest struct {
	Version     string                    `json:"version"`
	BlockHeader *phase0.BeaconBlockHeader `json:"block_header"`
}

type randaoRevealRequest struct {
	Epoch string `json:"epoch"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func NewWeb3SignerAdapter(endpoint string) *Web3SignerAdapter {
	return &Web3SignerAdapter{
		Endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Web3SignerAdapter) GetValidatorPubkeys(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/eth/v1/keystores", w.Endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Web3Signer request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending Web3Signer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected Web3Signer status %d: %s", resp.StatusCode, string(body))
	}

	var keystoreResp KeystoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&keystoreResp); err != nil {
		return nil, fmt.Errorf("error decoding Web3Signer response: %w", err)
	}

	pubkeys := make([]string, 0, len(keystoreResp.Data))
	for _, item := range keystoreResp.Data {
		pubkeys = append(pubkeys, item.ValidatingPubkey)
	}
	return pubkeys, nil
}

// newSignRequest attaches the typed message Web3Signer expects for each kind.
func newSignRequest(req ports.SignRequest) (signRequest, error) {
	out := signRequest{
		Type: req.Kind,
		ForkInfo: forkInfo{
			Fork: &phase0.Fork{
				PreviousVersion: phase0.Version(req.Fork.PreviousVersion),
				CurrentVersion:  phase0.Version(req.Fork.CurrentVersion),
				Epoch:           phase0.Epoch(req.Fork.Epoch),
			},
			GenesisValidatorsRoot: req.GenesisValidatorsRoot.String(),
		},
		SigningRoot: req.SigningRoot.String(),
	}
	switch req.Kind {
	case ports.SigningKindAttestation:
		if req.Attestation == nil {
			return out, fmt.Errorf("%s request without attestation data", req.Kind)
		}
		a := req.Attestation
		out.Attestation = &phase0.AttestationData{
			Slot:            phase0.Slot(a.Slot),
			Index:           phase0.CommitteeIndex(a.Index),
			BeaconBlockRoot: phase0.Root(a.BeaconBlockRoot),
			Source:          &phase0.Checkpoint{Epoch: phase0.Epoch(a.Source.Epoch), Root: phase0.Root(a.Source.Root)},
			Target:          &phase0.Checkpoint{Epoch: phase0.Epoch(a.Target.Epoch), Root: phase0.Root(a.Target.Root)},
		}
	case ports.SigningKindBlock:
		if req.BlockHeader == nil || req.BlockVersion == "" {
			return out, fmt.Errorf("%s request without block header", req.Kind)
		}
		h := req.BlockHeader
		out.BeaconBlock = &beaconBlockRequest{
			Version: req.BlockVersion,
			BlockHeader: &phase0.BeaconBlockHeader{
				Slot:          phase0.Slot(h.Slot),
				ProposerIndex: phase0.ValidatorIndex(h.ProposerIndex),
				ParentRoot:    phase0.Root(h.ParentRoot),
				StateRoot:     phase0.Root(h.StateRoot),
				BodyRoot:      phase0.Root(h.BodyRoot),
			},
		}
	case ports.SigningKindRandao:
		out.RandaoReveal = &randaoRevealRequest{Epoch: strconv.FormatUint(uint64(req.Epoch), 10)}
	default:
		return out, fmt.Errorf("unsupported signing kind %q", req.Kind)
	}
	return out, nil
}

// Sign asks Web3Signer to sign a precomputed signing root with the key of identity.
func (w *Web3SignerAdapter) Sign(ctx context.Context, identity domain.ValidatorIdentity, req ports.SignRequest) (domain.BLSSignature, error) {
	var sig domain.BLSSignature

	keyID := identity.KeyHandle
	if keyID == "" {
		keyID = identity.PubKey.String()
	}
	signReq, err := newSignRequest(req)
	if err != nil {
		return sig, err
	}
	body, err := json.Marshal(signReq)
	if err != nil {
		return sig, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/eth2/sign/%s", w.Endpoint, keyID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sig, fmt.Errorf("creating Web3Signer sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return sig, fmt.Errorf("error sending Web3Signer sign request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return sig, fmt.Errorf("error reading Web3Signer sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return sig, fmt.Errorf("unexpected Web3Signer sign status %d: %s", resp.StatusCode, string(raw))
	}

	sigHex := strings.TrimSpace(string(raw))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var sr signResponse
		if err := json.Unmarshal(raw, &sr); err != nil {
			return sig, fmt.Errorf("error decoding Web3Signer sign response: %w", err)
		}
		sigHex = sr.Signature
	}
	b, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return sig, fmt.Errorf("invalid signature from Web3Signer: %w", err)
	}
	if len(b) != len(sig) {
		return sig, fmt.Errorf("invalid signature length %d from Web3Signer", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}
