package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/dappnode/validator-duties/internal/application/ports"
)

// The brain lists the keys of every tag imported in the web3signer package. It is
// queried in addition to the signer because Web3Signer only answers whitelisted hosts.
// See https://github.com/dappnode/DAppNodePackage-web3signer-generic/blob/e50e36e6fe213f274cceefc2a089552fa6042be4/services/web3signer/entrypoint.sh#L41C28-L41C42

const brainPort = "5000"

type BrainAdapter struct {
	BaseURL string
	client  *http.Client
}

var _ ports.PubkeySource = (*BrainAdapter)(nil)

// brainValidatorsResponse maps a tag (solo, lido, ...) to its pubkeys.
type brainValidatorsResponse map[string][]string

func NewBrainAdapter(baseURL string) (*BrainAdapter, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid brain url %q", baseURL)
	}
	if u.Port() == "" {
		u.Host = u.Hostname() + ":" + brainPort
	}
	return &BrainAdapter{
		BaseURL: u.String(),
		client:  &http.Client{Timeout: 3 * time.Second},
	}, nil
}

// GetValidatorPubkeys queries /api/v0/brain/validators?format=pubkey and merges
// the keys of every tag in a stable order.
func (b *BrainAdapter) GetValidatorPubkeys(ctx context.Context) ([]string, error) {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid brain endpoint: %w", err)
	}
	u = u.JoinPath("api", "v0", "brain", "validators")
	q := u.Query()
	q.Set("format", "pubkey")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating brain request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending brain request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected brain status %d: %s", resp.StatusCode, string(body))
	}

	var result brainValidatorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding brain response: %w", err)
	}

	tags := make([]string, 0, len(result))
	for tag := range result {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var pubkeys []string
	for _, tag := range tags {
		pubkeys = append(pubkeys, result[tag]...)
	}
	return pubkeys, nil
}
