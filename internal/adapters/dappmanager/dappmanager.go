package dappmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
)

// DappManagerAdapter is the adapter to interact with the DappManager API
type DappManagerAdapter struct {
	baseURL       string
	signerDnpName string
	client        *http.Client
}

var _ ports.DappManagerPort = (*DappManagerAdapter)(nil)

// NewDappManagerAdapter creates a new DappManagerAdapter
func NewDappManagerAdapter(baseURL string, dnpName string) *DappManagerAdapter {
	return &DappManagerAdapter{
		baseURL:       baseURL,
		signerDnpName: dnpName,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
}

// Manifest represents the manifest of a package
type manifest struct {
	Notifications struct {
		CustomEndpoints []CustomEndpoint `json:"customEndpoints"`
	} `json:"notifications"`
}

type CustomEndpoint struct {
	Name          string `json:"name"`
	Enabled       bool   `json:"enabled"`
	Description   string `json:"description"`
	IsBanner      bool   `json:"isBanner"`
	CorrelationId string `json:"correlationId"`
}

// GetNotificationsEnabled reads which duty notifications the user enabled in the signer package.
func (d *DappManagerAdapter) GetNotificationsEnabled(ctx context.Context) (domain.ValidatorNotificationsEnabled, error) {
	customEndpoints, err := d.getSignerManifestNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications from signer manifest: %w", err)
	}

	known := make(map[domain.ValidatorNotification]struct{}, len(domain.AllNotifications))
	for _, n := range domain.AllNotifications {
		known[n] = struct{}{}
	}

	notifications := make(domain.ValidatorNotificationsEnabled)
	for _, endpoint := range customEndpoints {
		id := domain.ValidatorNotification(endpoint.CorrelationId)
		if _, ok := known[id]; ok {
			notifications[id] = endpoint.Enabled
		}
	}
	return notifications, nil
}

// getSignerManifestNotifications gets the notifications from the Signer package manifest
func (d *DappManagerAdapter) getSignerManifestNotifications(ctx context.Context) ([]CustomEndpoint, error) {
	url := d.baseURL + "/package-manifest/" + d.signerDnpName

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for package %s: %w", d.signerDnpName, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for package %s: %w", d.signerDnpName, err)
	}
	defer resp.Body.Close()

	// This covers all 2xx status codes. If its not 2xx, we dont bother parsing the manifest and return an error
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code %d for package %s", resp.StatusCode, d.signerDnpName)
	}

	var manifest manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for package %s: %w", d.signerDnpName, err)
	}

	return manifest.Notifications.CustomEndpoints, nil
}
