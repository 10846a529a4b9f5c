package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dappnode/validator-duties/internal/application/domain"
	"github.com/dappnode/validator-duties/internal/application/ports"
)

type Notifier struct {
	BaseURL       string
	BeaconchaUrl  string
	Network       string
	Category      Category
	SignerDnpName string
	HTTPClient    *http.Client
}

var _ ports.NotifierPort = (*Notifier)(nil)

func NewNotifier(baseURL, beaconchaUrl, network, signerDnpName string) *Notifier {
	category := Category(strings.ToLower(network))
	if network == "mainnet" {
		category = Ethereum
	}
	return &Notifier{
		BaseURL:       baseURL,
		BeaconchaUrl:  beaconchaUrl,
		Network:       network,
		Category:      category,
		SignerDnpName: signerDnpName,
		HTTPClient:    &http.Client{Timeout: 3 * time.Second},
	}
}

type CallToAction struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Category string

const (
	Ethereum Category = "ethereum"
	Hoodi    Category = "hoodi"
	Holesky  Category = "holesky"
	Gnosis   Category = "gnosis"
	Lukso    Category = "lukso"
)

type Priority string

const (
	Low      Priority = "low"
	Medium   Priority = "medium"
	High     Priority = "high"
	Critical Priority = "critical"
	Info     Priority = "info"
)

type Status string

const (
	Triggered Status = "triggered"
	Resolved  Status = "resolved"
)

type NotificationPayload struct {
	Title         string        `json:"title"`
	Body          string        `json:"body"`
	Category      *Category     `json:"category,omitempty"`
	Status        *Status       `json:"status,omitempty"`
	IsBanner      *bool         `json:"isBanner,omitempty"`
	Priority      *Priority     `json:"priority,omitempty"`
	CorrelationId *string       `json:"correlationId,omitempty"`
	DnpName       *string       `json:"dnpName,omitempty"`
	CallToAction  *CallToAction `json:"callToAction,omitempty"`
}

func (n *Notifier) sendNotification(payload NotificationPayload) error {
	url := fmt.Sprintf("%s/api/v1/notifications", n.BaseURL)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.HTTPClient.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed with status: %s", resp.Status)
	}
	return nil
}

func (n *Notifier) payload(id domain.ValidatorNotification, title, body string, priority Priority, status Status, banner bool) NotificationPayload {
	correlationId := string(id)
	p := NotificationPayload{
		Title:         title,
		Body:          body,
		Category:      &n.Category,
		Priority:      &priority,
		DnpName:       &n.SignerDnpName,
		Status:        &status,
		CorrelationId: &correlationId,
	}
	if banner {
		p.IsBanner = &banner
	}
	return p
}

// SendSigningRejectedNot is sent when slashing protection refuses to sign a duty.
func (n *Notifier) SendSigningRejectedNot(validator domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot) error {
	title := fmt.Sprintf("Slashing Protection Refused To Sign: %d", validator)
	body := fmt.Sprintf("Validator %d was asked to %s at slot %d on %s, but this would conflict with a message it already signed. Nothing was signed. Check that the key is not running in another client. View: %s",
		validator, kind, slot, n.Network, n.buildBeaconchaURL(validator))
	return n.sendNotification(n.payload(domain.SlashingProtection, title, body, Critical, Triggered, true))
}

// SendBlockProposalNot sends a notification when a block is proposed or the proposal failed.
func (n *Notifier) SendBlockProposalNot(validator domain.ValidatorIndex, slot domain.Slot, proposed bool) error {
	var title, body string
	var priority Priority
	if proposed {
		title = fmt.Sprintf("Block Proposed: %d", validator)
		body = fmt.Sprintf("Validator %d proposed a block at slot %d on %s. View: %s", validator, slot, n.Network, n.buildBeaconchaURL(validator))
		priority = Info
	} else {
		title = fmt.Sprintf("Block Proposal Failed: %d", validator)
		body = fmt.Sprintf("Validator %d could not propose its block at slot %d on %s. View: %s", validator, slot, n.Network, n.buildBeaconchaURL(validator))
		priority = High
	}
	return n.sendNotification(n.payload(domain.BlockProposal, title, body, priority, Triggered, true))
}

// SendDutyFailedNot reports a duty that could not be delivered to the beacon node.
func (n *Notifier) SendDutyFailedNot(validator domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot, reason string) error {
	title := fmt.Sprintf("Validator Duty Failed: %d", validator)
	body := fmt.Sprintf("Validator %d could not %s at slot %d on %s: %s", validator, kind, slot, n.Network, reason)
	return n.sendNotification(n.payload(domain.DutyFailure, title, body, Medium, Triggered, false))
}

// Helper to build beaconcha URL for a validator
func (n *Notifier) buildBeaconchaURL(index domain.ValidatorIndex) string {
	if n.BeaconchaUrl == "" {
		return ""
	}
	return fmt.Sprintf("%s/validator/%d", n.BeaconchaUrl, index)
}
