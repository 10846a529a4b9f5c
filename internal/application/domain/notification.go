package domain

type ValidatorNotificationsEnabled map[ValidatorNotification]bool

// create a enum with the validator notifications
type ValidatorNotification string

const (
	SlashingProtection ValidatorNotification = "validator-slashing-protection" // refused to sign
	BlockProposal      ValidatorNotification = "block-proposal"
	DutyFailure        ValidatorNotification = "validator-duty-failure"
)

// AllNotifications lists every notification the engine can emit.
var AllNotifications = []ValidatorNotification{SlashingProtection, BlockProposal, DutyFailure}
