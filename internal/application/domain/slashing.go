package domain

// SlashingRecord holds the highest signed values for one validator. Fields only grow.
type SlashingRecord struct {
	MaxTargetEpoch  Epoch
	MaxSourceEpoch  Epoch
	MaxProposalSlot Slot
	// HasAttested and HasProposed separate a clean record from one recorded at zero.
	HasAttested bool
	HasProposed bool
}
