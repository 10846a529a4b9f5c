package ports

import "github.com/dappnode/validator-duties/internal/application/domain"

type NotifierPort interface {
	SendSigningRejectedNot(validator domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot) error
	SendBlockProposalNot(validator domain.ValidatorIndex, slot domain.Slot, proposed bool) error
	SendDutyFailedNot(validator domain.ValidatorIndex, kind domain.DutyKind, slot domain.Slot, reason string) error
}
