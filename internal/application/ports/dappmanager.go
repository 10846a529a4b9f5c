package ports

import (
	"context"

	"github.com/dappnode/validator-duties/internal/application/domain"
)

type DappManagerPort interface {
	GetNotificationsEnabled(ctx context.Context) (domain.ValidatorNotificationsEnabled, error)
}
