package ports

import "context"

// PubkeySource lists the validator public keys this node signs for.
type PubkeySource interface {
	GetValidatorPubkeys(ctx context.Context) ([]string, error)
}
