package interfaces

import (
	"context"

	"extended-cli/internal/types"
)

// Signer produces the Stark settlement signature an order must carry.
type Signer interface {
	Sign(ctx context.Context, req types.SettlementRequest) (types.Signature, error)
}
