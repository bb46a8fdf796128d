package serverbridge

import (
	"context"

	"github.com/arklabs/bridge/internal/vtxo"
)

// VtxoStore is the narrow slice of the server's VTXO table this bridge
// depends on: looking vtxos up by id. Owning the table itself (and the
// rest of Ark round/onboarding logic) is outside this bridge's scope.
type VtxoStore interface {
	GetVtxosByID(ctx context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error)
}
