// Package chainoracle defines the narrow external-collaborator interface
// the client engine and server bridge use to learn the chain tip and
// fetch a VTXO's chain-anchor transaction. Per spec.md §1 this surface is
// treated as opaque/out of scope: no implementation beyond a test double
// is owned by this repo.
package chainoracle

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Oracle is the chain-query surface the bridge depends on.
type Oracle interface {
	// Tip returns the current chain tip height.
	Tip(ctx context.Context) (uint32, error)
	// GetTx fetches a confirmed transaction by txid, or nil if unknown.
	GetTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
}
