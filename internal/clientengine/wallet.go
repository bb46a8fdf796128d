// Package clientengine implements the Client Payment Engine (C3): the
// per-payment_hash state machine
//
//	Initiated -> Cosigned -> Persisted -> Forwarded -> { Completed | Revoking -> Revoked | Exiting -> Exited }
//
// described in SPEC_FULL.md §4.3. Grounded line-for-line on
// original_source/bark/src/liquid/pay.rs's pay_liquid_address,
// check_liquid_payment and process_liquid_revocation.
package clientengine

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/arklabs/bridge/internal/vtxo"
)

// DustLimit is the minimum amount this engine will send, matching the
// original's bitcoin_ext::P2TR_DUST threshold for a taproot output.
const DustLimit = btcutil.Amount(330)

// WalletBackend is the narrow slice of wallet state the engine needs but
// does not own: coin selection, key derivation, and vtxo bookkeeping.
// These are wallet-internal concerns outside this bridge's scope (the
// wallet is the original's `Wallet`, of which this bridge is one
// subsystem); the engine only calls through this interface.
type WalletBackend interface {
	// SelectVtxosToCover returns a set of spendable vtxos whose total
	// amount is >= amount, or bridgeerrors.ErrInsufficientFunds.
	SelectVtxosToCover(ctx context.Context, amount btcutil.Amount) ([]vtxo.Vtxo, error)

	// VtxoKey returns the private key that owns v.
	VtxoKey(ctx context.Context, v vtxo.Vtxo) (*btcec.PrivateKey, error)

	// NextChangeKeypair derives a fresh keypair for a change output.
	NextChangeKeypair(ctx context.Context) (*btcec.PrivateKey, error)

	// MasterEntropy returns the wallet's seed entropy, used to derive
	// payment preimages deterministically (SPEC_FULL.md §9 item 2).
	MasterEntropy(ctx context.Context) ([]byte, error)

	// StoreLockedVtxos persists vtxos in the locked (not spendable) state,
	// associated with movementID.
	StoreLockedVtxos(ctx context.Context, vtxos []vtxo.Vtxo, movementID int64) error

	// StoreSpendableVtxos persists vtxos in the spendable state.
	StoreSpendableVtxos(ctx context.Context, vtxos []vtxo.Vtxo) error

	// MarkVtxosSpent transitions the named vtxos to the spent state.
	MarkVtxosSpent(ctx context.Context, ids []vtxo.ID) error

	// VtxosByID re-reads vtxos by id, used during reconciliation to
	// re-derive the HTLC policy a LiquidSend record was created under.
	VtxosByID(ctx context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error)
}
