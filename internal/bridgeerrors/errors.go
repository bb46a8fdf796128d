// Package bridgeerrors defines the sentinel error kinds surfaced by the
// client payment engine and the server bridge, per the error table in
// SPEC_FULL.md §7.
package bridgeerrors

import (
	goerrors "github.com/go-errors/errors"
)

// Sentinel errors. Callers should use errors.Is against these; wrapped
// variants (via Wrap) keep the chain intact.
var (
	ErrDustAmount         = goerrors.Errorf("amount is below the dust threshold")
	ErrDuplicatePayment   = goerrors.Errorf("a payment with this hash has already been initiated")
	ErrInsufficientFunds  = goerrors.Errorf("not enough spendable vtxos to cover amount")
	ErrCosignMismatch     = goerrors.Errorf("server cosignature did not verify")
	ErrInvalidPolicy      = goerrors.Errorf("server returned an invalid htlc policy")
	ErrRevocationFailure  = goerrors.Errorf("revocation package failed to cosign")
	ErrPaymentNotFound    = goerrors.Errorf("no liquid payment tracked under this hash")
	ErrArityMismatch      = goerrors.Errorf("server returned the wrong number of cosign responses")
	ErrMalformedResponse  = goerrors.Errorf("server cosign response is malformed")
	ErrUnknownVtxo        = goerrors.Errorf("one or more vtxo ids are unknown to the server")
	ErrVtxoExited         = goerrors.Errorf("vtxo has already been marked for unilateral exit")
	ErrVtxoNotSpendable   = goerrors.Errorf("vtxo is not spendable")
	ErrPaymentNotRevocable = goerrors.Errorf("payment is not failed or expired, refusing to cosign revocation")
)

// Wrap annotates err with msg and a stack trace, for errors that are
// logged server-side and benefit from a backtrace, mirroring the
// anyhow::Context idiom used throughout the Rust original.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{stack: goerrors.WrapPrefix(err, msg, 1), cause: err}
}

// wrapped pairs the stack-carrying go-errors value with the error it
// annotates, so errors.Is/errors.As still reach the original error.
type wrapped struct {
	stack *goerrors.Error
	cause error
}

func (w *wrapped) Error() string      { return w.stack.Error() }
func (w *wrapped) ErrorStack() string { return w.stack.ErrorStack() }
func (w *wrapped) Unwrap() error      { return w.cause }
