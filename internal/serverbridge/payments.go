package serverbridge

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/arklabs/bridge/internal/vtxo"
)

// PaymentStatus is the in-memory LiquidPayment lifecycle, per spec.md §3:
// Pending -> {Sent, Failed}; Sent -> {Confirmed, Failed}; Confirmed and
// Failed are terminal.
type PaymentStatus int

const (
	PaymentPending PaymentStatus = iota
	PaymentSent
	PaymentConfirmed
	PaymentFailed
)

// LiquidPayment is the server's in-memory record of one outbound
// sidechain payment, keyed by payment hash. No durability: a server
// restart loses in-flight payments from the server's view, per
// spec.md §4.4 ("no durability in the current design").
type LiquidPayment struct {
	LiquidAddress string
	Amount        btcutil.Amount
	PaymentHash   vtxo.PaymentHash
	HTLCVtxoIDs   []vtxo.ID
	Status        PaymentStatus
	LiquidTxid    string
}

// paymentTracker is the mutex-guarded liquid_payments map of spec.md §5:
// the critical section covers only insert/get, never an RPC.
type paymentTracker struct {
	mu       sync.Mutex
	payments map[vtxo.PaymentHash]*LiquidPayment
}

func newPaymentTracker() *paymentTracker {
	return &paymentTracker{payments: make(map[vtxo.PaymentHash]*LiquidPayment)}
}

func (t *paymentTracker) store(p *LiquidPayment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payments[p.PaymentHash] = p
}

func (t *paymentTracker) get(hash vtxo.PaymentHash) (*LiquidPayment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.payments[hash]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}
