// Package vtxo models the data the spec treats as external-but-required:
// the Ark off-chain output (VTXO) and its tagged spending-policy variants.
// The cryptographic math behind VTXO signing lives in internal/musig and
// internal/arkoor; this package only holds the sum-typed data model
// described in SPEC_FULL.md §3.
package vtxo

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ID uniquely identifies a VTXO. Modeled as a 32-byte hash, the same
// shape as a bitcoin txid, matching the original's VtxoId::to_bytes().
type ID [32]byte

// PaymentHash is the 32-byte image of a Preimage under SHA-256, shared
// between client and server as the only cross-party payment identifier.
type PaymentHash [32]byte

// Preimage is the secret whose hash commits a payment.
type Preimage [32]byte

func (i ID) String() string { return chainhash.Hash(i).String() }

func (i ID) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, i[:])
	return b
}

func (h PaymentHash) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, h[:])
	return b
}

// State is the lifecycle stage of a VTXO. Invariant (SPEC_FULL.md §3):
// at any time a VTXO is in exactly one of these states.
type State int

const (
	StateSpendable State = iota
	StateLocked
	StateSpent
	StateExited
)

func (s State) String() string {
	switch s {
	case StateSpendable:
		return "spendable"
	case StateLocked:
		return "locked"
	case StateSpent:
		return "spent"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// PolicyKind discriminates the VtxoPolicy sum type.
type PolicyKind int

const (
	PolicyKindPlain PolicyKind = iota
	PolicyKindServerHTLCSend
	PolicyKindServerHTLCReceive
)

// Policy is the tagged variant a VTXO's spending condition carries. Only
// the ServerHTLCSend branch matters to this bridge; the other variants
// exist so casts fail closed (typed error) rather than silently
// defaulting, per SPEC_FULL.md's "tagged VTXO policy" design note.
type Policy interface {
	Kind() PolicyKind
	// Equal reports whether two policies encode the same spending
	// condition; used to assert all HTLC vtxos of one payment share one
	// policy instance (SPEC_FULL.md §3 invariant).
	Equal(other Policy) bool
}

// PlainPolicy is a VTXO spendable by a single key, no HTLC involved.
type PlainPolicy struct {
	UserPubkey *btcec.PublicKey
}

func (PlainPolicy) Kind() PolicyKind { return PolicyKindPlain }

func (p PlainPolicy) Equal(other Policy) bool {
	o, ok := other.(PlainPolicy)
	if !ok {
		return false
	}
	return p.UserPubkey.IsEqual(o.UserPubkey)
}

// ServerHTLCSendPolicy encodes an outbound HTLC: the server holds the
// hashlock branch, the user (cosigned by the server) holds the timeout
// refund branch. All HTLC VTXOs produced by one payment share one
// instance of this policy (SPEC_FULL.md §3 invariant).
type ServerHTLCSendPolicy struct {
	UserPubkey  *btcec.PublicKey
	PaymentHash PaymentHash
	HTLCExpiry  uint32
}

func (ServerHTLCSendPolicy) Kind() PolicyKind { return PolicyKindServerHTLCSend }

func (p ServerHTLCSendPolicy) Equal(other Policy) bool {
	o, ok := other.(ServerHTLCSendPolicy)
	if !ok {
		return false
	}
	return p.UserPubkey.IsEqual(o.UserPubkey) &&
		p.PaymentHash == o.PaymentHash &&
		p.HTLCExpiry == o.HTLCExpiry
}

// ServerHTLCReceivePolicy is the inbound counterpart. Unused by this
// bridge (send-only) but kept so the sum type matches the original's
// VtxoPolicy enum and casts fail closed instead of being unrepresentable.
type ServerHTLCReceivePolicy struct {
	UserPubkey  *btcec.PublicKey
	PaymentHash PaymentHash
}

func (ServerHTLCReceivePolicy) Kind() PolicyKind { return PolicyKindServerHTLCReceive }

func (p ServerHTLCReceivePolicy) Equal(other Policy) bool {
	o, ok := other.(ServerHTLCReceivePolicy)
	if !ok {
		return false
	}
	return p.UserPubkey.IsEqual(o.UserPubkey) && p.PaymentHash == o.PaymentHash
}

// AsServerHTLCSend casts policy to its ServerHTLCSendPolicy variant,
// returning a typed error rather than continuing silently when the cast
// fails - mirrors the original's `as_server_htlc_send()` helper.
func AsServerHTLCSend(p Policy) (ServerHTLCSendPolicy, error) {
	htlc, ok := p.(ServerHTLCSendPolicy)
	if !ok {
		return ServerHTLCSendPolicy{}, fmt.Errorf("vtxo policy is %T, not a ServerHTLCSend policy", p)
	}
	return htlc, nil
}

// Vtxo is an Ark off-chain output: a unique id, an amount, a spending
// policy, a chain anchor (the on-chain parent transaction), and an
// expiry block height.
type Vtxo struct {
	id           ID
	amount       btcutil.Amount
	policy       Policy
	chainAnchor  wire.OutPoint
	expiryHeight uint32
	state        State
}

// New constructs a Vtxo in the spendable state. Outside of tests it is
// called by the package builders (internal/arkoor) and by the record
// decoders of internal/walletdb and internal/servervtxostore.
func New(id ID, amount btcutil.Amount, policy Policy, anchor wire.OutPoint, expiry uint32) Vtxo {
	return Vtxo{
		id:           id,
		amount:       amount,
		policy:       policy,
		chainAnchor:  anchor,
		expiryHeight: expiry,
		state:        StateSpendable,
	}
}

func (v Vtxo) ID() ID                        { return v.id }
func (v Vtxo) Amount() btcutil.Amount        { return v.amount }
func (v Vtxo) Policy() Policy                { return v.policy }
func (v Vtxo) ChainAnchor() wire.OutPoint    { return v.chainAnchor }
func (v Vtxo) ExpiryHeight() uint32          { return v.expiryHeight }
func (v Vtxo) State() State                  { return v.state }
func (v Vtxo) IsSpendable() bool             { return v.state == StateSpendable }

// WithState returns a copy of v transitioned to state s. VTXOs are
// treated as immutable value types; callers persist the returned copy.
func (v Vtxo) WithState(s State) Vtxo {
	v.state = s
	return v
}

// TotalAmount sums the amounts of vtxos.
func TotalAmount(vtxos []Vtxo) btcutil.Amount {
	var total btcutil.Amount
	for _, v := range vtxos {
		total += v.Amount()
	}
	return total
}

// IDs returns the ids of vtxos, preserving order.
func IDs(vtxos []Vtxo) []ID {
	ids := make([]ID, len(vtxos))
	for i, v := range vtxos {
		ids[i] = v.ID()
	}
	return ids
}
