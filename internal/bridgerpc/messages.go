// Package bridgerpc defines the client<->server wire protocol messages
// and service interfaces described in SPEC_FULL.md §6, plus a gRPC
// transport binding in the transport subpackage.
package bridgerpc

// PaymentStatus mirrors spec.md §6's LiquidPaymentResult.status enum.
type PaymentStatus int32

const (
	PaymentStatusPending  PaymentStatus = 0
	PaymentStatusComplete PaymentStatus = 1
	PaymentStatusFailed   PaymentStatus = 2
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusPending:
		return "Pending"
	case PaymentStatusComplete:
		return "Complete"
	case PaymentStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CosignResponseWire is one server cosign reply for one input, serialized
// for the wire (see internal/musig.CosignResponse for the typed form).
type CosignResponseWire struct {
	PubNonce         []byte `json:"pub_nonce"`
	PartialSignature []byte `json:"partial_signature"`
}

// LiquidPayHtlcCosignRequest is the client's request to cosign a send
// package, per spec.md §6 plus the payment_hash field SPEC_FULL.md §6
// adds (required for the server to mint a policy the client can verify
// the payment hash against).
type LiquidPayHtlcCosignRequest struct {
	LiquidAddress string   `json:"liquid_address"`
	AmountSat     uint64   `json:"amount_sat"`
	InputVtxoIDs  [][]byte `json:"input_vtxo_ids"`
	UserNonces    [][]byte `json:"user_nonces"`
	UserPubkey    []byte   `json:"user_pubkey"`
	PaymentHash   []byte   `json:"payment_hash"`
}

// LiquidPayHtlcCosignResponse is the server's reply: one cosign response
// per input, plus the serialized ServerHtlcSend policy the client must
// re-derive identical outputs from.
type LiquidPayHtlcCosignResponse struct {
	Sigs   []CosignResponseWire `json:"sigs"`
	Policy []byte               `json:"policy"`
}

// InitiateLiquidPaymentRequest asks the server to forward amount to
// address on the sidechain, tracked under payment_hash.
type InitiateLiquidPaymentRequest struct {
	LiquidAddress string   `json:"liquid_address"`
	AmountSat     uint64   `json:"amount_sat"`
	PaymentHash   []byte   `json:"payment_hash"`
	HTLCVtxoIDs   [][]byte `json:"htlc_vtxo_ids"`
	Wait          bool     `json:"wait"`
}

// CheckLiquidPaymentRequest polls the status of a previously initiated
// payment.
type CheckLiquidPaymentRequest struct {
	Hash []byte `json:"hash"`
	Wait bool   `json:"wait"`
}

// LiquidPaymentResult is returned by both InitiateLiquidPayment and
// CheckLiquidPayment.
type LiquidPaymentResult struct {
	ProgressMessage string        `json:"progress_message"`
	Status          PaymentStatus `json:"status"`
	PaymentHash     []byte        `json:"payment_hash"`
}

// RevokeLiquidPayHtlcRequest asks the server to cosign the cooperative
// refund (revocation) package for a set of HTLC vtxos.
type RevokeLiquidPayHtlcRequest struct {
	HTLCVtxoIDs [][]byte `json:"htlc_vtxo_ids"`
	UserNonces  [][]byte `json:"user_nonces"`
}

// RevokeLiquidPayHtlcResponse carries one cosign response per HTLC vtxo
// being revoked.
type RevokeLiquidPayHtlcResponse struct {
	Sigs []CosignResponseWire `json:"sigs"`
}
