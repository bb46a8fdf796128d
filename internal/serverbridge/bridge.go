// Package serverbridge implements the Server Bridge (C4): the two-party
// counterpart of internal/clientengine, per SPEC_FULL.md §4.4. Grounded
// on original_source/server/src/liquid/mod.rs's cosign_liquid_pay_htlc,
// initiate_liquid_payment, check_liquid_payment.
package serverbridge

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklabs/bridge/internal/arkoor"
	"github.com/arklabs/bridge/internal/blog"
	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/bridgerpc"
	"github.com/arklabs/bridge/internal/chainoracle"
	"github.com/arklabs/bridge/internal/musig"
	"github.com/arklabs/bridge/internal/sidechain"
	"github.com/arklabs/bridge/internal/vtxo"
)

var log = blog.Logger(blog.SubsystemServer)

var _ bridgerpc.Server = (*Bridge)(nil)

// Bridge is the server-side implementation of bridgerpc.Server.
type Bridge struct {
	serverKey           *btcec.PrivateKey
	oracle              chainoracle.Oracle
	vtxos               VtxoStore
	sidechain           sidechain.Client
	htlcSendExpiryDelta uint32

	payments *paymentTracker
	metrics  *metrics
}

// New constructs a Bridge. sidechainClient may be nil (see
// InitiateLiquidPayment), matching the original's optional elementsd.
func New(
	serverKey *btcec.PrivateKey, oracle chainoracle.Oracle, vtxos VtxoStore,
	sidechainClient sidechain.Client, htlcSendExpiryDelta uint32, reg prometheus.Registerer,
) *Bridge {
	m := newMetrics()
	if reg != nil {
		m.MustRegister(reg)
	}

	return &Bridge{
		serverKey:           serverKey,
		oracle:              oracle,
		vtxos:               vtxos,
		sidechain:           sidechainClient,
		htlcSendExpiryDelta: htlcSendExpiryDelta,
		payments:            newPaymentTracker(),
		metrics:             m,
	}
}

// RequestLiquidPayHtlcCosign implements cosign_liquid_pay_htlc, per
// SPEC_FULL.md §4.4: fetch input vtxos, reject any that are exited,
// mint a ServerHtlcSend policy over the caller-supplied payment hash,
// build and cosign the send package.
func (b *Bridge) RequestLiquidPayHtlcCosign(
	ctx context.Context, req *bridgerpc.LiquidPayHtlcCosignRequest,
) (*bridgerpc.LiquidPayHtlcCosignResponse, error) {
	ids := decodeIDs(req.InputVtxoIDs)

	inputVtxos, err := b.vtxos.GetVtxosByID(ctx, ids)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "fetch input vtxos")
	}
	if len(inputVtxos) != len(ids) {
		return nil, bridgeerrors.ErrUnknownVtxo
	}
	for _, v := range inputVtxos {
		if v.State() == vtxo.StateExited {
			return nil, bridgeerrors.ErrVtxoExited
		}
	}

	tip, err := b.oracle.Tip(ctx)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "fetch chain tip")
	}

	userPubkey, err := btcec.ParsePubKey(req.UserPubkey)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "parse user pubkey")
	}

	var paymentHash vtxo.PaymentHash
	copy(paymentHash[:], req.PaymentHash)

	policy := vtxo.ServerHTLCSendPolicy{
		UserPubkey:  userPubkey,
		PaymentHash: paymentHash,
		HTLCExpiry:  tip + b.htlcSendExpiryDelta,
	}

	inputs := make([]arkoor.ArkoorInput, len(inputVtxos))
	for i, v := range inputVtxos {
		var pubNonce musig.PublicNonce
		copy(pubNonce[:], req.UserNonces[i])
		inputPubkey, err := spendingPubkey(v)
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "determine input vtxo owner")
		}
		inputs[i] = arkoor.ArkoorInput{Input: v, UserPubkey: inputPubkey, UserPubNonce: pubNonce}
	}

	builder, err := arkoor.NewSendPackage(
		inputs, b.serverKey.PubKey(), btcutil.Amount(req.AmountSat), policy, userPubkey,
	)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "build arkoor send package")
	}

	cosignResp, err := builder.CosignAsServer(b.serverKey)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "cosign send package")
	}

	b.metrics.cosigned.Inc()
	log.Debugf("cosigned liquid htlc send package for %d inputs", len(inputs))

	return &bridgerpc.LiquidPayHtlcCosignResponse{
		Sigs:   encodeCosignResponses(cosignResp),
		Policy: vtxo.EncodeServerHTLCSendPolicy(policy),
	}, nil
}

// InitiateLiquidPayment implements initiate_liquid_payment, per
// SPEC_FULL.md §4.4: verify the htlc vtxos are spendable, enforce the
// payment-hash equality invariant (Design Note 1), record a Pending
// LiquidPayment, then forward to the sidechain.
func (b *Bridge) InitiateLiquidPayment(
	ctx context.Context, req *bridgerpc.InitiateLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	var paymentHash vtxo.PaymentHash
	copy(paymentHash[:], req.PaymentHash)

	ids := decodeIDs(req.HTLCVtxoIDs)
	htlcVtxos, err := b.vtxos.GetVtxosByID(ctx, ids)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "fetch htlc vtxos")
	}
	if len(htlcVtxos) != len(ids) {
		return nil, bridgeerrors.ErrUnknownVtxo
	}

	for _, v := range htlcVtxos {
		if !v.IsSpendable() {
			return nil, bridgeerrors.ErrVtxoNotSpendable
		}
		policy, err := vtxo.AsServerHTLCSend(v.Policy())
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "htlc vtxo is not a server htlc send")
		}
		if policy.PaymentHash != paymentHash {
			return nil, bridgeerrors.ErrInvalidPolicy
		}
	}

	payment := &LiquidPayment{
		LiquidAddress: req.LiquidAddress,
		Amount:        btcutil.Amount(req.AmountSat),
		PaymentHash:   paymentHash,
		HTLCVtxoIDs:   ids,
		Status:        PaymentPending,
	}
	b.payments.store(payment)

	if b.sidechain == nil {
		payment.Status = PaymentFailed
		b.payments.store(payment)
		b.metrics.failed.Inc()
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "no sidechain client configured for liquid payments",
			Status:          bridgerpc.PaymentStatusFailed,
			PaymentHash:     req.PaymentHash,
		}, nil
	}

	log.Infof("sending %d sats to liquid address %s", req.AmountSat, req.LiquidAddress)

	txid, err := b.sidechain.SendToAddress(ctx, req.LiquidAddress, int64(req.AmountSat))
	if err != nil {
		log.Warnf("failed to send liquid payment: %v", err)
		payment.Status = PaymentFailed
		b.payments.store(payment)
		b.metrics.failed.Inc()
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment failed: " + err.Error(),
			Status:          bridgerpc.PaymentStatusFailed,
			PaymentHash:     req.PaymentHash,
		}, nil
	}

	log.Infof("liquid payment sent, txid %s", txid)
	payment.Status = PaymentSent
	payment.LiquidTxid = txid
	b.payments.store(payment)
	b.metrics.forwarded.Inc()

	return &bridgerpc.LiquidPaymentResult{
		ProgressMessage: "payment sent to liquid address, txid: " + txid,
		Status:          bridgerpc.PaymentStatusPending,
		PaymentHash:     req.PaymentHash,
	}, nil
}

// CheckLiquidPayment implements check_liquid_payment, per
// SPEC_FULL.md §4.4.
func (b *Bridge) CheckLiquidPayment(
	ctx context.Context, req *bridgerpc.CheckLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	var hash vtxo.PaymentHash
	copy(hash[:], req.Hash)

	payment, ok := b.payments.get(hash)
	if !ok {
		return nil, bridgeerrors.ErrPaymentNotFound
	}

	switch payment.Status {
	case PaymentPending:
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment is pending", Status: bridgerpc.PaymentStatusPending, PaymentHash: req.Hash,
		}, nil

	case PaymentSent:
		return b.checkSentPayment(ctx, payment)

	case PaymentConfirmed:
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment confirmed", Status: bridgerpc.PaymentStatusComplete, PaymentHash: req.Hash,
		}, nil

	default: // PaymentFailed
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment failed", Status: bridgerpc.PaymentStatusFailed, PaymentHash: req.Hash,
		}, nil
	}
}

func (b *Bridge) checkSentPayment(ctx context.Context, payment *LiquidPayment) (*bridgerpc.LiquidPaymentResult, error) {
	hashBytes := payment.PaymentHash.Bytes()

	if b.sidechain == nil || payment.LiquidTxid == "" {
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment sent but no txid available",
			Status:          bridgerpc.PaymentStatusPending, PaymentHash: hashBytes,
		}, nil
	}

	confs, err := b.sidechain.GetTransaction(ctx, payment.LiquidTxid)
	if err != nil {
		log.Warnf("error checking liquid transaction: %v", err)
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "error checking transaction: " + err.Error(),
			Status:          bridgerpc.PaymentStatusPending, PaymentHash: hashBytes,
		}, nil
	}

	if confs < 1 {
		return &bridgerpc.LiquidPaymentResult{
			ProgressMessage: "payment sent, awaiting confirmation",
			Status:          bridgerpc.PaymentStatusPending, PaymentHash: hashBytes,
		}, nil
	}

	log.Infof("liquid payment confirmed, txid %s", payment.LiquidTxid)
	confirmed := *payment
	confirmed.Status = PaymentConfirmed
	b.payments.store(&confirmed)
	b.metrics.confirmed.Inc()

	return &bridgerpc.LiquidPaymentResult{
		ProgressMessage: "payment confirmed", Status: bridgerpc.PaymentStatusComplete, PaymentHash: hashBytes,
	}, nil
}

// RequestLiquidPayHtlcRevocation implements the revocation-cosigning
// surface of SPEC_FULL.md §4.4: the htlc vtxos must exist, carry a
// known policy, and the tracked payment must be Failed or its HTLC
// past expiry, before the server cosigns the cooperative refund.
func (b *Bridge) RequestLiquidPayHtlcRevocation(
	ctx context.Context, req *bridgerpc.RevokeLiquidPayHtlcRequest,
) (*bridgerpc.RevokeLiquidPayHtlcResponse, error) {
	ids := decodeIDs(req.HTLCVtxoIDs)
	htlcVtxos, err := b.vtxos.GetVtxosByID(ctx, ids)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "fetch htlc vtxos")
	}
	if len(htlcVtxos) != len(ids) {
		return nil, bridgeerrors.ErrUnknownVtxo
	}

	policy, err := vtxo.AsServerHTLCSend(htlcVtxos[0].Policy())
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "htlc vtxo is not a server htlc send")
	}
	for _, v := range htlcVtxos[1:] {
		other, err := vtxo.AsServerHTLCSend(v.Policy())
		if err != nil || !policy.Equal(other) {
			return nil, bridgeerrors.ErrInvalidPolicy
		}
	}

	tip, err := b.oracle.Tip(ctx)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "fetch chain tip")
	}

	if payment, ok := b.payments.get(policy.PaymentHash); ok {
		if payment.Status != PaymentFailed && tip <= policy.HTLCExpiry {
			return nil, bridgeerrors.ErrPaymentNotRevocable
		}
	} else if tip <= policy.HTLCExpiry {
		return nil, bridgeerrors.ErrPaymentNotRevocable
	}

	inputs := make([]arkoor.ArkoorInput, len(htlcVtxos))
	for i, v := range htlcVtxos {
		var pubNonce musig.PublicNonce
		copy(pubNonce[:], req.UserNonces[i])
		inputs[i] = arkoor.ArkoorInput{Input: v, UserPubkey: policy.UserPubkey, UserPubNonce: pubNonce}
	}

	builder, err := arkoor.NewHTLCRevocation(inputs, b.serverKey.PubKey())
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "build revocation package")
	}

	cosignResp, err := builder.CosignAsServer(b.serverKey)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "cosign revocation package")
	}

	b.metrics.revoked.Inc()
	log.Debugf("cosigned liquid htlc revocation for %d inputs", len(inputs))

	return &bridgerpc.RevokeLiquidPayHtlcResponse{Sigs: encodeCosignResponses(cosignResp)}, nil
}

// spendingPubkey returns the public key that must cosign on the user's
// side for v, derived from v's own spending policy.
func spendingPubkey(v vtxo.Vtxo) (*btcec.PublicKey, error) {
	switch p := v.Policy().(type) {
	case vtxo.PlainPolicy:
		return p.UserPubkey, nil
	case vtxo.ServerHTLCSendPolicy:
		return p.UserPubkey, nil
	default:
		return nil, bridgeerrors.ErrInvalidPolicy
	}
}

func decodeIDs(raw [][]byte) []vtxo.ID {
	ids := make([]vtxo.ID, len(raw))
	for i, b := range raw {
		copy(ids[i][:], b)
	}
	return ids
}

func encodeCosignResponses(responses []musig.CosignResponse) []bridgerpc.CosignResponseWire {
	out := make([]bridgerpc.CosignResponseWire, len(responses))
	for i, r := range responses {
		pub := r.PubNonce
		sig := r.PartialSignature
		out[i] = bridgerpc.CosignResponseWire{
			PubNonce:         append([]byte(nil), pub[:]...),
			PartialSignature: append([]byte(nil), sig[:]...),
		}
	}
	return out
}
