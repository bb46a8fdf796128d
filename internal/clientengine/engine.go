package clientengine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/arklabs/bridge/internal/arkoor"
	"github.com/arklabs/bridge/internal/blog"
	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/bridgerpc"
	"github.com/arklabs/bridge/internal/chainoracle"
	"github.com/arklabs/bridge/internal/exit"
	"github.com/arklabs/bridge/internal/movement"
	"github.com/arklabs/bridge/internal/musig"
	"github.com/arklabs/bridge/internal/store"
	"github.com/arklabs/bridge/internal/vtxo"
)

var log = blog.Logger(blog.SubsystemClient)

// subsystemID and movementKind name the movement ledger entries this
// engine opens, mirroring the original's BarkSubsystem::LiquidSend /
// LiquidSendMovement::Send.
const (
	subsystemID  = "liquid_send"
	movementKind = "send"
)

// Engine drives the Liquid payment state machine for one wallet. It is
// safe for use by one goroutine at a time per SPEC_FULL.md §5's
// cooperative single-threaded client model.
type Engine struct {
	server    bridgerpc.Client
	oracle    chainoracle.Oracle
	wallet    WalletBackend
	store     *store.Store
	ledger    movement.Ledger
	exit      exit.Subsystem
	serverKey *btcec.PublicKey

	// RefreshExpiryThreshold mirrors config.vtxo_refresh_expiry_threshold:
	// the engine escalates to the exit branch once tip is within this many
	// blocks of the earliest HTLC vtxo's expiry.
	refreshExpiryThreshold uint32
}

// New constructs an Engine. serverKey is the bridge server's static
// cosigning public key.
func New(
	server bridgerpc.Client, oracle chainoracle.Oracle, wallet WalletBackend,
	st *store.Store, ledger movement.Ledger, exitSub exit.Subsystem,
	serverKey *btcec.PublicKey, refreshExpiryThreshold uint32,
) *Engine {
	return &Engine{
		server:                 server,
		oracle:                 oracle,
		wallet:                 wallet,
		store:                  st,
		ledger:                 ledger,
		exit:                   exitSub,
		serverKey:              serverKey,
		refreshExpiryThreshold: refreshExpiryThreshold,
	}
}

// derivePreimage computes the deterministic stand-in preimage for hash,
// per SPEC_FULL.md §9 item 2: HMAC-SHA256 keyed by the wallet master
// entropy over the "bridge-liquid-preimage" tag followed by payment_hash.
// Liquid settlement never requires revealing this
// preimage (completion is by on-chain confirmation, not hashlock
// redemption); it exists purely so the stored record is complete and
// auditable rather than carrying a preimage nobody could later recover.
func (e *Engine) derivePreimage(ctx context.Context, hash vtxo.PaymentHash) (vtxo.Preimage, error) {
	entropy, err := e.wallet.MasterEntropy(ctx)
	if err != nil {
		return vtxo.Preimage{}, bridgeerrors.Wrap(err, "read wallet master entropy")
	}

	mac := hmac.New(sha256.New, entropy)
	mac.Write([]byte("bridge-liquid-preimage"))
	mac.Write(hash[:])

	var preimage vtxo.Preimage
	copy(preimage[:], mac.Sum(nil))
	return preimage, nil
}

// Pay runs the Initiated -> Cosigned -> Persisted -> Forwarded sequence
// of SPEC_FULL.md §4.3 for one outbound Liquid payment.
func (e *Engine) Pay(
	ctx context.Context, liquidAddress string, amount btcutil.Amount, paymentHash vtxo.PaymentHash,
) error {
	// --- Initiated ---
	if amount < DustLimit {
		return bridgeerrors.ErrDustAmount
	}

	existing, err := e.store.GetLiquidSend(ctx, paymentHash)
	if err != nil {
		return bridgeerrors.Wrap(err, "check for existing liquid send")
	}
	if existing != nil {
		return bridgeerrors.ErrDuplicatePayment
	}

	changeKeypair, err := e.wallet.NextChangeKeypair(ctx)
	if err != nil {
		return bridgeerrors.Wrap(err, "derive change keypair")
	}

	inputs, err := e.wallet.SelectVtxosToCover(ctx, amount)
	if err != nil {
		return bridgeerrors.Wrap(err, "select vtxos to cover amount")
	}
	if len(inputs) == 0 {
		return bridgeerrors.ErrInsufficientFunds
	}

	arkoorInputs := make([]arkoor.ArkoorInput, len(inputs))
	inputIDs := make([][]byte, len(inputs))
	userNonces := make([][]byte, len(inputs))
	for i, in := range inputs {
		keypair, err := e.wallet.VtxoKey(ctx, in)
		if err != nil {
			return bridgeerrors.Wrap(err, "load vtxo signing key")
		}
		sec, pub, err := musig.NoncePair(keypair)
		if err != nil {
			return bridgeerrors.Wrap(err, "generate cosign nonce")
		}
		arkoorInputs[i] = arkoor.ArkoorInput{
			Input: in, UserPubkey: keypair.PubKey(), UserPubNonce: pub,
			UserKeypair: keypair, UserSecNonce: sec,
		}
		inputIDs[i] = in.ID().Bytes()
		nonce := pub
		userNonces[i] = nonce[:]
	}

	// --- Cosigned ---
	cosignResp, err := e.server.RequestLiquidPayHtlcCosign(ctx, &bridgerpc.LiquidPayHtlcCosignRequest{
		LiquidAddress: liquidAddress,
		AmountSat:     uint64(amount),
		InputVtxoIDs:  inputIDs,
		UserNonces:    userNonces,
		UserPubkey:    changeKeypair.PubKey().SerializeCompressed(),
		PaymentHash:   paymentHash.Bytes(),
	})
	if err != nil {
		return bridgeerrors.Wrap(err, "request htlc cosign")
	}

	policy, err := vtxo.DecodeServerHTLCSendPolicy(cosignResp.Policy)
	if err != nil {
		return bridgeerrors.Wrap(err, "decode server htlc policy")
	}
	if !policy.UserPubkey.IsEqual(changeKeypair.PubKey()) {
		return bridgeerrors.ErrInvalidPolicy
	}
	if policy.PaymentHash != paymentHash {
		return bridgeerrors.ErrInvalidPolicy
	}

	builder, err := arkoor.NewSendPackage(arkoorInputs, e.serverKey, amount, policy, changeKeypair.PubKey())
	if err != nil {
		return err
	}

	responses := decodeCosignResponses(cosignResp.Sigs)
	if !builder.VerifyCosignResponse(responses) {
		return bridgeerrors.ErrCosignMismatch
	}

	htlcVtxos, changeVtxo, err := builder.BuildVtxos(responses)
	if err != nil {
		return bridgeerrors.Wrap(err, "build htlc vtxos")
	}

	var effectiveBalance btcutil.Amount
	for _, v := range htlcVtxos {
		if err := e.validateVtxo(ctx, v); err != nil {
			return bridgeerrors.Wrap(err, "validate htlc vtxo")
		}
		effectiveBalance += v.Amount()
	}

	// --- Persisted --- (order matters: mandatory recovery-from-crash
	// sequence per SPEC_FULL.md §5)
	movementID, err := e.ledger.NewMovement(ctx, subsystemID, movementKind)
	if err != nil {
		return bridgeerrors.Wrap(err, "open movement ledger entry")
	}

	intended := -amount
	effective := -effectiveBalance
	if err := e.ledger.UpdateMovement(ctx, movementID, movement.Update{
		IntendedBalance:  &intended,
		EffectiveBalance: &effective,
		ConsumedVtxos:    inputs,
		SentTo:           []movement.Destination{{Address: liquidAddress, Amount: amount}},
	}); err != nil {
		return bridgeerrors.Wrap(err, "record movement intent")
	}

	if err := e.wallet.StoreLockedVtxos(ctx, htlcVtxos, movementID); err != nil {
		return bridgeerrors.Wrap(err, "store locked htlc vtxos")
	}
	if err := e.wallet.MarkVtxosSpent(ctx, vtxo.IDs(inputs)); err != nil {
		return bridgeerrors.Wrap(err, "mark input vtxos spent")
	}

	if changeVtxo != nil {
		lastAnchor := inputs[len(inputs)-1].ChainAnchor()
		tx, err := e.oracle.GetTx(ctx, lastAnchor.Hash)
		if err != nil {
			return bridgeerrors.Wrap(err, "fetch change vtxo chain anchor")
		}
		if tx == nil {
			return bridgeerrors.Wrap(bridgeerrors.ErrInvalidPolicy, "change vtxo chain anchor not found")
		}
		if err := e.wallet.StoreSpendableVtxos(ctx, []vtxo.Vtxo{*changeVtxo}); err != nil {
			return bridgeerrors.Wrap(err, "store change vtxo")
		}
	}

	produced := htlcVtxos
	if changeVtxo != nil {
		produced = append(append([]vtxo.Vtxo{}, htlcVtxos...), *changeVtxo)
	}
	if err := e.ledger.UpdateMovement(ctx, movementID, movement.Update{ProducedVtxos: produced}); err != nil {
		return bridgeerrors.Wrap(err, "record produced vtxos")
	}

	preimage, err := e.derivePreimage(ctx, paymentHash)
	if err != nil {
		return err
	}

	if _, err := e.store.StoreNewPendingLiquidSend(
		ctx, liquidAddress, paymentHash, int64(amount), vtxo.IDs(htlcVtxos), movementID, preimage,
	); err != nil {
		return bridgeerrors.Wrap(err, "store pending liquid send")
	}

	// --- Forwarded ---
	res, err := e.server.InitiateLiquidPayment(ctx, &bridgerpc.InitiateLiquidPaymentRequest{
		LiquidAddress: liquidAddress,
		AmountSat:     uint64(amount),
		PaymentHash:   paymentHash.Bytes(),
		HTLCVtxoIDs:   bytesIDs(htlcVtxos),
		Wait:          true,
	})
	if err != nil {
		return bridgeerrors.Wrap(err, "initiate liquid payment")
	}

	log.Debugf("liquid payment initiated for %x: %s", paymentHash[:], res.ProgressMessage)
	return nil
}

func (e *Engine) validateVtxo(ctx context.Context, v vtxo.Vtxo) error {
	tx, err := e.oracle.GetTx(ctx, v.ChainAnchor().Hash)
	if err != nil {
		return err
	}
	if tx == nil {
		return bridgeerrors.ErrInvalidPolicy
	}
	return nil
}

func bytesIDs(vtxos []vtxo.Vtxo) [][]byte {
	out := make([][]byte, len(vtxos))
	for i, v := range vtxos {
		out[i] = v.ID().Bytes()
	}
	return out
}

func decodeCosignResponses(wire []bridgerpc.CosignResponseWire) []musig.CosignResponse {
	out := make([]musig.CosignResponse, len(wire))
	for i, w := range wire {
		var r musig.CosignResponse
		copy(r.PubNonce[:], w.PubNonce)
		copy(r.PartialSignature[:], w.PartialSignature)
		out[i] = r
	}
	return out
}
