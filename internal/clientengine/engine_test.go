package clientengine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/require"

	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/bridgerpc"
	"github.com/arklabs/bridge/internal/exit"
	"github.com/arklabs/bridge/internal/movement"
	"github.com/arklabs/bridge/internal/store"
	"github.com/arklabs/bridge/internal/vtxo"
)

// fakeWallet is an in-memory WalletBackend test double keyed by vtxo.ID.
type fakeWallet struct {
	keys     map[vtxo.ID]*btcec.PrivateKey
	vtxos    map[vtxo.ID]vtxo.Vtxo
	entropy  []byte
	nextKey  int
	toSelect []vtxo.Vtxo
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		keys:    make(map[vtxo.ID]*btcec.PrivateKey),
		vtxos:   make(map[vtxo.ID]vtxo.Vtxo),
		entropy: []byte("test wallet entropy"),
	}
}

func (w *fakeWallet) addVtxo(v vtxo.Vtxo, key *btcec.PrivateKey) {
	w.vtxos[v.ID()] = v
	w.keys[v.ID()] = key
	w.toSelect = append(w.toSelect, v)
}

func (w *fakeWallet) SelectVtxosToCover(_ context.Context, amount btcutil.Amount) ([]vtxo.Vtxo, error) {
	var (
		out   []vtxo.Vtxo
		total btcutil.Amount
	)
	for _, v := range w.toSelect {
		if v.State() != vtxo.StateSpendable {
			continue
		}
		out = append(out, v)
		total += v.Amount()
		if total >= amount {
			return out, nil
		}
	}
	return nil, bridgeerrors.ErrInsufficientFunds
}

func (w *fakeWallet) VtxoKey(_ context.Context, v vtxo.Vtxo) (*btcec.PrivateKey, error) {
	return w.keys[v.ID()], nil
}

func (w *fakeWallet) NextChangeKeypair(context.Context) (*btcec.PrivateKey, error) {
	w.nextKey++
	return derivePrivKey(byte(200 + w.nextKey)), nil
}

func (w *fakeWallet) MasterEntropy(context.Context) ([]byte, error) {
	return w.entropy, nil
}

func (w *fakeWallet) StoreLockedVtxos(_ context.Context, vtxos []vtxo.Vtxo, _ int64) error {
	for _, v := range vtxos {
		w.vtxos[v.ID()] = v.WithState(vtxo.StateLocked)
	}
	return nil
}

func (w *fakeWallet) StoreSpendableVtxos(_ context.Context, vtxos []vtxo.Vtxo) error {
	for _, v := range vtxos {
		w.vtxos[v.ID()] = v
		w.toSelect = append(w.toSelect, v)
	}
	return nil
}

func (w *fakeWallet) MarkVtxosSpent(_ context.Context, ids []vtxo.ID) error {
	for _, id := range ids {
		if v, ok := w.vtxos[id]; ok {
			w.vtxos[id] = v.WithState(vtxo.StateSpent)
		}
	}
	return nil
}

func (w *fakeWallet) VtxosByID(_ context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error) {
	out := make([]vtxo.Vtxo, 0, len(ids))
	for _, id := range ids {
		v, ok := w.vtxos[id]
		if !ok {
			return nil, bridgeerrors.ErrPaymentNotFound
		}
		out = append(out, v)
	}
	return out, nil
}

// fakeOracle always reports a fixed tip and a non-nil tx for any txid.
type fakeOracle struct {
	tip uint32
}

func (o *fakeOracle) Tip(context.Context) (uint32, error) { return o.tip, nil }

func (o *fakeOracle) GetTx(context.Context, chainhash.Hash) (*wire.MsgTx, error) {
	return wire.NewMsgTx(2), nil
}

// fakeServer is a minimal bridgerpc.Client test double. Its send cosign
// method always errors, and its revocation cosign method deliberately
// returns zero-valued (invalid) signatures: the CheckLiquidPayment tests
// below never need a genuinely valid cosignature, only the fact that
// verification fails closed, so the fake need not replicate
// internal/musig's real MuSig2 math.
type fakeServer struct {
	payments map[vtxo.PaymentHash]bridgerpc.PaymentStatus
}

func newFakeServer() *fakeServer {
	return &fakeServer{payments: make(map[vtxo.PaymentHash]bridgerpc.PaymentStatus)}
}

func (s *fakeServer) RequestLiquidPayHtlcCosign(
	context.Context, *bridgerpc.LiquidPayHtlcCosignRequest,
) (*bridgerpc.LiquidPayHtlcCosignResponse, error) {
	return nil, bridgeerrors.ErrCosignMismatch
}

func (s *fakeServer) InitiateLiquidPayment(
	_ context.Context, req *bridgerpc.InitiateLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	var hash vtxo.PaymentHash
	copy(hash[:], req.PaymentHash)
	s.payments[hash] = bridgerpc.PaymentStatusPending
	return &bridgerpc.LiquidPaymentResult{Status: bridgerpc.PaymentStatusPending}, nil
}

func (s *fakeServer) CheckLiquidPayment(
	_ context.Context, req *bridgerpc.CheckLiquidPaymentRequest,
) (*bridgerpc.LiquidPaymentResult, error) {
	var hash vtxo.PaymentHash
	copy(hash[:], req.Hash)
	status, ok := s.payments[hash]
	if !ok {
		status = bridgerpc.PaymentStatusFailed
	}
	return &bridgerpc.LiquidPaymentResult{Status: status, PaymentHash: req.Hash}, nil
}

func (s *fakeServer) RequestLiquidPayHtlcRevocation(
	_ context.Context, req *bridgerpc.RevokeLiquidPayHtlcRequest,
) (*bridgerpc.RevokeLiquidPayHtlcResponse, error) {
	sigs := make([]bridgerpc.CosignResponseWire, len(req.UserNonces))
	for i := range sigs {
		sigs[i] = bridgerpc.CosignResponseWire{
			PubNonce:         make([]byte, musig2PubNonceSize),
			PartialSignature: make([]byte, 32),
		}
	}
	return &bridgerpc.RevokeLiquidPayHtlcResponse{Sigs: sigs}, nil
}

const musig2PubNonceSize = 66

func derivePrivKey(b byte) *btcec.PrivateKey {
	var buf [32]byte
	buf[31] = b
	h := sha256.Sum256(buf[:])
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	return st
}

func newOutpoint(b byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: 0}
}

func testHash(b byte) vtxo.PaymentHash {
	var h vtxo.PaymentHash
	h[0] = b
	return h
}

func newEngine(t *testing.T, wallet *fakeWallet, server bridgerpc.Client, tip uint32) (*Engine, *store.Store, *movement.InMemory, *exit.InMemory) {
	t.Helper()
	st := newTestStore(t)
	ledger := movement.NewInMemory()
	exitSub := exit.NewInMemory()
	serverKey := derivePrivKey(1).PubKey()
	e := New(server, &fakeOracle{tip: tip}, wallet, st, ledger, exitSub, serverKey, 10)
	return e, st, ledger, exitSub
}

func TestPay_DustAmount(t *testing.T) {
	wallet := newFakeWallet()
	e, _, _, _ := newEngine(t, wallet, newFakeServer(), 100)

	err := e.Pay(context.Background(), "addr", 10, testHash(1))
	require.ErrorIs(t, err, bridgeerrors.ErrDustAmount)
}

func TestPay_DuplicatePayment(t *testing.T) {
	wallet := newFakeWallet()
	e, st, ledger, _ := newEngine(t, wallet, newFakeServer(), 100)

	movementID, err := ledger.NewMovement(context.Background(), subsystemID, movementKind)
	require.NoError(t, err)
	_, err = st.StoreNewPendingLiquidSend(
		context.Background(), "addr", testHash(2), 1000, []vtxo.ID{{1}}, movementID, vtxo.Preimage{9},
	)
	require.NoError(t, err)

	err = e.Pay(context.Background(), "addr", 1000, testHash(2))
	require.ErrorIs(t, err, bridgeerrors.ErrDuplicatePayment)
}

func TestPay_InsufficientFunds(t *testing.T) {
	wallet := newFakeWallet()
	e, _, _, _ := newEngine(t, wallet, newFakeServer(), 100)

	err := e.Pay(context.Background(), "addr", 100_000, testHash(3))
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientFunds)
}

func TestCheckLiquidPayment_Complete(t *testing.T) {
	wallet := newFakeWallet()
	server := newFakeServer()
	e, st, ledger, _ := newEngine(t, wallet, server, 100)

	hash := testHash(4)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: derivePrivKey(5).PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{10}, 5000, policy, newOutpoint(1), 200).WithState(vtxo.StateLocked)
	wallet.vtxos[htlc.ID()] = htlc

	ctx := context.Background()
	movementID, err := ledger.NewMovement(ctx, subsystemID, movementKind)
	require.NoError(t, err)
	record, err := st.StoreNewPendingLiquidSend(ctx, "addr", hash, 5000, []vtxo.ID{htlc.ID()}, movementID, vtxo.Preimage{1})
	require.NoError(t, err)

	server.payments[hash] = bridgerpc.PaymentStatusComplete

	require.NoError(t, e.CheckLiquidPayment(ctx, record))

	got, err := st.GetLiquidSend(ctx, hash)
	require.NoError(t, err)
	require.True(t, got.Confirmed)

	require.Equal(t, vtxo.StateSpent, wallet.vtxos[htlc.ID()].State())

	_, status, ok := ledger.Entry(movementID)
	require.True(t, ok)
	require.NotNil(t, status)
	require.Equal(t, movement.StatusFinished, *status)
}

func TestCheckLiquidPayment_PendingNotExpired(t *testing.T) {
	wallet := newFakeWallet()
	server := newFakeServer()
	e, st, ledger, _ := newEngine(t, wallet, server, 100)

	hash := testHash(5)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: derivePrivKey(6).PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{11}, 5000, policy, newOutpoint(2), 200).WithState(vtxo.StateLocked)
	wallet.vtxos[htlc.ID()] = htlc

	ctx := context.Background()
	movementID, err := ledger.NewMovement(ctx, subsystemID, movementKind)
	require.NoError(t, err)
	record, err := st.StoreNewPendingLiquidSend(ctx, "addr", hash, 5000, []vtxo.ID{htlc.ID()}, movementID, vtxo.Preimage{1})
	require.NoError(t, err)

	server.payments[hash] = bridgerpc.PaymentStatusPending

	require.NoError(t, e.CheckLiquidPayment(ctx, record))

	got, err := st.GetLiquidSend(ctx, hash)
	require.NoError(t, err)
	require.False(t, got.Confirmed)
	require.Equal(t, vtxo.StateLocked, wallet.vtxos[htlc.ID()].State())
}

func TestCheckLiquidPayment_FailedFallsBackToExitWhenRevocationFails(t *testing.T) {
	wallet := newFakeWallet()
	server := newFakeServer()
	key := derivePrivKey(7)
	// tip (100) is already within refreshExpiryThreshold (10) of expiry
	// (105), so a failed cosign-verify must escalate straight to exit.
	e, st, ledger, exitSub := newEngine(t, wallet, server, 100)

	hash := testHash(6)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: key.PubKey(), PaymentHash: hash, HTLCExpiry: 105}
	htlc := vtxo.New(vtxo.ID{12}, 5000, policy, newOutpoint(3), 105).WithState(vtxo.StateLocked)
	wallet.addVtxo(htlc, key)

	ctx := context.Background()
	movementID, err := ledger.NewMovement(ctx, subsystemID, movementKind)
	require.NoError(t, err)
	record, err := st.StoreNewPendingLiquidSend(ctx, "addr", hash, 5000, []vtxo.ID{htlc.ID()}, movementID, vtxo.Preimage{1})
	require.NoError(t, err)

	server.payments[hash] = bridgerpc.PaymentStatusFailed

	require.NoError(t, e.CheckLiquidPayment(ctx, record))

	marked := exitSub.Marked()
	require.Len(t, marked, 1)
	require.Equal(t, htlc.ID(), marked[0].ID())

	_, status, ok := ledger.Entry(movementID)
	require.True(t, ok)
	require.NotNil(t, status)
	require.Equal(t, movement.StatusFailed, *status)

	// the LiquidSend row is retained (not deleted) on the exit branch,
	// per SPEC_FULL.md §9 item 3.
	got, err := st.GetLiquidSend(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
}
