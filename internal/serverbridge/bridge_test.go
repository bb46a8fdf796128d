package serverbridge

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/bridgerpc"
	"github.com/arklabs/bridge/internal/vtxo"
)

// fakeVtxoStore is an in-memory VtxoStore test double.
type fakeVtxoStore struct {
	vtxos map[vtxo.ID]vtxo.Vtxo
}

func newFakeVtxoStore() *fakeVtxoStore { return &fakeVtxoStore{vtxos: make(map[vtxo.ID]vtxo.Vtxo)} }

func (s *fakeVtxoStore) add(v vtxo.Vtxo) { s.vtxos[v.ID()] = v }

func (s *fakeVtxoStore) GetVtxosByID(_ context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error) {
	out := make([]vtxo.Vtxo, 0, len(ids))
	for _, id := range ids {
		v, ok := s.vtxos[id]
		if !ok {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// fakeOracle reports a fixed tip.
type fakeOracle struct{ tip uint32 }

func (o *fakeOracle) Tip(context.Context) (uint32, error) { return o.tip, nil }
func (o *fakeOracle) GetTx(context.Context, chainhash.Hash) (*wire.MsgTx, error) {
	return wire.NewMsgTx(2), nil
}

// fakeSidechain is an in-memory sidechain.Client test double.
type fakeSidechain struct {
	sendErr  error
	txid     string
	confs    uint64
	getErr   error
}

func (c *fakeSidechain) SendToAddress(context.Context, string, int64) (string, error) {
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.txid, nil
}

func (c *fakeSidechain) GetTransaction(context.Context, string) (uint64, error) {
	if c.getErr != nil {
		return 0, c.getErr
	}
	return c.confs, nil
}

func derivePrivKey(b byte) *btcec.PrivateKey {
	var buf [32]byte
	buf[31] = b
	h := sha256.Sum256(buf[:])
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}

func testHash(b byte) vtxo.PaymentHash {
	var h vtxo.PaymentHash
	h[0] = b
	return h
}

func newOutpoint(b byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: 0}
}

func TestRequestLiquidPayHtlcCosign_UnknownVtxo(t *testing.T) {
	serverKey := derivePrivKey(1)
	store := newFakeVtxoStore()
	b := New(serverKey, &fakeOracle{tip: 100}, store, nil, 144, nil)

	req := &bridgerpc.LiquidPayHtlcCosignRequest{
		LiquidAddress: "addr",
		AmountSat:     1000,
		InputVtxoIDs:  [][]byte{vtxo.ID{1}.Bytes()},
		UserNonces:    [][]byte{make([]byte, 66)},
		UserPubkey:    derivePrivKey(2).PubKey().SerializeCompressed(),
		PaymentHash:   testHash(3).Bytes(),
	}

	_, err := b.RequestLiquidPayHtlcCosign(context.Background(), req)
	require.ErrorIs(t, err, bridgeerrors.ErrUnknownVtxo)
}

func TestRequestLiquidPayHtlcCosign_ExitedVtxoRejected(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	v := vtxo.New(vtxo.ID{1}, 5000, vtxo.PlainPolicy{UserPubkey: userKey.PubKey()}, newOutpoint(1), 200).
		WithState(vtxo.StateExited)
	store.add(v)

	b := New(serverKey, &fakeOracle{tip: 100}, store, nil, 144, nil)

	req := &bridgerpc.LiquidPayHtlcCosignRequest{
		LiquidAddress: "addr",
		AmountSat:     1000,
		InputVtxoIDs:  [][]byte{v.ID().Bytes()},
		UserNonces:    [][]byte{make([]byte, 66)},
		UserPubkey:    userKey.PubKey().SerializeCompressed(),
		PaymentHash:   testHash(3).Bytes(),
	}

	_, err := b.RequestLiquidPayHtlcCosign(context.Background(), req)
	require.ErrorIs(t, err, bridgeerrors.ErrVtxoExited)
}

func TestRequestLiquidPayHtlcCosign_MintsPolicyFromTip(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	v := vtxo.New(vtxo.ID{1}, 5000, vtxo.PlainPolicy{UserPubkey: userKey.PubKey()}, newOutpoint(1), 500)
	store.add(v)

	b := New(serverKey, &fakeOracle{tip: 100}, store, nil, 144, nil)

	hash := testHash(3)
	req := &bridgerpc.LiquidPayHtlcCosignRequest{
		LiquidAddress: "addr",
		AmountSat:     1000,
		InputVtxoIDs:  [][]byte{v.ID().Bytes()},
		UserNonces:    [][]byte{make([]byte, 66)},
		UserPubkey:    userKey.PubKey().SerializeCompressed(),
		PaymentHash:   hash.Bytes(),
	}

	resp, err := b.RequestLiquidPayHtlcCosign(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Sigs, 1)

	policy, err := vtxo.DecodeServerHTLCSendPolicy(resp.Policy)
	require.NoError(t, err)
	require.Equal(t, hash, policy.PaymentHash)
	require.Equal(t, uint32(244), policy.HTLCExpiry)
}

func TestInitiateLiquidPayment_RejectsMismatchedPaymentHash(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: testHash(3), HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 200)
	store.add(htlc)

	b := New(serverKey, &fakeOracle{tip: 100}, store, &fakeSidechain{txid: "abc", confs: 0}, 144, nil)

	req := &bridgerpc.InitiateLiquidPaymentRequest{
		LiquidAddress: "addr",
		AmountSat:     5000,
		PaymentHash:   testHash(99).Bytes(),
		HTLCVtxoIDs:   [][]byte{htlc.ID().Bytes()},
	}

	_, err := b.InitiateLiquidPayment(context.Background(), req)
	require.ErrorIs(t, err, bridgeerrors.ErrInvalidPolicy)
}

func TestInitiateLiquidPayment_ForwardsAndTracksPending(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	hash := testHash(3)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 200)
	store.add(htlc)

	sidechain := &fakeSidechain{txid: "deadbeef", confs: 0}
	b := New(serverKey, &fakeOracle{tip: 100}, store, sidechain, 144, nil)

	req := &bridgerpc.InitiateLiquidPaymentRequest{
		LiquidAddress: "addr",
		AmountSat:     5000,
		PaymentHash:   hash.Bytes(),
		HTLCVtxoIDs:   [][]byte{htlc.ID().Bytes()},
	}

	res, err := b.InitiateLiquidPayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, bridgerpc.PaymentStatusPending, res.Status)

	payment, ok := b.payments.get(hash)
	require.True(t, ok)
	require.Equal(t, PaymentSent, payment.Status)
	require.Equal(t, "deadbeef", payment.LiquidTxid)
}

func TestCheckLiquidPayment_ConfirmsAfterOneConfirmation(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	hash := testHash(3)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 200)
	store.add(htlc)

	sidechain := &fakeSidechain{txid: "deadbeef", confs: 0}
	b := New(serverKey, &fakeOracle{tip: 100}, store, sidechain, 144, nil)

	ctx := context.Background()
	_, err := b.InitiateLiquidPayment(ctx, &bridgerpc.InitiateLiquidPaymentRequest{
		LiquidAddress: "addr", AmountSat: 5000, PaymentHash: hash.Bytes(),
		HTLCVtxoIDs: [][]byte{htlc.ID().Bytes()},
	})
	require.NoError(t, err)

	res, err := b.CheckLiquidPayment(ctx, &bridgerpc.CheckLiquidPaymentRequest{Hash: hash.Bytes()})
	require.NoError(t, err)
	require.Equal(t, bridgerpc.PaymentStatusPending, res.Status)

	sidechain.confs = 1
	res, err = b.CheckLiquidPayment(ctx, &bridgerpc.CheckLiquidPaymentRequest{Hash: hash.Bytes()})
	require.NoError(t, err)
	require.Equal(t, bridgerpc.PaymentStatusComplete, res.Status)

	payment, ok := b.payments.get(hash)
	require.True(t, ok)
	require.Equal(t, PaymentConfirmed, payment.Status)
}

func TestCheckLiquidPayment_UnknownHash(t *testing.T) {
	serverKey := derivePrivKey(1)
	b := New(serverKey, &fakeOracle{tip: 100}, newFakeVtxoStore(), nil, 144, nil)

	_, err := b.CheckLiquidPayment(context.Background(), &bridgerpc.CheckLiquidPaymentRequest{Hash: testHash(1).Bytes()})
	require.ErrorIs(t, err, bridgeerrors.ErrPaymentNotFound)
}

func TestRequestLiquidPayHtlcRevocation_RefusesBeforeExpiryWhenNotFailed(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	hash := testHash(3)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 200)
	store.add(htlc)

	b := New(serverKey, &fakeOracle{tip: 100}, store, nil, 144, nil)

	req := &bridgerpc.RevokeLiquidPayHtlcRequest{
		HTLCVtxoIDs: [][]byte{htlc.ID().Bytes()},
		UserNonces:  [][]byte{make([]byte, 66)},
	}

	_, err := b.RequestLiquidPayHtlcRevocation(context.Background(), req)
	require.ErrorIs(t, err, bridgeerrors.ErrPaymentNotRevocable)
}

func TestRequestLiquidPayHtlcRevocation_AllowedAfterFailure(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	hash := testHash(3)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: hash, HTLCExpiry: 200}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 200)
	store.add(htlc)

	sidechain := &fakeSidechain{sendErr: errSendFailed}
	b := New(serverKey, &fakeOracle{tip: 100}, store, sidechain, 144, nil)

	ctx := context.Background()
	_, err := b.InitiateLiquidPayment(ctx, &bridgerpc.InitiateLiquidPaymentRequest{
		LiquidAddress: "addr", AmountSat: 5000, PaymentHash: hash.Bytes(),
		HTLCVtxoIDs: [][]byte{htlc.ID().Bytes()},
	})
	require.NoError(t, err)

	payment, ok := b.payments.get(hash)
	require.True(t, ok)
	require.Equal(t, PaymentFailed, payment.Status)

	req := &bridgerpc.RevokeLiquidPayHtlcRequest{
		HTLCVtxoIDs: [][]byte{htlc.ID().Bytes()},
		UserNonces:  [][]byte{make([]byte, 66)},
	}

	resp, err := b.RequestLiquidPayHtlcRevocation(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Sigs, 1)
}

func TestRequestLiquidPayHtlcRevocation_AllowedPastExpiryWithNoTrackedPayment(t *testing.T) {
	serverKey := derivePrivKey(1)
	userKey := derivePrivKey(2)
	store := newFakeVtxoStore()

	hash := testHash(3)
	policy := vtxo.ServerHTLCSendPolicy{UserPubkey: userKey.PubKey(), PaymentHash: hash, HTLCExpiry: 50}
	htlc := vtxo.New(vtxo.ID{1}, 5000, policy, newOutpoint(1), 50)
	store.add(htlc)

	b := New(serverKey, &fakeOracle{tip: 100}, store, nil, 144, nil)

	req := &bridgerpc.RevokeLiquidPayHtlcRequest{
		HTLCVtxoIDs: [][]byte{htlc.ID().Bytes()},
		UserNonces:  [][]byte{make([]byte, 66)},
	}

	resp, err := b.RequestLiquidPayHtlcRevocation(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Sigs, 1)
}

var errSendFailed = errors.New("sidechain unavailable")
