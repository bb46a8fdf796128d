package walletdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/vtxo"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	w, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func outpoint(b byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: 0}
}

func TestMasterEntropy_StableAcrossCalls(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()

	a, err := w.MasterEntropy(ctx)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := w.MasterEntropy(ctx)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNextChangeKeypair_FreshKeyEachCall(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()

	k1, err := w.NextChangeKeypair(ctx)
	require.NoError(t, err)
	k2, err := w.NextChangeKeypair(ctx)
	require.NoError(t, err)

	require.False(t, k1.PubKey().IsEqual(k2.PubKey()))
}

func TestSelectVtxosToCover_InsufficientFunds(t *testing.T) {
	w := openTestDB(t)
	_, err := w.SelectVtxosToCover(context.Background(), 1000)
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientFunds)
}

func TestStoreSpendableVtxos_BindsChangeKeypairAndSelectable(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()

	changeKey, err := w.NextChangeKeypair(ctx)
	require.NoError(t, err)

	changeVtxo := vtxo.New(
		vtxo.ID{1}, 5000, vtxo.PlainPolicy{UserPubkey: changeKey.PubKey()}, outpoint(1), 200,
	)

	require.NoError(t, w.StoreSpendableVtxos(ctx, []vtxo.Vtxo{changeVtxo}))

	key, err := w.VtxoKey(ctx, changeVtxo)
	require.NoError(t, err)
	require.True(t, key.PubKey().IsEqual(changeKey.PubKey()))

	selected, err := w.SelectVtxosToCover(ctx, 4000)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, changeVtxo.ID(), selected[0].ID())
}

func TestMarkVtxosSpent_ExcludesFromSelection(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()

	changeKey, err := w.NextChangeKeypair(ctx)
	require.NoError(t, err)
	v := vtxo.New(vtxo.ID{2}, 5000, vtxo.PlainPolicy{UserPubkey: changeKey.PubKey()}, outpoint(2), 200)
	require.NoError(t, w.StoreSpendableVtxos(ctx, []vtxo.Vtxo{v}))

	require.NoError(t, w.MarkVtxosSpent(ctx, []vtxo.ID{v.ID()}))

	_, err = w.SelectVtxosToCover(ctx, 1000)
	require.ErrorIs(t, err, bridgeerrors.ErrInsufficientFunds)

	got, err := w.VtxosByID(ctx, []vtxo.ID{v.ID()})
	require.NoError(t, err)
	require.Equal(t, vtxo.StateSpent, got[0].State())
}

func TestStoreLockedVtxos_RoundTrip(t *testing.T) {
	w := openTestDB(t)
	ctx := context.Background()

	userKey, err := w.NextChangeKeypair(ctx)
	require.NoError(t, err)

	policy := vtxo.ServerHTLCSendPolicy{
		UserPubkey: userKey.PubKey(), PaymentHash: vtxo.PaymentHash{9}, HTLCExpiry: 300,
	}
	htlc := vtxo.New(vtxo.ID{3}, 7000, policy, outpoint(3), 300)

	require.NoError(t, w.StoreLockedVtxos(ctx, []vtxo.Vtxo{htlc}, 1))

	got, err := w.VtxosByID(ctx, []vtxo.ID{htlc.ID()})
	require.NoError(t, err)
	require.Equal(t, vtxo.StateLocked, got[0].State())
	require.Equal(t, htlc.Amount(), got[0].Amount())

	decodedPolicy, err := vtxo.AsServerHTLCSend(got[0].Policy())
	require.NoError(t, err)
	require.Equal(t, policy.PaymentHash, decodedPolicy.PaymentHash)
	require.Equal(t, policy.HTLCExpiry, decodedPolicy.HTLCExpiry)
}
