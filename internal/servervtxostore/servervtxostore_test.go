package servervtxostore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/arklabs/bridge/internal/vtxo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vtxos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func outpoint(b byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: 0}
}

func TestGetVtxosByID_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	v := vtxo.New(vtxo.ID{1}, 5000, vtxo.PlainPolicy{UserPubkey: priv.PubKey()}, outpoint(1), 200)
	require.NoError(t, s.PutVtxos(ctx, []vtxo.Vtxo{v}))

	got, err := s.GetVtxosByID(ctx, []vtxo.ID{v.ID()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, v.ID(), got[0].ID())
	require.Equal(t, v.Amount(), got[0].Amount())
}

func TestGetVtxosByID_SkipsUnknown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetVtxosByID(ctx, []vtxo.ID{{9}})
	require.NoError(t, err)
	require.Len(t, got, 0)
}
