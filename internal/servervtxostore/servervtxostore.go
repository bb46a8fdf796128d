// Package servervtxostore is a minimal bbolt-backed serverbridge.VtxoStore,
// giving cmd/bridged something runnable to look vtxos up against without
// pulling in the full Ark round/onboarding vtxo table this bridge
// deliberately doesn't own (see internal/serverbridge.VtxoStore's own
// doc). Not part of this repo's tested core surface; plays the same
// runnable-but-uncore role internal/walletdb plays on the client side.
package servervtxostore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	bolt "go.etcd.io/bbolt"

	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/vtxo"
)

var vtxosBucket = []byte("vtxos")

// Store is a file-backed serverbridge.VtxoStore.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the vtxo database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "open vtxo database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(vtxosBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, bridgeerrors.Wrap(err, "init vtxo database")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutVtxos seeds or overwrites vtxos in the table. Exposed so an operator
// (or this bridge's own onboarding/round flow, once it exists) can make a
// vtxo visible to RequestLiquidPayHtlcCosign.
func (s *Store) PutVtxos(_ context.Context, vtxos []vtxo.Vtxo) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(vtxosBucket)
		for _, v := range vtxos {
			encoded, err := encodeVtxo(v)
			if err != nil {
				return err
			}
			if err := b.Put(v.ID().Bytes(), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVtxosByID implements serverbridge.VtxoStore: it returns only the
// ids found, letting the caller detect a short result as an unknown id.
func (s *Store) GetVtxosByID(_ context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error) {
	out := make([]vtxo.Vtxo, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(vtxosBucket)
		for _, id := range ids {
			raw := b.Get(id.Bytes())
			if raw == nil {
				continue
			}
			v, err := decodeVtxo(id, raw)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// Vtxo wire encoding mirrors internal/walletdb's: state(1) || amount(8
// BE) || expiry(4 BE) || anchor-hash(32) || anchor-index(4 BE) ||
// policy-kind(1) || policy...
func encodeVtxo(v vtxo.Vtxo) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, byte(v.State()))

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(v.Amount()))
	out = append(out, amt[:]...)

	var exp [4]byte
	binary.BigEndian.PutUint32(exp[:], v.ExpiryHeight())
	out = append(out, exp[:]...)

	anchor := v.ChainAnchor()
	out = append(out, anchor.Hash[:]...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], anchor.Index)
	out = append(out, idx[:]...)

	policyBytes, kind, err := encodePolicy(v.Policy())
	if err != nil {
		return nil, err
	}
	out = append(out, kind)
	out = append(out, policyBytes...)

	return out, nil
}

func decodeVtxo(id vtxo.ID, raw []byte) (vtxo.Vtxo, error) {
	if len(raw) < 1+8+4+32+4+1 {
		return vtxo.Vtxo{}, fmt.Errorf("servervtxostore: truncated vtxo record")
	}

	state := vtxo.State(raw[0])
	amount := btcutil.Amount(binary.BigEndian.Uint64(raw[1:9]))
	expiry := binary.BigEndian.Uint32(raw[9:13])

	var anchorHash chainhash.Hash
	copy(anchorHash[:], raw[13:45])
	anchorIndex := binary.BigEndian.Uint32(raw[45:49])
	anchor := wire.OutPoint{Hash: anchorHash, Index: anchorIndex}

	kind := raw[49]
	policy, err := decodePolicy(kind, raw[50:])
	if err != nil {
		return vtxo.Vtxo{}, err
	}

	return vtxo.New(id, amount, policy, anchor, expiry).WithState(state), nil
}

func encodePolicy(p vtxo.Policy) ([]byte, byte, error) {
	switch pol := p.(type) {
	case vtxo.PlainPolicy:
		return pol.UserPubkey.SerializeCompressed(), byte(vtxo.PolicyKindPlain), nil
	case vtxo.ServerHTLCSendPolicy:
		return vtxo.EncodeServerHTLCSendPolicy(pol), byte(vtxo.PolicyKindServerHTLCSend), nil
	case vtxo.ServerHTLCReceivePolicy:
		out := append([]byte{}, pol.UserPubkey.SerializeCompressed()...)
		out = append(out, pol.PaymentHash[:]...)
		return out, byte(vtxo.PolicyKindServerHTLCReceive), nil
	default:
		return nil, 0, fmt.Errorf("servervtxostore: unsupported policy kind %T", p)
	}
}

func decodePolicy(kind byte, raw []byte) (vtxo.Policy, error) {
	switch vtxo.PolicyKind(kind) {
	case vtxo.PolicyKindPlain:
		pub, err := btcec.ParsePubKey(raw[:33])
		if err != nil {
			return nil, err
		}
		return vtxo.PlainPolicy{UserPubkey: pub}, nil
	case vtxo.PolicyKindServerHTLCSend:
		return vtxo.DecodeServerHTLCSendPolicy(raw[:69])
	case vtxo.PolicyKindServerHTLCReceive:
		pub, err := btcec.ParsePubKey(raw[:33])
		if err != nil {
			return nil, err
		}
		var hash vtxo.PaymentHash
		copy(hash[:], raw[33:65])
		return vtxo.ServerHTLCReceivePolicy{UserPubkey: pub, PaymentHash: hash}, nil
	default:
		return nil, fmt.Errorf("servervtxostore: unknown policy kind byte %d", kind)
	}
}
