// Package walletdb is a minimal bbolt-backed clientengine.WalletBackend,
// giving cmd/bridgecli something runnable to drive a payment against
// without pulling in a full wallet. It is not part of this repo's
// tested core surface (see internal/clientengine's own fakes for that);
// it plays the same "runnable but uncore" role here that
// internal/sidechain.JSONRPCClient plays for the sidechain side.
// Grounded on the teacher's channeldb convention of one top-level bbolt
// database holding several top-level buckets.
package walletdb

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
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

var (
	metaBucket        = []byte("meta")
	pendingKeysBucket = []byte("pending-keys")
	keysBucket        = []byte("keys")
	vtxosBucket       = []byte("vtxos")

	entropyKey         = []byte("entropy")
	nextChangeIndexKey = []byte("next-change-index")
)

// DB is a file-backed WalletBackend. Not safe for concurrent Pay calls
// across processes; a single bridgecli invocation is expected to hold
// the file lock bbolt takes out for its lifetime.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if absent) the wallet database at path, seeding a
// fresh 32-byte entropy value the first time.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "open wallet database")
	}

	w := &DB{db: db}
	if err := w.init(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *DB) Close() error { return w.db.Close() }

func (w *DB) init() error {
	return w.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{metaBucket, pendingKeysBucket, keysBucket, vtxosBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		meta := tx.Bucket(metaBucket)
		if meta.Get(entropyKey) == nil {
			entropy := make([]byte, 32)
			if _, err := rand.Read(entropy); err != nil {
				return bridgeerrors.Wrap(err, "generate wallet entropy")
			}
			if err := meta.Put(entropyKey, entropy); err != nil {
				return err
			}
		}
		return nil
	})
}

// MasterEntropy implements clientengine.WalletBackend.
func (w *DB) MasterEntropy(context.Context) ([]byte, error) {
	var entropy []byte
	err := w.db.View(func(tx *bolt.Tx) error {
		entropy = append([]byte(nil), tx.Bucket(metaBucket).Get(entropyKey)...)
		return nil
	})
	return entropy, err
}

// NextChangeKeypair derives the next change keypair deterministically
// from the wallet's entropy and an incrementing counter, and records it
// under its own pubkey as pending until a vtxo claims it via
// StoreSpendableVtxos.
func (w *DB) NextChangeKeypair(context.Context) (*btcec.PrivateKey, error) {
	var priv *btcec.PrivateKey

	err := w.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		entropy := meta.Get(entropyKey)

		var index uint64
		if raw := meta.Get(nextChangeIndexKey); raw != nil {
			index = binary.BigEndian.Uint64(raw)
		}

		mac := hmac.New(sha256.New, entropy)
		mac.Write([]byte("bridge-change-keypair"))
		var idxBuf [8]byte
		binary.BigEndian.PutUint64(idxBuf[:], index)
		mac.Write(idxBuf[:])

		p, _ := btcec.PrivKeyFromBytes(mac.Sum(nil))
		priv = p

		var nextIdx [8]byte
		binary.BigEndian.PutUint64(nextIdx[:], index+1)
		if err := meta.Put(nextChangeIndexKey, nextIdx[:]); err != nil {
			return err
		}

		pending := tx.Bucket(pendingKeysBucket)
		return pending.Put(priv.PubKey().SerializeCompressed(), priv.Serialize())
	})

	return priv, err
}

// SelectVtxosToCover implements a naive greedy coin selection over every
// spendable vtxo in the database, in bucket-iteration order.
func (w *DB) SelectVtxosToCover(_ context.Context, amount btcutil.Amount) ([]vtxo.Vtxo, error) {
	var (
		selected []vtxo.Vtxo
		total    btcutil.Amount
	)

	err := w.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(vtxosBucket).ForEach(func(key, raw []byte) error {
			if total >= amount {
				return nil
			}
			v, err := decodeVtxo(idFromKey(key), raw)
			if err != nil {
				return err
			}
			if v.State() != vtxo.StateSpendable {
				return nil
			}
			selected = append(selected, v)
			total += v.Amount()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if total < amount {
		return nil, bridgeerrors.ErrInsufficientFunds
	}
	return selected, nil
}

// VtxoKey returns the private key owning v, per its own recorded mapping.
func (w *DB) VtxoKey(_ context.Context, v vtxo.Vtxo) (*btcec.PrivateKey, error) {
	var raw []byte
	err := w.db.View(func(tx *bolt.Tx) error {
		raw = append([]byte(nil), tx.Bucket(keysBucket).Get(v.ID().Bytes())...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("walletdb: no key stored for vtxo %s", v.ID())
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// StoreLockedVtxos persists vtxos in the locked state. movementID is
// accepted to satisfy WalletBackend but isn't separately indexed here;
// internal/store.Store is the system of record for movement linkage.
func (w *DB) StoreLockedVtxos(_ context.Context, vtxos []vtxo.Vtxo, _ int64) error {
	return w.putVtxos(vtxos, vtxo.StateLocked)
}

// StoreSpendableVtxos persists vtxos as spendable, binding any vtxo whose
// PlainPolicy pubkey matches a pending change keypair to that key.
func (w *DB) StoreSpendableVtxos(_ context.Context, vtxos []vtxo.Vtxo) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(pendingKeysBucket)
		keys := tx.Bucket(keysBucket)
		vtxosB := tx.Bucket(vtxosBucket)

		for _, v := range vtxos {
			if plain, ok := v.Policy().(vtxo.PlainPolicy); ok {
				pub := plain.UserPubkey.SerializeCompressed()
				if priv := pending.Get(pub); priv != nil {
					if err := keys.Put(v.ID().Bytes(), priv); err != nil {
						return err
					}
					if err := pending.Delete(pub); err != nil {
						return err
					}
				}
			}

			encoded, err := encodeVtxo(v.WithState(vtxo.StateSpendable))
			if err != nil {
				return err
			}
			if err := vtxosB.Put(v.ID().Bytes(), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkVtxosSpent transitions ids to the spent state.
func (w *DB) MarkVtxosSpent(_ context.Context, ids []vtxo.ID) error {
	return w.db.Update(func(tx *bolt.Tx) error {
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
			encoded, err := encodeVtxo(v.WithState(vtxo.StateSpent))
			if err != nil {
				return err
			}
			if err := b.Put(id.Bytes(), encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

// VtxosByID re-reads vtxos by id.
func (w *DB) VtxosByID(_ context.Context, ids []vtxo.ID) ([]vtxo.Vtxo, error) {
	out := make([]vtxo.Vtxo, 0, len(ids))
	err := w.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(vtxosBucket)
		for _, id := range ids {
			raw := b.Get(id.Bytes())
			if raw == nil {
				return fmt.Errorf("walletdb: unknown vtxo %s", id)
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

func (w *DB) putVtxos(vtxos []vtxo.Vtxo, state vtxo.State) error {
	return w.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(vtxosBucket)
		for _, v := range vtxos {
			encoded, err := encodeVtxo(v.WithState(state))
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

// Vtxo wire encoding: state(1) || amount(8 BE) || expiry(4 BE) ||
// anchor-hash(32) || anchor-index(4 BE) || policy-kind(1) || policy...
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
		return vtxo.Vtxo{}, fmt.Errorf("walletdb: truncated vtxo record")
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

	v := vtxo.New(id, amount, policy, anchor, expiry).WithState(state)
	return v, nil
}

func idFromKey(key []byte) vtxo.ID {
	var id vtxo.ID
	copy(id[:], key)
	return id
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
		return nil, 0, fmt.Errorf("walletdb: unsupported policy kind %T", p)
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
		return nil, fmt.Errorf("walletdb: unknown policy kind byte %d", kind)
	}
}
