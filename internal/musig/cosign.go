// Package musig implements the Cosignature Protocol (C1): MuSig2 nonce-pair
// generation, cosign-response verification, and partial-signature
// aggregation into final VTXOs, per SPEC_FULL.md §4.1. The actual curve
// arithmetic is delegated to the real MuSig2 implementation in
// github.com/btcsuite/btcd/btcec/v2/musig2 (already required by the
// teacher's go.mod) - this package only orchestrates it the way the
// spec requires (one session per signed input, secret nonces consumed
// exactly once).
package musig

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/arklabs/bridge/internal/bridgeerrors"
)

// SecretNonce is a move-only wrapper around a MuSig2 secret nonce. It must
// never leave the client and must be used at most once; Consume enforces
// the latter by panicking on reuse, matching the spec's "programming
// error" disposition for nonce reuse.
type SecretNonce struct {
	sec      [musig2.SecNonceSize]byte
	consumed bool
}

// Consume returns the underlying secret nonce bytes exactly once, then
// zeroes and locks the wrapper against further use.
func (s *SecretNonce) Consume() [musig2.SecNonceSize]byte {
	if s.consumed {
		panic("musig: secret nonce used more than once")
	}
	s.consumed = true
	out := s.sec
	for i := range s.sec {
		s.sec[i] = 0
	}
	return out
}

// PublicNonce is the MuSig2 public nonce pair sent to the server.
type PublicNonce [musig2.PubNonceSize]byte

// NoncePair generates a fresh MuSig2 (secret, public) nonce pair for one
// input, bound to keypair's public key. Deterministic-randomness is
// acceptable per spec, but each call must produce a fresh pair - GenNonces
// draws from crypto/rand internally unless overridden.
func NoncePair(keypair *btcec.PrivateKey) (*SecretNonce, PublicNonce, error) {
	nonces, err := musig2.GenNonces(musig2.WithPublicKey(keypair.PubKey()))
	if err != nil {
		return nil, PublicNonce{}, bridgeerrors.Wrap(err, "generate musig2 nonces")
	}

	sn := &SecretNonce{sec: nonces.SecNonce}
	return sn, PublicNonce(nonces.PubNonce), nil
}

// CosignResponse is one server reply per signed input: its public nonce
// and its partial signature share.
type CosignResponse struct {
	PubNonce         PublicNonce
	PartialSignature [32]byte
}

// SignOutput bundles everything needed to verify/aggregate signatures for
// one output of a package: the set of cosigning public keys (user, server),
// the sighash being signed, and the user's own nonce material for that
// output.
type SignOutput struct {
	Signers     []*btcec.PublicKey
	Sighash     [32]byte
	UserPrivKey *btcec.PrivateKey
	UserSecNonce *SecretNonce
	UserPubNonce PublicNonce
}

// VerifyCosignResponse checks that each response in responses is a valid
// partial signature from the server under the aggregate key of
// outputs[i].Signers for outputs[i].Sighash. It fails closed: an arity
// mismatch or any single invalid partial signature fails the whole batch,
// per SPEC_FULL.md §4.1.
func VerifyCosignResponse(outputs []SignOutput, responses []CosignResponse) error {
	if len(outputs) != len(responses) {
		return bridgeerrors.ErrArityMismatch
	}

	for i, out := range outputs {
		aggNonce, err := musig2.AggregateNonces(
			[][musig2.PubNonceSize]byte{
				[musig2.PubNonceSize]byte(out.UserPubNonce),
				[musig2.PubNonceSize]byte(responses[i].PubNonce),
			},
		)
		if err != nil {
			return bridgeerrors.Wrap(err, "aggregate nonces")
		}

		ok, err := verifyPartial(out.Signers, aggNonce, out.Sighash, responses[i])
		if err != nil {
			return bridgeerrors.Wrap(err, "verify server partial signature")
		}
		if !ok {
			return bridgeerrors.ErrCosignMismatch
		}
	}

	return nil
}

// BuildVtxos aggregates the user's own partial signature with the
// server's cosign response for every output, producing the final
// aggregated Schnorr signature per output. Callers attach these
// signatures to the output VTXOs they construct. Consumes (and zeroes)
// every secret nonce in outputs - they must not be reused.
func BuildVtxos(outputs []SignOutput, responses []CosignResponse) ([]schnorr.Signature, error) {
	if len(outputs) != len(responses) {
		return nil, bridgeerrors.ErrArityMismatch
	}

	sigs := make([]schnorr.Signature, len(outputs))
	for i, out := range outputs {
		secNonce := out.UserSecNonce.Consume()

		aggNonce, err := musig2.AggregateNonces(
			[][musig2.PubNonceSize]byte{
				[musig2.PubNonceSize]byte(out.UserPubNonce),
				[musig2.PubNonceSize]byte(responses[i].PubNonce),
			},
		)
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "aggregate nonces")
		}

		userPartial, err := musig2.Sign(
			secNonce, out.UserPrivKey, aggNonce, out.Signers, out.Sighash,
			musig2.WithSortedKeys(),
		)
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "produce user partial signature")
		}

		serverPartial := decodePartial(responses[i].PartialSignature)

		finalNonce, err := btcec.ParsePubKey(aggNonce[:33])
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "parse aggregate nonce")
		}

		finalSig := musig2.CombineSigs(
			finalNonce, []*musig2.PartialSignature{userPartial, serverPartial},
		)

		sigs[i] = *finalSig
	}

	return sigs, nil
}

// Cosign produces the server's half of a cosign response for one input:
// a fresh server nonce pair, aggregated with the user's already-known
// public nonce, and a partial signature over sighash under the aggregate
// of signers. This is the server-side counterpart of BuildVtxos' user
// partial - the server never sees the user's secret nonce and never
// calls CombineSigs itself, it only returns its own contribution.
func Cosign(
	serverKey *btcec.PrivateKey, signers []*btcec.PublicKey, sighash [32]byte, userPubNonce PublicNonce,
) (CosignResponse, error) {
	serverNonces, err := musig2.GenNonces(musig2.WithPublicKey(serverKey.PubKey()))
	if err != nil {
		return CosignResponse{}, bridgeerrors.Wrap(err, "generate server musig2 nonces")
	}

	aggNonce, err := musig2.AggregateNonces(
		[][musig2.PubNonceSize]byte{
			[musig2.PubNonceSize]byte(userPubNonce),
			serverNonces.PubNonce,
		},
	)
	if err != nil {
		return CosignResponse{}, bridgeerrors.Wrap(err, "aggregate nonces")
	}

	partial, err := musig2.Sign(
		serverNonces.SecNonce, serverKey, aggNonce, signers, sighash,
		musig2.WithSortedKeys(),
	)
	if err != nil {
		return CosignResponse{}, bridgeerrors.Wrap(err, "produce server partial signature")
	}

	return CosignResponse{
		PubNonce:         PublicNonce(serverNonces.PubNonce),
		PartialSignature: encodePartial(partial),
	}, nil
}

// encodePartial serializes a musig2.PartialSignature's scalar to the
// 32-byte wire form decodePartial expects.
func encodePartial(p *musig2.PartialSignature) [32]byte {
	var out [32]byte
	b := p.S.Bytes()
	copy(out[:], b[:])
	return out
}

// verifyPartial checks a single server partial signature under signers'
// key set, for the combined nonce aggNonce and message sighash. The
// signing key under test is the server's own key, signers[1] by this
// package's two-party construction convention (user, server) - never the
// aggregate key, since a partial signature is only ever valid under its
// own signer's key.
func verifyPartial(
	signers []*btcec.PublicKey, aggNonce [musig2.PubNonceSize]byte, msg [32]byte,
	resp CosignResponse,
) (bool, error) {

	partial := decodePartial(resp.PartialSignature)
	serverKey := signers[len(signers)-1]

	ok := musig2.PartialSigVerify(
		partial, [musig2.PubNonceSize]byte(resp.PubNonce), aggNonce, signers, serverKey, msg,
	)
	return ok, nil
}

// decodePartial reconstructs a musig2.PartialSignature from the 32-byte
// scalar the server sent over the wire.
func decodePartial(raw [32]byte) *musig2.PartialSignature {
	var s btcec.ModNScalar
	s.SetByteSlice(raw[:])
	return &musig2.PartialSignature{S: &s}
}
