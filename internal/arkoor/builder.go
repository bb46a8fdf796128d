// Package arkoor implements the HTLC Package Builder (C2): construction of
// the Arkoor transaction package that converts spendable input VTXOs into
// HTLC-locked outputs (send package), and the revocation package that
// converts HTLC VTXOs back into spendable VTXOs. Grounded on
// original_source/bark/src/liquid/pay.rs (ArkoorPackageBuilder::new,
// ::new_htlc_revocation) and original_source/server/src/liquid/mod.rs
// (the server's mirrored package construction).
//
// Every input VTXO being spent needs its own cosigned authorization (one
// MuSig2 session per input, matching the original's per-input nonce_pair
// loop); the package's output set (the HTLC vtxo plus optional change, or
// one spendable vtxo per revoked input) is derived once every input
// signature has been aggregated.
package arkoor

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/arklabs/bridge/internal/bridgeerrors"
	"github.com/arklabs/bridge/internal/musig"
	"github.com/arklabs/bridge/internal/vtxo"
)

// ArkoorInput is one input VTXO plus the user's nonce material for
// cosigning its spend within the package. UserKeypair/UserSecNonce are
// only needed client-side (to later call BuildVtxos); the server builds
// the same package from UserPubkey/UserPubNonce alone, since it cosigns
// but never signs as the user.
type ArkoorInput struct {
	Input        vtxo.Vtxo
	UserPubkey   *btcec.PublicKey
	UserPubNonce musig.PublicNonce

	UserKeypair  *btcec.PrivateKey
	UserSecNonce *musig.SecretNonce
}

// outputSpec describes one output VTXO the package will mint once all
// inputs are cosigned.
type outputSpec struct {
	amount btcutil.Amount
	policy vtxo.Policy
}

// ArkoorPackageBuilder builds either a send package or a revocation
// package over a set of input VTXOs, all of which must share a chain
// anchor (enforced at construction, matching the Arkoor package
// invariant that one package resolves to one on-chain anchor).
type ArkoorPackageBuilder struct {
	inputs     []ArkoorInput
	signOutput []musig.SignOutput // one per input, authorizing its spend
	outputSpec []outputSpec       // the package's minted outputs
	anchor     wire.OutPoint
	expiry     uint32

	// hasChange is set at construction by NewSendPackage when total
	// input amount exceeds amount, marking outputSpec's last entry as
	// the change output. Never set by NewHTLCRevocation, whose outputs
	// are all spendable refunds, none of them change.
	hasChange bool
}

// NewSendPackage builds the send package described in SPEC_FULL.md §4.2:
// inputs sum >= amount, one HTLC output of exactly amount under
// htlcPolicy, and (if sum > amount) one change output to changePubkey.
func NewSendPackage(
	inputs []ArkoorInput, serverKey *btcec.PublicKey, amount btcutil.Amount,
	htlcPolicy vtxo.ServerHTLCSendPolicy, changePubkey *btcec.PublicKey,
) (*ArkoorPackageBuilder, error) {

	if len(inputs) == 0 {
		return nil, fmt.Errorf("arkoor: send package needs at least one input")
	}

	total := btcutil.Amount(0)
	for _, in := range inputs {
		total += in.Input.Amount()
	}
	if total < amount {
		return nil, bridgeerrors.ErrInsufficientFunds
	}

	anchor := inputs[0].Input.ChainAnchor()
	for _, in := range inputs {
		if in.Input.ChainAnchor() != anchor {
			return nil, fmt.Errorf("arkoor: all inputs of a send package must share one chain anchor")
		}
	}

	b := &ArkoorPackageBuilder{
		inputs: inputs,
		anchor: anchor,
		expiry: htlcPolicy.HTLCExpiry,
	}

	for i, in := range inputs {
		signers := []*btcec.PublicKey{in.UserPubkey, serverKey}
		b.signOutput = append(b.signOutput, musig.SignOutput{
			Signers:      signers,
			Sighash:      packageSighash(inputs, amount, i),
			UserPrivKey:  in.UserKeypair,
			UserSecNonce: in.UserSecNonce,
			UserPubNonce: in.UserPubNonce,
		})
	}

	b.outputSpec = append(b.outputSpec, outputSpec{amount: amount, policy: htlcPolicy})

	if change := total - amount; change > 0 {
		b.outputSpec = append(b.outputSpec, outputSpec{
			amount: change, policy: vtxo.PlainPolicy{UserPubkey: changePubkey},
		})
		b.hasChange = true
	}

	return b, nil
}

// NewHTLCRevocation builds the revocation package described in
// SPEC_FULL.md §4.2: one spendable output per HTLC input, paying the
// user's key, taking the cooperative refund branch (requires server
// cosign since the HTLC script has a hashlock branch the server alone
// controls).
func NewHTLCRevocation(inputs []ArkoorInput, serverKey *btcec.PublicKey) (*ArkoorPackageBuilder, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("arkoor: revocation package needs at least one input")
	}

	var policy *vtxo.ServerHTLCSendPolicy
	for _, in := range inputs {
		htlc, err := vtxo.AsServerHTLCSend(in.Input.Policy())
		if err != nil {
			return nil, bridgeerrors.Wrap(err, "revocation input is not an htlc vtxo")
		}
		if policy == nil {
			policy = &htlc
		} else if !policy.Equal(htlc) {
			return nil, fmt.Errorf("arkoor: revocation inputs do not share one htlc policy")
		}
	}

	anchor := inputs[0].Input.ChainAnchor()
	for _, in := range inputs {
		if in.Input.ChainAnchor() != anchor {
			return nil, fmt.Errorf("arkoor: all inputs of a revocation package must share one chain anchor")
		}
	}
	b := &ArkoorPackageBuilder{inputs: inputs, anchor: anchor, expiry: policy.HTLCExpiry}

	for i, in := range inputs {
		signers := []*btcec.PublicKey{policy.UserPubkey, serverKey}
		b.signOutput = append(b.signOutput, musig.SignOutput{
			Signers:      signers,
			Sighash:      packageSighash(inputs, in.Input.Amount(), i),
			UserPrivKey:  in.UserKeypair,
			UserSecNonce: in.UserSecNonce,
			UserPubNonce: in.UserPubNonce,
		})
		b.outputSpec = append(b.outputSpec, outputSpec{
			amount: in.Input.Amount(), policy: vtxo.PlainPolicy{UserPubkey: policy.UserPubkey},
		})
	}

	return b, nil
}

// UserNonces returns the user's public nonces, one per input, in
// construction order - these are what get submitted to the server
// alongside the cosign request.
func (b *ArkoorPackageBuilder) UserNonces() []musig.PublicNonce {
	nonces := make([]musig.PublicNonce, len(b.signOutput))
	for i, o := range b.signOutput {
		nonces[i] = o.UserPubNonce
	}
	return nonces
}

// CosignAsServer produces the server's cosign response for every input
// of the package, using serverKey as the server's half of each MuSig2
// session. Grounded on the server's cosign_oor_package_with_builder.
func (b *ArkoorPackageBuilder) CosignAsServer(serverKey *btcec.PrivateKey) ([]musig.CosignResponse, error) {
	responses := make([]musig.CosignResponse, len(b.signOutput))
	for i, out := range b.signOutput {
		resp, err := musig.Cosign(serverKey, out.Signers, out.Sighash, out.UserPubNonce)
		if err != nil {
			return nil, err
		}
		responses[i] = resp
	}
	return responses, nil
}

// VerifyCosignResponse checks the server's per-input cosign responses
// against this package's sign contexts.
func (b *ArkoorPackageBuilder) VerifyCosignResponse(responses []musig.CosignResponse) bool {
	return musig.VerifyCosignResponse(b.signOutput, responses) == nil
}

// BuildVtxos aggregates user and server partials for every input and
// mints the package's output VTXOs. For a send package this returns
// (htlcVtxos with len==1, changeVtxo or nil); for a revocation package it
// returns (one spendable vtxo per input, nil).
func (b *ArkoorPackageBuilder) BuildVtxos(responses []musig.CosignResponse) ([]vtxo.Vtxo, *vtxo.Vtxo, error) {
	sigs, err := musig.BuildVtxos(b.signOutput, responses)
	if err != nil {
		return nil, nil, err
	}

	packageDigest := digestSigs(sigs)

	outputs := make([]vtxo.Vtxo, 0, len(b.outputSpec))
	var change *vtxo.Vtxo
	for i, spec := range b.outputSpec {
		id := deriveOutputID(b.anchor, packageDigest, i)
		outputs = append(outputs, vtxo.New(id, spec.amount, spec.policy, b.anchor, b.expiry))
	}

	// A send package mints at most 2 outputs (htlc [+change]); a
	// revocation package mints exactly len(inputs) outputs, one per
	// input, none of which is "change". hasChange is set explicitly at
	// construction, so multi-input sends aren't mistaken for
	// revocations just because signOutput and outputSpec happen to be
	// the same length.
	if b.hasChange {
		last := len(outputs) - 1
		change = &outputs[last]
		outputs = outputs[:last]
	}

	return outputs, change, nil
}

// packageSighash derives a deterministic sighash for the spend
// authorization of input index i within a package that pays amount in
// total to its HTLC/refund output. The real Ark protocol computes this
// from the actual taproot transaction being signed (sealed library,
// outside this bridge's scope per spec.md §1); this bridge only needs a
// value that's unique per (inputs, amount, input index) and identical on
// both client and server, which a domain-separated hash provides.
func packageSighash(inputs []ArkoorInput, amount btcutil.Amount, inputIndex int) [32]byte {
	h := sha256.New()
	h.Write([]byte("ark-htlc-package-sighash"))
	for _, in := range inputs {
		id := in.Input.ID()
		h.Write(id[:])
	}
	var amtBuf [8]byte
	putUint64(amtBuf[:], uint64(amount))
	h.Write(amtBuf[:])
	h.Write([]byte{byte(inputIndex)})
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// digestSigs combines every input's final signature into one package
// digest used to derive output ids.
func digestSigs(sigs []schnorr.Signature) [32]byte {
	h := sha256.New()
	for i := range sigs {
		h.Write(sigs[i].Serialize())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// deriveOutputID derives a deterministic VtxoId for output index i of a
// package rooted at anchor, given the package's combined signature
// digest.
func deriveOutputID(anchor wire.OutPoint, packageDigest [32]byte, i int) vtxo.ID {
	h := sha256.New()
	h.Write(anchor.Hash[:])
	var idx [4]byte
	idx[0] = byte(anchor.Index)
	h.Write(idx[:])
	h.Write(packageDigest[:])
	h.Write([]byte{byte(i)})
	sum := chainhash.HashH(h.Sum(nil))
	return vtxo.ID(sum)
}
