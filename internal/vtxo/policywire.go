package vtxo

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// EncodeServerHTLCSendPolicy serializes p for the wire (SPEC_FULL.md §6's
// LiquidPayHtlcCosignResponse.policy field): compressed pubkey || payment
// hash || big-endian expiry height. Both client and server use this
// encoding so the client can re-derive the exact policy the server
// minted outputs against.
func EncodeServerHTLCSendPolicy(p ServerHTLCSendPolicy) []byte {
	out := make([]byte, 0, 33+32+4)
	out = append(out, p.UserPubkey.SerializeCompressed()...)
	out = append(out, p.PaymentHash[:]...)
	var expiry [4]byte
	binary.BigEndian.PutUint32(expiry[:], p.HTLCExpiry)
	return append(out, expiry[:]...)
}

// DecodeServerHTLCSendPolicy parses the encoding EncodeServerHTLCSendPolicy
// produces.
func DecodeServerHTLCSendPolicy(raw []byte) (ServerHTLCSendPolicy, error) {
	if len(raw) != 33+32+4 {
		return ServerHTLCSendPolicy{}, fmt.Errorf("vtxo: malformed server htlc send policy (%d bytes)", len(raw))
	}

	pub, err := btcec.ParsePubKey(raw[:33])
	if err != nil {
		return ServerHTLCSendPolicy{}, fmt.Errorf("vtxo: invalid policy pubkey: %w", err)
	}

	var hash PaymentHash
	copy(hash[:], raw[33:65])

	return ServerHTLCSendPolicy{
		UserPubkey:  pub,
		PaymentHash: hash,
		HTLCExpiry:  binary.BigEndian.Uint32(raw[65:69]),
	}, nil
}
