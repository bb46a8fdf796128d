// Package sidechain defines the opaque sidechain RPC surface the server
// bridge forwards payments through, per spec.md §1 ("the sidechain RPC
// client (treated as an opaque request/response surface)") and §6. A
// minimal JSON-RPC client is provided for running against a real Elements
// node, but it is not part of this repo's tested core surface.
package sidechain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client is the sidechain RPC surface the server bridge needs, mirroring
// spec.md §6's sendtoaddress/gettransaction pair.
type Client interface {
	// SendToAddress sends amountSat satoshis (converted to BTC units
	// internally) to address, returning the sidechain txid.
	SendToAddress(ctx context.Context, address string, amountSat int64) (txid string, err error)
	// GetTransaction returns the confirmation count for a previously
	// broadcast txid.
	GetTransaction(ctx context.Context, txid string) (confirmations uint64, err error)
}

// JSONRPCClient is a minimal JSON-RPC 1.0 client for an Elements-style
// sidechain node, mirroring the elementsd.call::<T>(method, params) idiom
// used in original_source/server/src/liquid/mod.rs. It is intentionally
// thin: the sidechain is an external collaborator, not part of this
// bridge's core.
type JSONRPCClient struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

func NewJSONRPCClient(endpoint, user, pass string) *JSONRPCClient {
	return &JSONRPCClient{endpoint: endpoint, user: user, pass: pass, http: &http.Client{}}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     string        `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: "bridge"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("sidechain rpc %s: %s", method, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// SendToAddress implements Client using the sendtoaddress RPC, converting
// satoshis to BTC units per spec.md §6 (amount_btc = amount_sat / 1e8).
func (c *JSONRPCClient) SendToAddress(ctx context.Context, address string, amountSat int64) (string, error) {
	amountBTC := float64(amountSat) / 100_000_000.0

	raw, err := c.call(ctx, "sendtoaddress", address, amountBTC)
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", fmt.Errorf("sendtoaddress: unexpected result: %w", err)
	}
	return txid, nil
}

// GetTransaction implements Client using the gettransaction RPC.
func (c *JSONRPCClient) GetTransaction(ctx context.Context, txid string) (uint64, error) {
	raw, err := c.call(ctx, "gettransaction", txid)
	if err != nil {
		return 0, err
	}

	var info struct {
		Confirmations uint64 `json:"confirmations"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return 0, fmt.Errorf("gettransaction: unexpected result: %w", err)
	}
	return info.Confirmations, nil
}
