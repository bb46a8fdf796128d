// Command bridged runs the bridge server: the gRPC-exposed counterpart of
// cmd/bridgecli, cosigning Liquid HTLC sends and forwarding them to the
// sidechain, laid out like the teacher's cmd/lnd (load config, wire
// loggers, construct the service, serve).
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arklabs/bridge/internal/blog"
	"github.com/arklabs/bridge/internal/bridgerpc/transport"
	"github.com/arklabs/bridge/internal/config"
	"github.com/arklabs/bridge/internal/serverbridge"
	"github.com/arklabs/bridge/internal/servervtxostore"
	"github.com/arklabs/bridge/internal/sidechain"
)

var log = blog.Logger(blog.SubsystemServer)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bridged] %v\n", err)
	os.Exit(1)
}

func main() {
	cfg, err := config.LoadServerConfig(os.Args[1:])
	if err != nil {
		fatal(err)
	}

	setupLoggers(cfg.Debug)

	serverKey, err := loadOrGenerateKey(cfg.KeySeedFile)
	if err != nil {
		fatal(err)
	}

	vtxos, err := servervtxostore.Open(cfg.VtxoDBPath)
	if err != nil {
		fatal(err)
	}
	defer vtxos.Close()

	var sidechainClient sidechain.Client
	if cfg.ElementsdRPCHost != "" {
		sidechainClient = sidechain.NewJSONRPCClient(cfg.ElementsdRPCHost, cfg.ElementsdRPCUser, cfg.ElementsdRPCPass)
	}

	registry := prometheus.NewRegistry()

	bridge := serverbridge.New(
		serverKey, stubOracle{}, vtxos, sidechainClient, cfg.HTLCSendExpiryDelta, registry,
	)

	go serveMetrics(cfg.MetricsAddr, registry)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fatal(err)
	}

	grpcServer := transport.NewServer()
	transport.RegisterServer(grpcServer, bridge)

	log.Infof("bridged listening on %s", cfg.ListenAddr)
	if err := grpcServer.Serve(listener); err != nil {
		fatal(err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Infof("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server stopped: %v", err)
	}
}

// loadOrGenerateKey reads a 32-byte private key seed from path, generating
// and persisting a fresh one on first start.
func loadOrGenerateKey(path string) (*btcec.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) == 32 {
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return priv, nil
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(seed)
	return priv, nil
}

// stubOracle stands in for a real bitcoind/elementsd-backed
// chainoracle.Oracle: this repo treats the chain oracle as an external
// collaborator it doesn't own an implementation of (see
// internal/chainoracle's package doc). Tip is fixed at zero, which only
// matters for htlc expiry minting and revocation-expiry gating; wiring a
// real node RPC is left to deployment-specific tooling.
type stubOracle struct{}

func (stubOracle) Tip(context.Context) (uint32, error) { return 0, nil }

func (stubOracle) GetTx(context.Context, chainhash.Hash) (*wire.MsgTx, error) {
	return &wire.MsgTx{}, nil
}

// setupLoggers installs a stdout btclog backend at the configured level
// for every subsystem this binary exercises, mirroring the teacher's
// lnd.go logging bring-up.
func setupLoggers(level string) {
	backend := btclog.NewBackend(os.Stdout)
	for _, subsystem := range []string{
		blog.SubsystemServer, blog.SubsystemBridge, blog.SubsystemStore,
		blog.SubsystemMusig, blog.SubsystemArkoor,
	} {
		logger := backend.Logger(subsystem)
		lvl, ok := btclog.LevelFromString(level)
		if !ok {
			lvl = btclog.LevelInfo
		}
		logger.SetLevel(lvl)
		blog.UseLogger(subsystem, logger)
	}
}
