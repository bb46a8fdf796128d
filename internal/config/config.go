// Package config defines the flag/env-driven configuration for both the
// client (bark-side) and server binaries, per SPEC_FULL.md §4.8. Follows
// the teacher's config.go pattern of a single struct tagged for
// github.com/jessevdk/go-flags, decoded via flags.NewParser.
package config

import (
	"github.com/jessevdk/go-flags"
)

// DefaultNetwork is the sidechain network name assumed absent an override.
const DefaultNetwork = "liquidv1"

// ClientConfig configures the client payment engine binary.
type ClientConfig struct {
	DataDir string `long:"datadir" description:"directory to store the wallet's vtxo/store state" default:"~/.bark-bridge"`
	Network string `long:"network" description:"sidechain network name" default:"liquidv1"`

	ServerAddr string `long:"server" description:"host:port of the bridge server's gRPC listener" default:"localhost:6789"`

	RefreshExpiryThreshold uint32 `long:"refresh_expiry_threshold" description:"blocks before htlc expiry at which the client stops retrying revocation and exits unilaterally" default:"144"`

	Debug string `long:"debuglevel" description:"logging level for all subsystems" default:"info"`
}

// ServerConfig configures the server bridge binary.
type ServerConfig struct {
	ListenAddr string `long:"listen" description:"host:port to bind the bridge server's gRPC listener" default:"0.0.0.0:6789"`

	SqliteDBPath string `long:"db" description:"path to the server's sqlite database file" default:"bridge.db"`

	VtxoDBPath string `long:"vtxodb" description:"path to the server's bbolt-backed vtxo table" default:"bridge-vtxos.db"`

	KeySeedFile string `long:"keyseedfile" description:"file holding the server's 32-byte cosigning key seed, generated on first start if absent" default:"bridge-server.key"`

	BitcoindRPCHost string `long:"bitcoind.rpchost" description:"bitcoind RPC host:port"`
	BitcoindRPCUser string `long:"bitcoind.rpcuser" description:"bitcoind RPC username"`
	BitcoindRPCPass string `long:"bitcoind.rpcpass" description:"bitcoind RPC password"`

	ElementsdRPCHost string `long:"elementsd.rpchost" description:"elementsd RPC host:port"`
	ElementsdRPCUser string `long:"elementsd.rpcuser" description:"elementsd RPC username"`
	ElementsdRPCPass string `long:"elementsd.rpcpass" description:"elementsd RPC password"`

	HTLCSendExpiryDelta uint32 `long:"htlc_send_expiry_delta" description:"blocks added to the chain tip to set a minted htlc's expiry" default:"144"`

	MetricsAddr string `long:"metrics.listen" description:"host:port to expose the Prometheus /metrics endpoint on" default:"0.0.0.0:9332"`

	Debug string `long:"debuglevel" description:"logging level for all subsystems" default:"info"`
}

// LoadClientConfig parses args (normally os.Args[1:]) into a ClientConfig,
// applying struct-tag defaults first.
func LoadClientConfig(args []string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServerConfig parses args (normally os.Args[1:]) into a ServerConfig,
// applying struct-tag defaults first.
func LoadServerConfig(args []string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
