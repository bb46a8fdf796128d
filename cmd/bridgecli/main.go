// Command bridgecli is the control-plane CLI for the bridge server, laid
// out like the teacher's cmd/lncli: a thin urfave/cli app that dials the
// bridge's gRPC listener and prints responses as JSON.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"google.golang.org/grpc"

	"github.com/arklabs/bridge/internal/bridgerpc"
	"github.com/arklabs/bridge/internal/bridgerpc/transport"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bridgecli] %v\n", err)
	os.Exit(1)
}

// getClient dials the bridge server named by the global --rpcserver flag
// and returns a ready bridgerpc.Client plus a cleanup func.
func getClient(ctx *cli.Context) (bridgerpc.Client, func()) {
	target := ctx.GlobalString("rpcserver")

	client, conn, err := transport.Dial(target, grpc.WithInsecure())
	if err != nil {
		fatal(err)
	}

	return client, func() { conn.Close() }
}

func main() {
	app := cli.NewApp()
	app.Name = "bridgecli"
	app.Usage = "control plane for the Ark-to-Liquid payment bridge"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:6789",
			Usage: "host:port of the bridge server",
		},
	}
	app.Commands = []cli.Command{
		payCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
