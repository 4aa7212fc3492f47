package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/freedomlayer/offset-sub002/frontend"
)

// Grounded on cmd/lncli/main.go: a urfave/cli app whose global flags
// locate the daemon's gRPC socket, TLS cert and macaroon, plumbed into
// every subcommand via getClient.
const (
	defaultTLSCertFilename  = "tls.cert"
	defaultMacaroonFilename = "admin.macaroon"
	defaultRPCServer        = "localhost:10345"
)

var (
	defaultOffsetdDir   = filepath.Join(defaultHomeDir(), ".offsetd")
	defaultTLSCertPath  = filepath.Join(defaultOffsetdDir, defaultTLSCertFilename)
	defaultMacaroonPath = filepath.Join(defaultOffsetdDir, defaultMacaroonFilename)
)

func defaultHomeDir() string {
	if u, err := user.Current(); err == nil {
		return u.HomeDir
	}
	return os.Getenv("HOME")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[offsetctl] %v\n", err)
	os.Exit(1)
}

// macaroonCredential implements credentials.PerRPCCredentials by
// attaching the loaded macaroon's hex encoding under the "macaroon"
// metadata key -- the counterpart to frontend/auth.go's
// UnaryInterceptor, which reads that same key back off the incoming
// context.
type macaroonCredential struct {
	hexMac string
}

func (m macaroonCredential) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.hexMac}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool { return true }

func getClient(ctx *cli.Context) (frontend.FunderServiceClient, func()) {
	creds, err := credentials.NewClientTLSFromFile(
		cleanAndExpandPath(ctx.GlobalString("tlscertpath")), "")
	if err != nil {
		fatal(err)
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}

	if !ctx.GlobalBool("no-macaroons") {
		macBytes, err := ioutil.ReadFile(cleanAndExpandPath(ctx.GlobalString("macaroonpath")))
		if err != nil {
			fatal(err)
		}
		opts = append(opts, grpc.WithPerRPCCredentials(
			macaroonCredential{hexMac: hex.EncodeToString(macBytes)}))
	}

	conn, err := grpc.Dial(ctx.GlobalString("rpcserver"), opts...)
	if err != nil {
		fatal(err)
	}
	return frontend.NewFunderServiceClient(conn), func() { conn.Close() }
}

func main() {
	app := cli.NewApp()
	app.Name = "offsetctl"
	app.Usage = "control plane for offsetd, a mutual-credit Funder node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCServer,
			Usage: "host:port of offsetd's FunderService",
		},
		cli.StringFlag{
			Name:  "tlscertpath",
			Value: defaultTLSCertPath,
			Usage: "path to offsetd's TLS certificate",
		},
		cli.BoolFlag{
			Name:  "no-macaroons",
			Usage: "disable macaroon authentication",
		},
		cli.StringFlag{
			Name:  "macaroonpath",
			Value: defaultMacaroonPath,
			Usage: "path to macaroon file",
		},
	}
	app.Commands = []cli.Command{
		addFriendCommand,
		openFriendCurrencyCommand,
		setFriendCurrencyMaxDebtCommand,
		addInvoiceCommand,
		commitInvoiceCommand,
		cancelInvoiceCommand,
		requestSendFundsCommand,
		paymentStatusCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// cleanAndExpandPath expands a leading ~ and environment variables,
// taken nearly verbatim from cmd/lncli/main.go's helper of the same
// name.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		path = strings.Replace(path, "~", defaultHomeDir(), 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}
