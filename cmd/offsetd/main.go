package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"google.golang.org/grpc"

	"github.com/freedomlayer/offset-sub002/crypto"
	"github.com/freedomlayer/offset-sub002/frontend"
	"github.com/freedomlayer/offset-sub002/funder"
	"github.com/freedomlayer/offset-sub002/persist"
)

// offsetdMain is the true entry point, grounded on daemon/lnd.go's
// LndMain: a nested function so deferred cleanup still runs even if a
// later step calls os.Exit, called from main()'s os.Args/os.Exit shell
// exactly the way cmd/lnd/main.go calls LndMain.
func offsetdMain(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	if err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		return err
	}
	setLogLevels(cfg.DebugLevel)

	identity, err := loadOrCreateIdentity(cfg.IdentityKey)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	ctx := context.Background()
	localPK, err := identity.PublicKey(ctx)
	if err != nil {
		return err
	}
	fundLog.Infof("node public key: %x", localPK.Bytes())

	store, err := persist.Open(cfg.MutationLog)
	if err != nil {
		return fmt.Errorf("opening mutation log: %w", err)
	}
	defer store.Close()

	// No TransportClient/IndexClient/RelayDialer collaborator is wired
	// here: those are left as nil per SPEC_FULL.md's "stays external"
	// directive for the transport/index/relay-dial surfaces, which this
	// repo specifies as interfaces only (§6's Non-goals). A production
	// deployment supplies them before calling Start.
	coord := funder.New(localPK, identity, store, nil, nil, nil)
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer coord.Stop()

	authSvc, err := frontend.NewService(cfg.MacaroonDB, cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("starting macaroon service: %w", err)
	}
	defer authSvc.Close()

	lis, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.RPCListen, err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(authSvc.UnaryInterceptor))
	frontend.RegisterFunderServer(grpcServer, frontend.NewServer(coord))

	fundLog.Infof("FunderService listening on %s", cfg.RPCListen)
	serveErrs := make(chan error, 1)
	go func() { serveErrs <- grpcServer.Serve(lis) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		return err
	case sig := <-sigCh:
		fundLog.Infof("received %s, shutting down", sig)
		grpcServer.GracefulStop()
	}
	return nil
}

func main() {
	if err := offsetdMain(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadOrCreateIdentity reads a 32-byte Ed25519 seed from path, or
// generates and persists a fresh one on first run -- offsetd's identity
// must survive restarts the same way persist.Store's mutation log does.
func loadOrCreateIdentity(path string) (*crypto.SoftwareIdentity, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return crypto.SoftwareIdentityFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	seed = make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, err
	}
	return crypto.SoftwareIdentityFromSeed(seed)
}
