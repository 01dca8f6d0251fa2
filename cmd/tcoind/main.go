// Command tcoind runs a tangle-coin full node: it owns a wallet identity,
// a tangle, a scheduler, and the gossip peer runtime, wiring them together
// the way kaspad.go wires the kaspad services. Grounded on kaspad.go's
// wrapper-struct start/stop pattern and node.py's run loop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/tcoin-network/tcoind/config"
	"github.com/tcoin-network/tcoind/logs"
	"github.com/tcoin-network/tcoind/p2p"
	"github.com/tcoin-network/tcoind/tangle"
	"github.com/tcoin-network/tcoind/wallet"
)

const snapshotInterval = 5 * time.Minute

// daemon is a wrapper around every long-lived tcoind service, mirroring
// the kaspad struct in kaspad.go.
type daemon struct {
	cfg    *config.Config
	wallet *wallet.Wallet
	tangle *tangle.Tangle
	node   *p2p.Node

	started, shutdown int32
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	w, err := loadOrCreateWallet(cfg)
	if err != nil {
		return nil, err
	}

	tn, err := loadOrCreateTangle(cfg, w)
	if err != nil {
		return nil, err
	}

	node := p2p.New(w, tn, cfg.ListenHost, cfg.ListenPort, cfg.MaxConnections, cfg.KnownPeersPath())

	return &daemon{cfg: cfg, wallet: w, tangle: tn, node: node}, nil
}

func loadOrCreateWallet(cfg *config.Config) (*wallet.Wallet, error) {
	if cfg.Secret != "" {
		return wallet.FromSecret(cfg.Secret)
	}

	w := wallet.New()
	logs.Daemon.Infof("generated new wallet with address %s", w.Address())
	return w, nil
}

func loadOrCreateTangle(cfg *config.Config, w *wallet.Wallet) (*tangle.Tangle, error) {
	if cfg.NoSnapshot {
		return tangle.New(), nil
	}

	data, err := os.ReadFile(cfg.SnapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return tangle.New(), nil
		}
		return nil, fmt.Errorf("failed to read tangle snapshot: %w", err)
	}

	tn, err := tangle.Load(data, w.Address())
	if err != nil {
		logs.Daemon.Warnf("tangle snapshot failed verification, starting fresh: %v", err)
		return tangle.New(), nil
	}

	return tn, nil
}

func (d *daemon) start(ctx context.Context) error {
	if atomic.AddInt32(&d.started, 1) != 1 {
		return nil
	}

	if err := d.node.Start(ctx); err != nil {
		return err
	}

	for _, addr := range d.cfg.ConnectPeers {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			logs.Daemon.Warnf("ignoring malformed --connect address %q: %v", addr, err)
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			logs.Daemon.Warnf("ignoring malformed --connect address %q: %v", addr, err)
			continue
		}
		if err := d.node.Connect(host, port); err != nil {
			logs.Daemon.Warnf("failed to connect to %s: %v", addr, err)
		}
	}

	d.node.ConnectToKnownPeers(d.cfg.ConnectKnown)

	if !d.cfg.NoSnapshot {
		go d.periodicSnapshot(ctx)
	}

	return nil
}

func (d *daemon) periodicSnapshot(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.saveSnapshot()
			return
		case <-ticker.C:
			d.saveSnapshot()
		}
	}
}

func (d *daemon) saveSnapshot() {
	data, err := d.tangle.Save(d.wallet)
	if err != nil {
		logs.Daemon.Warnf("failed to serialize tangle snapshot: %v", err)
		return
	}
	if err := os.WriteFile(d.cfg.SnapshotPath(), data, 0600); err != nil {
		logs.Daemon.Warnf("failed to write tangle snapshot: %v", err)
		return
	}
	if err := d.node.SaveKnownPeers(); err != nil {
		logs.Daemon.Warnf("failed to write known-peers file: %v", err)
	}
}

func (d *daemon) stop() error {
	if atomic.AddInt32(&d.shutdown, 1) != 1 {
		return nil
	}

	logs.Daemon.Infof("tcoind shutting down")

	if !d.cfg.NoSnapshot {
		d.saveSnapshot()
	}

	return d.node.Stop()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		if flags.WroteHelp(err) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		logs.Daemon.Errorf("failed to initialize tcoind: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	if err := d.start(ctx); err != nil {
		logs.Daemon.Errorf("failed to start tcoind: %v", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := d.stop(); err != nil {
		logs.Daemon.Errorf("error during shutdown: %v", err)
		os.Exit(1)
	}
}
