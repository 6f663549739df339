// Command trustchaind is the long-running mesh root: it opens one
// chain per subscribed key, serves them over the mesh wire protocol,
// and drives each chain's own background compaction.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/compact"
	"github.com/untoldecay/trustchain/internal/config"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/logging"
	"github.com/untoldecay/trustchain/internal/mesh"
	"github.com/untoldecay/trustchain/internal/pipe"
	"github.com/untoldecay/trustchain/internal/redo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dataDir    string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "trustchaind",
		Short: "Serve chain-of-trust event chains over the mesh wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Initialize(); err != nil {
				return err
			}
			if dataDir != "" {
				config.Set("log-path", dataDir)
			}
			return run(cmd.Context(), listenAddr)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "root directory for chain redo logs")
	cmd.Flags().StringVar(&listenAddr, "listen", fmt.Sprintf(":%d", 5000), "mesh listen address")
	return cmd
}

// daemon hosts every chain currently subscribed to, opening one lazily
// on first Subscribe per the mesh layer's per-chain-key routing.
type daemon struct {
	mu     sync.Mutex
	chains map[string]*openChain
	server *mesh.Server
	logger interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

type openChain struct {
	c *chain.Chain
	p pipe.Pipe
}

func (d *daemon) Open(ctx context.Context, chainKey string) (pipe.Pipe, mesh.HistorySource, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if oc, ok := d.chains[chainKey]; ok {
		return oc.p, &historySource{oc.c}, true, nil
	}

	cfg := chain.Config{
		Key: chainKey,
		Log: redo.Config{
			Path:          config.GetString("log-path") + "/" + chainKey,
			ReadCacheSize: config.GetInt("load-cache-size"),
			ReadCacheTTL:  config.GetDuration("load-cache-ttl"),
		},
		Compactors: []chain.Compactor{
			compact.RootAnchor{},
			compact.TombstoneWindow{Now: nowMS, Retention: 24 * time.Hour},
		},
		Linters:         []chain.Linter{chain.ConfidentialityLinter{}},
		Transformers:    []chain.Transformer{chain.ConfidentialityTransformer{}},
		WriteQueueDepth: config.GetInt("buffer-size-server"),
	}
	cfg.CompactMode, cfg.CompactInterval, cfg.CompactSizeBytes, cfg.CompactFactor = compactModeConfig()

	c, err := chain.Open(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	inbox := pipe.NewInbox(c)
	downcast := &pipe.ServerDowncast{ChainKey: chainKey, Downcaster: d.server, Next: inbox}
	d.chains[chainKey] = &openChain{c: c, p: downcast}
	return downcast, &historySource{c}, true, nil
}

func nowMS() int64 { return time.Now().UnixMilli() }

// compactModeConfig resolves the configured compact-mode string into
// chain's typed CompactMode plus whichever of interval/size/factor that
// mode consumes.
func compactModeConfig() (chain.CompactMode, time.Duration, int64, float64) {
	mode, interval, sizeBytes, factor := config.CompactModeValue()
	switch config.CompactMode(mode) {
	case config.CompactPeriodic:
		return chain.CompactPeriodic, interval, sizeBytes, factor
	case config.CompactSize:
		return chain.CompactSize, interval, sizeBytes, factor
	case config.CompactFactor:
		return chain.CompactFactor, interval, sizeBytes, factor
	case config.CompactGrowth:
		return chain.CompactGrowthFactor, interval, sizeBytes, factor
	default:
		return chain.CompactNever, interval, sizeBytes, factor
	}
}

// historySource implements mesh.HistorySource over one open chain's
// timeline, returning every event committed at or after fromMS.
type historySource struct {
	c *chain.Chain
}

func (h *historySource) Since(fromMS int64) []mesh.WireEvent {
	var out []mesh.WireEvent
	h.c.Timeline().Ascending(func(ts int64, hash event.Hash) bool {
		if ts < fromMS {
			return true
		}
		hdr, data, _, err := h.c.Log().Load(context.Background(), hash)
		if err != nil {
			return true
		}
		out = append(out, mesh.WireEvent{Meta: hdr.Meta, Data: data, Format: hdr.Format})
		return true
	})
	return out
}

func (h *historySource) IntegrityLabel() string {
	return h.c.IntegrityMode().String()
}

func (h *historySource) RootKeyHashes() []event.Hash {
	return nil
}

func run(ctx context.Context, listenAddr string) error {
	logger, _ := logging.New(logging.Config{JSON: true})

	d := &daemon{chains: make(map[string]*openChain), logger: logger}
	d.server = mesh.NewServer(d, logger)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("trustchaind: listen %s: %w", listenAddr, err)
	}
	logger.Info("listening", "addr", listenAddr)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-sigCtx.Done():
				return nil
			default:
				logger.Warn("accept failed", "error", err)
				continue
			}
		}
		go serveConn(sigCtx, d, conn)
	}
}

func serveConn(ctx context.Context, d *daemon, conn net.Conn) {
	defer conn.Close()
	c := &mesh.Conn{W: conn, Format: event.FormatJSON, Session: mesh.NewConnSession()}
	var subscribedKey string
	for {
		msg, err := mesh.ReadFrame(conn)
		if err != nil {
			if subscribedKey != "" {
				d.server.Disconnect(ctx, subscribedKey, c)
			}
			return
		}
		if msg.Kind == mesh.KindSubscribe {
			subscribedKey = msg.ChainKey
		}
		if err := d.server.Handle(ctx, c, msg); err != nil {
			d.logger.Warn("handle failed", "error", err)
		}
	}
}
