// Package chain implements the chain-of-trust core: it owns one chain
// key's redo log and timeline, runs every
// validator/linter/transformer/plugin over events flowing through it,
// replays history at open, and drives background compaction.
package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/untoldecay/trustchain/internal/clock"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
	"github.com/untoldecay/trustchain/internal/redo"
	"github.com/untoldecay/trustchain/internal/timeline"
)

// HistoryLoader observes every header replayed at open time, in
// addition to the chain's own timeline indexing; the mesh layer uses
// this to prime subscriber start-of-history cursors.
type HistoryLoader interface {
	LoadHistory(hdr event.Header)
}

// Config configures one Chain.
type Config struct {
	Key    string
	Log    redo.Config
	Clock  clock.Source
	Logger *slog.Logger

	IntegrityMode IntegrityMode
	DefaultSession *Session
	// TrustedRoots maps a root key's hash (event.RootKeyHash) to the
	// public key itself, consulted by SignatureValidator under
	// Distributed integrity mode. Unused under Centralized.
	TrustedRoots map[event.Hash]ed25519.PublicKey

	Validators   []Validator
	Linters      []Linter
	BatchLinters []BatchLinter
	Transformers []Transformer
	Plugins      []Plugin
	Listeners    []Listener
	Compactors   []Compactor
	ExtraLoader  HistoryLoader

	// AllowProcessErrors, when true, logs and skips per-event history
	// replay errors instead of aborting Open.
	AllowProcessErrors bool

	// DisableNewRoots refuses DIO commits that introduce a root whose
	// parent is absent.
	DisableNewRoots bool

	CompactMode       CompactMode
	CompactInterval   time.Duration
	CompactSizeBytes  int64
	CompactFactor     float64

	// WriteQueueDepth bounds the inbound-write worker's channel.
	WriteQueueDepth int
}

// policy is the write-biased synchronous section of the chain: state
// that changes rarely and is read on every event.
type policy struct {
	mu sync.RWMutex

	validators   []Validator
	linters      []Linter
	batchLinters []BatchLinter
	transformers []Transformer
	plugins      []Plugin
	listeners    []Listener
	compactors   []Compactor

	defaultSession *Session
	integrityMode  IntegrityMode
	disableNewRoots bool
}

// Chain is one chain key's redo log, timeline, and policy stack.
type Chain struct {
	key    string
	logger *slog.Logger
	clock  clock.Source

	log *redo.Log

	pol policy

	// asyncMu guards the mutable chain+timeline pair below.
	asyncMu  sync.RWMutex
	tl       *timeline.Timeline
	closed   bool

	writeCh chan writeRequest
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	compactMode      CompactMode
	compactInterval  time.Duration
	compactSizeBytes int64
	compactFactor    float64
	compactTrigger   chan struct{}
	lastCompactSize  int64

	watchMu  sync.Mutex
	watchers map[int]*watcher
	nextWatcherID int
}

type watcher struct {
	predicate func(event.Header) bool
	ch        chan event.Header
}

type writeRequest struct {
	tx   pipe.Transaction
	done chan error
}

// Open runs the open sequence of replay history into a
// fresh timeline, then start the inbound-write worker and (unless
// CompactMode is CompactNever) the compactor worker.
func Open(ctx context.Context, cfg Config) (*Chain, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := cfg.Clock
	if src == nil {
		src = clock.NewSystem(0)
	}
	depth := cfg.WriteQueueDepth
	if depth <= 0 {
		depth = 256
	}

	log, err := redo.Open(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("chain: open redo log for %s: %w", cfg.Key, err)
	}

	validators := append([]Validator{TimestampValidator{Clock: src}}, cfg.Validators...)
	linters := cfg.Linters
	if cfg.IntegrityMode == Distributed {
		validators = append(validators, SignatureValidator{TrustedRoots: cfg.TrustedRoots})
		// SigningLinter must run last: it signs the event's final
		// metadata, so every other linter's additions (authorization,
		// encryption IV, ...) need to already be in place.
		linters = append(append([]Linter{}, linters...), SigningLinter{})
	}

	c := &Chain{
		key:    cfg.Key,
		logger: logger.With("chain", cfg.Key),
		clock:  src,
		log:    log,
		tl:     timeline.New(),
		pol: policy{
			validators:      validators,
			linters:         linters,
			batchLinters:    cfg.BatchLinters,
			transformers:    cfg.Transformers,
			plugins:         cfg.Plugins,
			listeners:       cfg.Listeners,
			compactors:      cfg.Compactors,
			defaultSession:  cfg.DefaultSession,
			integrityMode:   cfg.IntegrityMode,
			disableNewRoots: cfg.DisableNewRoots,
		},
		writeCh:          make(chan writeRequest, depth),
		compactMode:      cfg.CompactMode,
		compactInterval:  cfg.CompactInterval,
		compactSizeBytes: cfg.CompactSizeBytes,
		compactFactor:    cfg.CompactFactor,
		compactTrigger:   make(chan struct{}, 1),
		watchers:         make(map[int]*watcher),
	}

	records, errs := log.History(ctx)
	for _, e := range errs {
		c.logger.Warn("history replay error", "error", e)
	}
	if err := c.process(records, cfg.ExtraLoader, cfg.AllowProcessErrors); err != nil {
		_ = log.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.writeWorker(runCtx)

	if cfg.CompactMode != CompactNever {
		c.wg.Add(1)
		go c.compactWorker(runCtx)
	}

	return c, nil
}

// process folds every replayed record into the timeline, applying
// validators but not linters (linters only run on outbound commits).
// A fatal error aborts unless allowErrors is set, in which case the
// offending record is logged and skipped.
func (c *Chain) process(records []redo.HistoryRecord, extra HistoryLoader, allowErrors bool) error {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	for _, rec := range records {
		if err := c.validateLocked(rec.Header); err != nil {
			if allowErrors {
				c.logger.Warn("dropping invalid history record", "hash", rec.Header.Hash, "error", err)
				continue
			}
			return fmt.Errorf("chain: validate history record %s: %w", rec.Header.Hash, err)
		}
		c.tl.AddHistory(rec.Header)
		if extra != nil {
			extra.LoadHistory(rec.Header)
		}
		for _, l := range c.pol.listeners {
			l.OnEvent(rec.Header)
		}
	}
	return nil
}

func (c *Chain) validateLocked(hdr event.Header) error {
	var errs event.ValidationErrors
	for _, v := range c.pol.validators {
		if err := v.Validate(hdr); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errs
}

// Timeline returns the chain's in-memory index. Callers must not
// retain it past a Compact() call without re-fetching, since
// compaction replaces it wholesale.
func (c *Chain) Timeline() *timeline.Timeline {
	c.asyncMu.RLock()
	defer c.asyncMu.RUnlock()
	return c.tl
}

// Log returns the chain's redo log.
func (c *Chain) Log() *redo.Log { return c.log }

// IntegrityMode returns the mode this chain enforces.
func (c *Chain) IntegrityMode() IntegrityMode {
	c.pol.mu.RLock()
	defer c.pol.mu.RUnlock()
	return c.pol.integrityMode
}

// DefaultSession returns the session DIOs use when none is supplied
// explicitly.
func (c *Chain) DefaultSession() *Session {
	c.pol.mu.RLock()
	defer c.pol.mu.RUnlock()
	return c.pol.defaultSession
}

// DisableNewRoots reports whether new parentless roots are refused.
func (c *Chain) DisableNewRoots() bool {
	c.pol.mu.RLock()
	defer c.pol.mu.RUnlock()
	return c.pol.disableNewRoots
}

// Linters, BatchLinters, Transformers, Plugins, Validators expose the
// policy stack to the dio package, which runs them as part of commit.
func (c *Chain) Linters() []Linter           { c.pol.mu.RLock(); defer c.pol.mu.RUnlock(); return c.pol.linters }
func (c *Chain) BatchLinters() []BatchLinter { c.pol.mu.RLock(); defer c.pol.mu.RUnlock(); return c.pol.batchLinters }
func (c *Chain) Transformers() []Transformer { c.pol.mu.RLock(); defer c.pol.mu.RUnlock(); return c.pol.transformers }
func (c *Chain) Plugins() []Plugin           { c.pol.mu.RLock(); defer c.pol.mu.RUnlock(); return c.pol.plugins }

// Clock returns the chain's time source.
func (c *Chain) Clock() clock.Source { return c.clock }

// Enqueue implements pipe.Sink: it hands tx to the inbound-write
// worker and blocks until it is appended and indexed. Scope ScopeNone
// still waits for local append since the
// worker is the only path to the log; only replication confirmation
// (ScopeFull) would require a network round trip, which the mesh
// layer layers on top by awaiting subscriber Confirmed messages after
// Enqueue returns.
func (c *Chain) Enqueue(ctx context.Context, tx pipe.Transaction) error {
	req := writeRequest{tx: tx, done: make(chan error, 1)}
	select {
	case c.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chain) writeWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.writeCh:
			req.done <- c.appendTransaction(ctx, req.tx)
		}
	}
}

func (c *Chain) appendTransaction(ctx context.Context, tx pipe.Transaction) error {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	for _, ev := range tx.Events {
		candidate := event.Header{Meta: ev.Header.Meta, Format: ev.Header.Format}
		if err := c.validateLocked(candidate); err != nil {
			return fmt.Errorf("chain: validate event: %w", err)
		}
	}

	headers := make([]event.Header, 0, len(tx.Events))
	for _, ev := range tx.Events {
		hdr, _, err := c.log.Write(ctx, ev.Header.Meta, ev.Data, ev.Header.Format)
		if err != nil {
			return fmt.Errorf("chain: append event: %w", err)
		}
		headers = append(headers, hdr)
	}
	for _, hdr := range headers {
		c.tl.AddHistory(hdr)
		for _, l := range c.pol.listeners {
			l.OnEvent(hdr)
		}
		c.notifyWatchers(hdr)
	}

	c.maybeTriggerCompaction()
	return nil
}

func (c *Chain) maybeTriggerCompaction() {
	if c.compactMode != CompactSize && c.compactMode != CompactGrowthFactor {
		return
	}
	select {
	case c.compactTrigger <- struct{}{}:
	default:
	}
}

// Watch registers a one-shot sniff for the next appended event that
// satisfies predicate, used to await a reply to an in-flight Invoke
// request. The returned channel receives at most one header; cancel
// unregisters the watcher (the channel is never sent to nor closed
// after cancel returns, so a caller that also selects on ctx.Done
// does not race a late send).
func (c *Chain) Watch(predicate func(event.Header) bool) (ch <-chan event.Header, cancel func()) {
	c.watchMu.Lock()
	id := c.nextWatcherID
	c.nextWatcherID++
	w := &watcher{predicate: predicate, ch: make(chan event.Header, 1)}
	c.watchers[id] = w
	c.watchMu.Unlock()

	cancelFn := func() {
		c.watchMu.Lock()
		delete(c.watchers, id)
		c.watchMu.Unlock()
	}
	return w.ch, cancelFn
}

func (c *Chain) notifyWatchers(hdr event.Header) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	for id, w := range c.watchers {
		if w.predicate(hdr) {
			select {
			case w.ch <- hdr:
			default:
			}
			delete(c.watchers, id)
		}
	}
}

// Close stops the background workers and closes the redo log.
func (c *Chain) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.log.Close()
}
