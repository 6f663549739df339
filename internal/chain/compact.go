package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/timeline"
)

// compactWorker wakes on a periodic tick or a manual/size trigger and
// runs Compact, logging (never panicking on) failures so one bad
// compaction does not take the chain down.
func (c *Chain) compactWorker(ctx context.Context) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.compactMode == CompactPeriodic && c.compactInterval > 0 {
		ticker := time.NewTicker(c.compactInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.runCompactionSafely(ctx)
		case <-c.compactTrigger:
			if c.shouldCompactOnTrigger() {
				c.runCompactionSafely(ctx)
			}
		}
	}
}

func (c *Chain) shouldCompactOnTrigger() bool {
	switch c.compactMode {
	case CompactSize:
		return c.log.EventCount() > 0 && c.archiveProxySize() >= c.compactSizeBytes
	case CompactGrowthFactor:
		cur := c.archiveProxySize()
		if c.lastCompactSize == 0 {
			return cur >= c.compactSizeBytes
		}
		factor := c.compactFactor
		if factor <= 1 {
			factor = 2
		}
		return float64(cur) >= float64(c.lastCompactSize)*factor
	default:
		// CompactPeriodic and CompactNever never fire on a trigger;
		// CompactFactor fires on every trigger, as no dead-vs-live
		// counts are tracked.
		return c.compactMode == CompactFactor
	}
}

// archiveProxySize approximates archive growth by event count: the
// ArchiveStore abstraction does not expose aggregate byte totals
// cheaply, and event count tracks archive size closely enough to
// decide "has this chain grown since the last compaction".
func (c *Chain) archiveProxySize() int64 {
	return int64(c.log.EventCount())
}

func (c *Chain) runCompactionSafely(ctx context.Context) {
	if err := c.Compact(ctx); err != nil {
		c.logger.Error("compaction failed", "error", err)
	}
}

// Trigger asks the compactor worker for an out-of-band compaction
// pass. Whether it runs depends on CompactMode (shouldCompactOnTrigger):
// under CompactNever and CompactPeriodic it never does.
func (c *Chain) Trigger() {
	select {
	case c.compactTrigger <- struct{}{}:
	default:
	}
}

// Compact runs the flip-based rewrite procedure of take
// the exclusive write lock, open a flip log, walk the timeline
// ascending by timestamp keeping only events any compactor votes to
// keep (and none vetoes), copy survivors into the flip log, rebuild
// the timeline from it, then atomically swap archives.
func (c *Chain) Compact(ctx context.Context) error {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	flip, err := c.log.BeginFlip(nil)
	if err != nil {
		return fmt.Errorf("chain: begin flip: %w", err)
	}

	kept := 0
	var walkErr error
	c.tl.Ascending(func(_ int64, hash event.Hash) bool {
		if c.voteLocked(hash) != Keep {
			return true
		}
		if _, err := flip.CopyEvent(ctx, c.log, hash); err != nil {
			walkErr = fmt.Errorf("chain: copy_event %s: %w", hash, err)
			return false
		}
		kept++
		return true
	})
	if walkErr != nil {
		_ = flip.Close()
		return walkErr
	}

	newTL := timeline.New()
	records, errs := flip.History(ctx)
	for _, e := range errs {
		c.logger.Warn("compaction flip replay error", "error", e)
	}
	for _, rec := range records {
		newTL.AddHistory(rec.Header)
	}

	if err := c.log.MoveLogFile(ctx, flip); err != nil {
		return fmt.Errorf("chain: move_log_file: %w", err)
	}
	c.tl = newTL
	c.lastCompactSize = int64(kept)

	c.logger.Info("compaction complete", "kept", kept)
	return nil
}

// voteLocked asks every registered compactor whether hash is still
// relevant. An event is kept iff at least one compactor votes Keep and
// none votes Veto.
func (c *Chain) voteLocked(hash event.Hash) Vote {
	hdr, _, _, err := c.log.Load(context.Background(), hash)
	if err != nil {
		return Abstain
	}
	best := Abstain
	for _, comp := range c.pol.compactors {
		switch comp.Vote(hdr) {
		case Veto:
			return Veto
		case Keep:
			best = Keep
		}
	}
	return best
}
