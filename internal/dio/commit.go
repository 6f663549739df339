package dio

import (
	"context"
	"fmt"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// Commit produces the ordered event batch for every staged mutation
// and feeds it through the chain's pipe in one all-or-nothing call. On
// failure the staged state is retained so the caller may retry or
// Cancel.
func (d *Dio) Commit(ctx context.Context) error {
	d.state.mu.Lock()
	if !d.state.hasUncommitted() {
		d.state.mu.Unlock()
		return nil
	}
	deleted := make([]event.PrimaryKey, 0, len(d.state.deleted))
	for k := range d.state.deleted {
		deleted = append(deleted, k)
	}
	stored := make([]*stagedRow, 0, len(d.state.store))
	for _, r := range d.state.store {
		if _, ok := d.state.deleted[r.Key]; ok {
			continue
		}
		stored = append(stored, r)
	}
	d.state.mu.Unlock()

	format := event.DefaultFormat
	now := d.chain.Clock().NowMS()
	txMeta := &chain.TransactionMetadata{}

	var events []event.Event

	for _, row := range stored {
		meta := event.Metadata{}
		meta.AddDataKey(row.Key)
		meta.AddTimestamp(now)
		if row.Auth.IsRelevant() {
			meta.AddAuthorization(row.Auth)
		}
		if row.Parent != nil {
			meta.AddParent(*row.Parent)
		} else if d.chain.DisableNewRoots() {
			return fmt.Errorf("dio: commit: new roots are disabled")
		}
		for _, ref := range row.Collections {
			meta.AddCollection(ref)
		}
		for _, extra := range row.ExtraMeta {
			meta.Add(extra)
		}
		if row.TypeName != "" {
			meta.AddTypeName(row.TypeName)
		}

		if err := lintEvent(&meta, d.session, txMeta, d.chain.Linters()); err != nil {
			return fmt.Errorf("dio: commit: lint stored row %s: %w", row.Key, err)
		}
		if key, ok := meta.DataKey(); ok {
			auth, _ := meta.GetAuthorization()
			txMeta.Authorization = &auth
			if parent, ok := meta.Parent(); ok && parent.ParentID != key {
				txMeta.Parent = &parent
			}
		}

		payload, err := applyUnderlay(&meta, row.DataBytes, d.session, txMeta, d.chain.Transformers(), d.chain.Plugins())
		if err != nil {
			return fmt.Errorf("dio: commit: underlay transform for %s: %w", row.Key, err)
		}

		events = append(events, event.Event{
			Header: event.Header{Meta: meta, Format: row.Format},
			Data:   payload,
		})
	}

	for _, key := range deleted {
		meta := event.Metadata{}
		meta.AddTimestamp(now)
		meta.AddAuthorization(event.PublicReadAuthorization)
		if parent, ok := d.chain.Timeline().LookupParent(key); ok {
			meta.AddParent(parent)
		}
		meta.AddTombstone(key)

		if err := lintEvent(&meta, d.session, txMeta, d.chain.Linters()); err != nil {
			return fmt.Errorf("dio: commit: lint tombstone for %s: %w", key, err)
		}

		events = append(events, event.Event{
			Header: event.Header{Meta: meta, Format: format},
		})
	}

	coverMeta, hasCover, err := lintMany(events, d.session, d.conversation, d.chain.BatchLinters())
	if err != nil {
		return fmt.Errorf("dio: commit: batch lint: %w", err)
	}
	if hasCover {
		events = append([]event.Event{{Header: event.Header{Meta: coverMeta, Format: format}}}, events...)
	}

	tx := pipe.Transaction{
		Scope:        d.scope,
		Transmit:     true,
		Events:       events,
		Conversation: d.conversation,
	}

	if err := d.pipe.Feed(ctx, tx); err != nil {
		return fmt.Errorf("dio: commit: feed: %w", err)
	}

	d.state.mu.Lock()
	d.state.store = nil
	d.state.deleted = make(map[event.PrimaryKey]struct{})
	d.state.cacheStorePrimary = make(map[event.PrimaryKey]*stagedRow)
	d.state.cacheStoreSecondary = make(map[event.CollectionRef][]event.PrimaryKey)
	for _, k := range deleted {
		delete(d.state.locked, k)
	}
	unlockKeys := make([]event.PrimaryKey, 0, len(d.state.pipeUnlock))
	for k := range d.state.pipeUnlock {
		unlockKeys = append(unlockKeys, k)
	}
	d.state.pipeUnlock = make(map[event.PrimaryKey]struct{})
	d.state.mu.Unlock()

	go func() {
		for _, k := range unlockKeys {
			_ = d.pipe.Unlock(context.Background(), k)
		}
	}()

	return nil
}

func lintEvent(meta *event.Metadata, session *chain.Session, txMeta *chain.TransactionMetadata, linters []chain.Linter) error {
	for _, l := range linters {
		if err := l.LintEvent(meta, session, txMeta); err != nil {
			return err
		}
	}
	return nil
}

func lintMany(events []event.Event, session *chain.Session, conv *pipe.ConversationSession, linters []chain.BatchLinter) (event.Metadata, bool, error) {
	lints := make([]event.Metadata, len(events))
	for i, ev := range events {
		lints[i] = ev.Header.Meta
	}
	var cover event.Metadata
	found := false
	for _, l := range linters {
		meta, ok, err := l.LintMany(lints, session, conv)
		if err != nil {
			return event.Metadata{}, false, err
		}
		if ok {
			cover.Core = append(cover.Core, meta.Core...)
			found = true
		}
	}
	return cover, found, nil
}
