package dio

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
)

// Dio is a short-lived handle on a chain bound to a session, holding
// staged mutations until Commit.
type Dio struct {
	chain        *chain.Chain
	pipe         pipe.Pipe
	session      *chain.Session
	scope        pipe.Scope
	conversation *pipe.ConversationSession
	state        *state
}

// New opens a Dio scope against c, feeding commits through p under
// session with the given durability scope.
func New(c *chain.Chain, p pipe.Pipe, session *chain.Session, scope pipe.Scope) *Dio {
	if session == nil {
		session = c.DefaultSession()
	}
	var conv *pipe.ConversationSession
	if p != nil {
		conv = p.Conversation()
	}
	return &Dio{
		chain:        c,
		pipe:         p,
		session:      session,
		scope:        scope,
		conversation: conv,
		state:        newState(),
	}
}

// AutoCancel marks this scope to silently discard staged work when it
// is abandoned, instead of the caller being expected to call Cancel
// explicitly.
func (d *Dio) AutoCancel() { d.state.autoCancel = true }

// HasUncommitted reports whether any row is staged for store or
// delete.
func (d *Dio) HasUncommitted() bool { return d.state.hasUncommitted() }

// Cancel drops every staged mutation without touching the chain.
func (d *Dio) Cancel() {
	d.state.store = nil
	d.state.cacheStorePrimary = make(map[event.PrimaryKey]*stagedRow)
	d.state.cacheStoreSecondary = make(map[event.CollectionRef][]event.PrimaryKey)
	d.state.deleted = make(map[event.PrimaryKey]struct{})
}

// Make builds an in-memory row not yet visible on the chain: no key
// collision check, no staging. Call Store (or stage it manually) to
// schedule it for commit.
func Make[D any](d *Dio, data D) Row[D] {
	return MakeWithKey(d, data, event.NewPrimaryKey())
}

// MakeWithKey is Make with a caller-supplied primary key.
func MakeWithKey[D any](d *Dio, data D, key event.PrimaryKey) Row[D] {
	return Row[D]{
		Key:      key,
		TypeName: typeName[D](),
		Data:     data,
		Format:   event.DefaultFormat,
	}
}

// Store builds a row and immediately stages it for commit.
func Store[D any](d *Dio, data D) (*Dao[D], error) {
	row := Make(d, data)
	return StageRow(d, row)
}

// StageRow stages an already-built row (typically returned by Make,
// after the caller set Parent/Auth/Collections) for commit.
func StageRow[D any](d *Dio, row Row[D]) (*Dao[D], error) {
	encoded, err := event.EncodeData(row.Data, row.Format.Data)
	if err != nil {
		return nil, fmt.Errorf("dio: encode %s: %w", row.TypeName, err)
	}
	sr := &stagedRow{
		Key:         row.Key,
		TypeName:    row.TypeName,
		Parent:      row.Parent,
		DataBytes:   encoded,
		Auth:        row.Auth,
		Collections: row.Collections,
		Format:      row.Format,
		ExtraMeta:   row.ExtraMeta,
	}

	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	// Skip re-staging a row that came straight from a Load and was
	// never actually touched: the structural hash of row.Data still
	// matches what was read off the chain, so committing it would be a
	// no-op write.
	if entry, ok := d.state.cacheLoad[row.Key]; ok && !row.Auth.IsRelevant() {
		if h, err := hashstructure.Hash(row.Data, hashstructure.FormatV2, nil); err == nil && h == entry.DataHash {
			return &Dao[D]{Row: row}, nil
		}
	}

	d.state.dirty(sr)
	return &Dao[D]{Row: row}, nil
}

// Delete stages a tombstone for key: it acquires the local lock (via
// the pipe's distributed lock when available) and refuses if the key
// is already locked by another in-flight transaction.
func (d *Dio) Delete(ctx context.Context, key event.PrimaryKey) error {
	d.state.mu.Lock()
	if _, already := d.state.deleted[key]; already {
		d.state.mu.Unlock()
		return event.ErrAlreadyDeleted
	}
	if d.state.isLocked(key) {
		d.state.mu.Unlock()
		return event.ErrObjectStillLocked
	}
	d.state.mu.Unlock()

	if d.pipe != nil {
		ok, err := d.pipe.TryLock(ctx, key)
		if err != nil {
			return fmt.Errorf("dio: try_lock %s: %w", key, err)
		}
		if !ok {
			return event.ErrObjectStillLocked
		}
		d.state.mu.Lock()
		d.state.pipeUnlock[key] = struct{}{}
		d.state.mu.Unlock()
	}

	var parentPtr *event.ParentPointer
	if p, ok := d.chain.Timeline().LookupParent(key); ok {
		parentPtr = &p
	}

	d.state.mu.Lock()
	d.state.addDeleted(key, parentPtr)
	d.state.mu.Unlock()
	return nil
}

// Exists is a cheap membership test honoring the dirty state.
func (d *Dio) Exists(key event.PrimaryKey) bool {
	d.state.mu.Lock()
	if _, ok := d.state.cacheStorePrimary[key]; ok {
		d.state.mu.Unlock()
		return true
	}
	if _, ok := d.state.cacheLoad[key]; ok {
		d.state.mu.Unlock()
		return true
	}
	if _, ok := d.state.deleted[key]; ok {
		d.state.mu.Unlock()
		return false
	}
	d.state.mu.Unlock()

	_, ok := d.chain.Timeline().LookupPrimary(key)
	return ok
}

// Load returns the latest committed record for key, checking the
// local dirty cache first, then the load cache, then the chain itself.
func Load[D any](ctx context.Context, d *Dio, key event.PrimaryKey) (*Dao[D], error) {
	d.state.mu.Lock()
	if _, ok := d.state.deleted[key]; ok {
		d.state.mu.Unlock()
		return nil, event.ErrAlreadyDeleted
	}
	if d.state.isLocked(key) {
		d.state.mu.Unlock()
		return nil, event.ErrObjectStillLocked
	}
	if sr, ok := d.state.cacheStorePrimary[key]; ok {
		d.state.mu.Unlock()
		return daoFromStaged[D](sr)
	}
	if entry, ok := d.state.cacheLoad[key]; ok {
		d.state.mu.Unlock()
		return daoFromLoaded[D](entry)
	}
	d.state.mu.Unlock()

	leaf, ok := d.chain.Timeline().LookupPrimary(key)
	if !ok {
		if d.chain.Timeline().IsTombstoned(key) {
			return nil, event.ErrAlreadyDeleted
		}
		return nil, event.ErrNotFound
	}

	hdr, raw, _, err := d.chain.Log().Load(ctx, leaf.Hash)
	if err != nil {
		return nil, fmt.Errorf("dio: load %s: %w", key, err)
	}

	data, err := applyOverlay(hdr.Meta, raw, d.session, d.chain.Transformers(), d.chain.Plugins())
	if err != nil {
		if d.session != nil && d.session.AllowMissingReadKeys {
			data = nil
		} else {
			return nil, &event.TransformationError{Err: err}
		}
	}

	entry := &loadedEntry{Header: hdr, Data: data, Leaf: leaf}
	dao, err := daoFromLoaded[D](entry)
	if err != nil {
		return nil, err
	}
	entry.DataHash, _ = hashstructure.Hash(dao.Row.Data, hashstructure.FormatV2, nil)

	d.state.mu.Lock()
	d.state.cacheLoad[key] = entry
	d.state.mu.Unlock()

	return dao, nil
}

func daoFromStaged[D any](sr *stagedRow) (*Dao[D], error) {
	var data D
	if err := event.DecodeData(sr.DataBytes, sr.Format.Data, &data); err != nil {
		return nil, fmt.Errorf("dio: decode staged %s: %w", sr.TypeName, err)
	}
	return &Dao[D]{Row: Row[D]{
		Key: sr.Key, TypeName: sr.TypeName, Parent: sr.Parent, Data: data,
		Auth: sr.Auth, Collections: sr.Collections, Format: sr.Format, ExtraMeta: sr.ExtraMeta,
	}}, nil
}

func daoFromLoaded[D any](entry *loadedEntry) (*Dao[D], error) {
	var data D
	if entry.Data != nil {
		if err := event.DecodeData(entry.Data, entry.Header.Format.Data, &data); err != nil {
			return nil, fmt.Errorf("dio: decode loaded row: %w", err)
		}
	}
	key, _ := entry.Header.Meta.DataKey()
	var parent *event.ParentPointer
	if p, ok := entry.Header.Meta.Parent(); ok {
		parent = &p
	}
	auth, _ := entry.Header.Meta.GetAuthorization()
	typeName, _ := entry.Header.Meta.TypeName()
	return &Dao[D]{Row: Row[D]{
		Key: key, TypeName: typeName, Parent: parent, Data: data,
		Auth: auth, Format: entry.Header.Format,
		CreatedMS: entry.Leaf.CreatedMS, UpdatedMS: entry.Leaf.UpdatedMS,
	}}, nil
}

// Children merges the chain's secondary index for (parentID,
// collectionID) with locally staged children, omitting any locally
// deleted entries, and fails if any member is locked.
func Children[D any](ctx context.Context, d *Dio, parentID event.PrimaryKey, collectionID uint64) ([]*Dao[D], error) {
	ref := event.CollectionRef{ParentID: parentID, CollectionID: collectionID}

	keys := d.chain.Timeline().LookupSecondaryRaw(ref)
	seen := make(map[event.PrimaryKey]struct{}, len(keys))
	var out []*Dao[D]

	for _, k := range keys {
		seen[k] = struct{}{}
		dao, err := Load[D](ctx, d, k)
		if err != nil {
			if errors.Is(err, event.ErrObjectStillLocked) {
				return nil, err
			}
			continue
		}
		out = append(out, dao)
	}

	d.state.mu.Lock()
	locals := append([]event.PrimaryKey(nil), d.state.cacheStoreSecondary[ref]...)
	d.state.mu.Unlock()

	for _, k := range locals {
		if _, already := seen[k]; already {
			continue
		}
		seen[k] = struct{}{}
		d.state.mu.Lock()
		if _, deleted := d.state.deleted[k]; deleted {
			d.state.mu.Unlock()
			continue
		}
		if d.state.isLocked(k) {
			d.state.mu.Unlock()
			return nil, event.ErrObjectStillLocked
		}
		sr := d.state.cacheStorePrimary[k]
		d.state.mu.Unlock()
		if sr == nil {
			continue
		}
		dao, err := daoFromStaged[D](sr)
		if err != nil {
			return nil, err
		}
		out = append(out, dao)
	}

	return out, nil
}
