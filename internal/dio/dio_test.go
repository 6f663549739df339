package dio

import (
	"context"
	"testing"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/clock"
	"github.com/untoldecay/trustchain/internal/event"
	"github.com/untoldecay/trustchain/internal/pipe"
	"github.com/untoldecay/trustchain/internal/redo"
)

type widget struct {
	Name  string
	Count int
}

func testChain(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := chain.Open(context.Background(), chain.Config{
		Key: "widgets",
		Log: redo.Config{
			Path:      "widgets",
			Store:     redo.NewMemArchiveStore(),
			Temporary: true,
		},
		Clock: clock.NewFixed(1000, 0),
		// Centralized: these tests exercise staging/commit semantics, not
		// per-event signing, which TestDistributedModeSignsAndVerifiesEvents
		// (internal/chain) covers directly.
		IntegrityMode: chain.Centralized,
	})
	if err != nil {
		t.Fatalf("chain.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testDio(t *testing.T) (*chain.Chain, *Dio) {
	t.Helper()
	c := testChain(t)
	inbox := pipe.NewInbox(c)
	d := New(c, inbox, nil, pipe.ScopeLocal)
	return c, d
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	dao, err := Store(d, widget{Name: "gizmo", Count: 3})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !d.HasUncommitted() {
		t.Fatal("HasUncommitted() = false after Store, want true")
	}

	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if d.HasUncommitted() {
		t.Fatal("HasUncommitted() = true after Commit, want false")
	}

	got, err := Load[widget](ctx, d, dao.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Row.Data.Name != "gizmo" || got.Row.Data.Count != 3 {
		t.Errorf("Load() data = %+v, want {gizmo 3}", got.Row.Data)
	}
}

func TestLoadMissingKeyReturnsNotFound(t *testing.T) {
	_, d := testDio(t)
	if _, err := Load[widget](context.Background(), d, event.NewPrimaryKey()); err != event.ErrNotFound {
		t.Errorf("Load(unknown key) = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenLoadReturnsAlreadyDeleted(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	dao, err := Store(d, widget{Name: "gadget"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := d.Delete(ctx, dao.Key()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Load[widget](ctx, d, dao.Key()); err != event.ErrAlreadyDeleted {
		t.Errorf("Load after staged Delete = %v, want ErrAlreadyDeleted", err)
	}

	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit delete: %v", err)
	}
	if _, err := Load[widget](ctx, d, dao.Key()); err != event.ErrAlreadyDeleted {
		t.Errorf("Load after committed Delete = %v, want ErrAlreadyDeleted", err)
	}
}

func TestDeleteTwiceReturnsAlreadyDeleted(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	dao, err := Store(d, widget{Name: "thing"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := d.Delete(ctx, dao.Key()); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := d.Delete(ctx, dao.Key()); err != event.ErrAlreadyDeleted {
		t.Errorf("second Delete = %v, want ErrAlreadyDeleted", err)
	}
}

func TestCancelDropsStagedMutations(t *testing.T) {
	_, d := testDio(t)
	if _, err := Store(d, widget{Name: "ephemeral"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !d.HasUncommitted() {
		t.Fatal("HasUncommitted() = false before Cancel, want true")
	}
	d.Cancel()
	if d.HasUncommitted() {
		t.Fatal("HasUncommitted() = true after Cancel, want false")
	}
}

func TestExistsReflectsStagedAndCommittedState(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	dao, err := Store(d, widget{Name: "exists-check"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !d.Exists(dao.Key()) {
		t.Error("Exists() = false for a freshly staged row, want true")
	}

	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !d.Exists(dao.Key()) {
		t.Error("Exists() = false for a committed row, want true")
	}

	if !d.Exists(dao.Key()) {
		t.Fatal("precondition: row should exist before delete")
	}
	if err := d.Delete(ctx, dao.Key()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if d.Exists(dao.Key()) {
		t.Error("Exists() = true after staged Delete, want false")
	}
}

func TestChildrenMergesCommittedAndStagedMembers(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	parentDao, err := Store(d, widget{Name: "parent"})
	if err != nil {
		t.Fatalf("Store parent: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit parent: %v", err)
	}

	ref := event.CollectionRef{ParentID: parentDao.Key(), CollectionID: 1}

	child1 := Make(d, widget{Name: "child-1"})
	child1.Parent = &event.ParentPointer{ParentID: parentDao.Key(), Collection: ref}
	if _, err := StageRow(d, child1); err != nil {
		t.Fatalf("StageRow child1: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit child1: %v", err)
	}

	child2 := Make(d, widget{Name: "child-2"})
	child2.Parent = &event.ParentPointer{ParentID: parentDao.Key(), Collection: ref}
	if _, err := StageRow(d, child2); err != nil {
		t.Fatalf("StageRow child2: %v", err)
	}

	kids, err := Children[widget](ctx, d, parentDao.Key(), 1)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("Children() returned %d rows, want 2", len(kids))
	}
}

func TestStageRowSkipsNoopReload(t *testing.T) {
	_, d := testDio(t)
	ctx := context.Background()

	dao, err := Store(d, widget{Name: "untouched", Count: 1})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	loaded, err := Load[widget](ctx, d, dao.Key())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := StageRow(d, loaded.Row); err != nil {
		t.Fatalf("StageRow(unmodified load): %v", err)
	}
	if d.HasUncommitted() {
		t.Error("StageRow of an untouched loaded row staged a no-op write")
	}
}

func TestAutoCancelFlag(t *testing.T) {
	_, d := testDio(t)
	d.AutoCancel()
	if !d.state.autoCancel {
		t.Error("AutoCancel() did not set state.autoCancel")
	}
}
