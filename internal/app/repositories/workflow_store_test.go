package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

func storeBackends(t *testing.T) map[string]WorkflowStore {
	t.Helper()
	fileStore, err := NewFileWorkflowStore(t.TempDir(), waLog.Noop)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_txlock=immediate", filepath.Join(t.TempDir(), "wf.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlStore, err := NewSQLWorkflowStore(db, DialectSQLite)
	if err != nil {
		t.Fatalf("sql store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]WorkflowStore{
		"memory": NewInMemoryWorkflowStore(),
		"file":   fileStore,
		"sqlite": sqlStore,
	}
}

func TestWorkflowStoreBasics(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "c1", CollectionProposals, "missing"); !errors.Is(err, ErrRecordNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			for _, k := range []string{"b", "a", "c"} {
				if err := store.Put(ctx, "c1", CollectionProposals, k, []byte(`{"id":"`+k+`"}`)); err != nil {
					t.Fatalf("put %s: %v", k, err)
				}
			}
			if err := store.Put(ctx, "c1", CollectionProposals, "b", []byte(`{"id":"b","v":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			entries, err := store.List(ctx, "c1", CollectionProposals)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(entries) != 3 || entries[0].Key != "b" || entries[1].Key != "a" || entries[2].Key != "c" {
				t.Fatalf("expected insertion order b,a,c got %+v", entries)
			}

			found, err := store.UpdateIfPresent(ctx, "c1", CollectionProposals, "zzz", func([]byte) ([]byte, error) {
				t.Fatalf("mutate must not run for an absent key")
				return nil, nil
			})
			if err != nil || found {
				t.Fatalf("expected absent key to report false, got %v %v", found, err)
			}
			if _, err := store.Get(ctx, "c1", CollectionProposals, "zzz"); !errors.Is(err, ErrRecordNotFound) {
				t.Fatalf("update-if-present must not create records")
			}

			if err := store.Delete(ctx, "c1", CollectionProposals, "a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := store.Delete(ctx, "c1", CollectionProposals, "a"); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
			if entries, _ := store.List(ctx, "c2", CollectionProposals); len(entries) != 0 {
				t.Fatalf("communities must be isolated")
			}
			communities, err := store.Communities(ctx)
			if err != nil || len(communities) != 1 || communities[0] != "c1" {
				t.Fatalf("unexpected communities %v %v", communities, err)
			}
		})
	}
}

func TestWorkflowStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.Upsert(ctx, "c1", CollectionScores, "g1", func(current []byte) ([]byte, error) {
						n := 0
						if current != nil {
							n, _ = strconv.Atoi(string(current))
						}
						return []byte(strconv.Itoa(n + 1)), nil
					})
					if err != nil {
						t.Errorf("upsert: %v", err)
					}
				}()
			}
			wg.Wait()
			raw, err := store.Get(ctx, "c1", CollectionScores, "g1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(raw) != "20" {
				t.Fatalf("expected 20 serialized increments, got %s", raw)
			}
		})
	}
}

func TestUpdateCollectionKeepsOrderAndDeletes(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"g1", "g2", "g3"} {
				if err := store.Put(ctx, "c1", CollectionScores, k, []byte("5")); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			err := store.UpdateCollection(ctx, "c1", CollectionScores, func(entries []Entry) ([]Entry, error) {
				out := make([]Entry, 0, len(entries))
				for _, e := range entries {
					if e.Key == "g2" {
						continue
					}
					out = append(out, Entry{Key: e.Key, Value: []byte("0")})
				}
				return append(out, Entry{Key: "g0", Value: []byte("0")}), nil
			})
			if err != nil {
				t.Fatalf("update collection: %v", err)
			}
			entries, _ := store.List(ctx, "c1", CollectionScores)
			if len(entries) != 3 || entries[0].Key != "g1" || entries[1].Key != "g3" || entries[2].Key != "g0" {
				t.Fatalf("unexpected entries %+v", entries)
			}
			for _, e := range entries {
				if string(e.Value) != "0" {
					t.Fatalf("expected reset value for %s, got %s", e.Key, e.Value)
				}
			}
		})
	}
}

func TestFileStoreReloadsAndSurvivesCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileWorkflowStore(dir, waLog.Noop)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "c1", CollectionCircles, "g1", []byte(`{"id":"g1"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "c1", CollectionCircles, "g2", []byte(`{"id":"g2"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	reopened, err := NewFileWorkflowStore(dir, waLog.Noop)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	entries, _ := reopened.List(ctx, "c1", CollectionCircles)
	if len(entries) != 2 || entries[0].Key != "g1" {
		t.Fatalf("expected reloaded entries in order, got %+v", entries)
	}

	if err := os.WriteFile(filepath.Join(dir, string(CollectionBallots)+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	again, err := NewFileWorkflowStore(dir, waLog.Noop)
	if err != nil {
		t.Fatalf("open with corrupt collection: %v", err)
	}
	if entries, _ := again.List(ctx, "c1", CollectionBallots); len(entries) != 0 {
		t.Fatalf("corrupt collection should load empty")
	}
	if entries, _ := again.List(ctx, "c1", CollectionCircles); len(entries) != 2 {
		t.Fatalf("healthy collections must survive a corrupt sibling")
	}
	if err := again.Put(ctx, "c1", CollectionBallots, "b1", []byte("not json")); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("file store should reject non-JSON records, got %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	got := DialectPostgres.rebind("SELECT a FROM t WHERE x = ? AND y = ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	if DialectSQLite.rebind("x = ?") != "x = ?" {
		t.Fatalf("sqlite keeps question marks")
	}
}

func TestFileStoreRollsBackFailedWrites(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	store, err := NewFileWorkflowStore(dir, waLog.Noop)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "c1", CollectionTallies, "k", []byte(`{"votes":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "c1", CollectionScores, "g1", []byte(`{"score":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	if _, err := store.UpdateIfPresent(ctx, "c1", CollectionTallies, "k", func([]byte) ([]byte, error) {
		return []byte(`{"votes":2}`), nil
	}); err == nil {
		t.Fatalf("update should fail without a data directory")
	}
	if got, _ := store.Get(ctx, "c1", CollectionTallies, "k"); string(got) != `{"votes":1}` {
		t.Fatalf("failed update must not stay visible, got %s", got)
	}

	if err := store.Upsert(ctx, "c1", CollectionTallies, "new", func([]byte) ([]byte, error) {
		return []byte(`{}`), nil
	}); err == nil {
		t.Fatalf("upsert should fail without a data directory")
	}
	if _, err := store.Get(ctx, "c1", CollectionTallies, "new"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("failed insert must be rolled back, got %v", err)
	}

	if err := store.Delete(ctx, "c1", CollectionTallies, "k"); err == nil {
		t.Fatalf("delete should fail without a data directory")
	}
	if _, err := store.Get(ctx, "c1", CollectionTallies, "k"); err != nil {
		t.Fatalf("failed delete must be rolled back, got %v", err)
	}

	if err := store.UpdateCollection(ctx, "c1", CollectionScores, func([]Entry) ([]Entry, error) {
		return []Entry{{Key: "g2", Value: []byte(`{"score":0}`)}}, nil
	}); err == nil {
		t.Fatalf("collection rewrite should fail without a data directory")
	}
	entries, _ := store.List(ctx, "c1", CollectionScores)
	if len(entries) != 1 || entries[0].Key != "g1" || string(entries[0].Value) != `{"score":1}` {
		t.Fatalf("failed rewrite must be rolled back, got %+v", entries)
	}
}
