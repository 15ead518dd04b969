package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/faeln1/go-whatsapp-council/pkg/keylock"
)

// SQLDialect captures the differences between the supported SQL engines.
type SQLDialect struct {
	Name string
	// rowLock is appended to single-row reads inside update transactions.
	rowLock string
	// collectionLock serializes whole-collection rewrites across processes.
	collectionLock string
	positional     bool
}

var (
	DialectPostgres = SQLDialect{
		Name:           "postgres",
		rowLock:        " FOR UPDATE",
		collectionLock: "SELECT pg_advisory_xact_lock(hashtext(?))",
		positional:     true,
	}
	// SQLite relies on _txlock=immediate: every transaction takes the write lock at BEGIN.
	DialectSQLite = SQLDialect{Name: "sqlite"}
)

// rebind turns ? placeholders into $n for engines that need them.
func (d SQLDialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlWorkflowStore struct {
	db      *sql.DB
	dialect SQLDialect
	keys    *keylock.Locker
	gatesMu sync.Mutex
	gates   map[string]*sync.RWMutex
	now     func() time.Time
}

// NewSQLWorkflowStore stores records in a single workflow_records table.
func NewSQLWorkflowStore(db *sql.DB, dialect SQLDialect) (WorkflowStore, error) {
	s := &sqlWorkflowStore{
		db:      db,
		dialect: dialect,
		keys:    keylock.New(),
		gates:   make(map[string]*sync.RWMutex),
		now:     time.Now,
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlWorkflowStore) ensureSchema() error {
	const createTable = `
        CREATE TABLE IF NOT EXISTS workflow_records (
            community_id TEXT NOT NULL,
            collection TEXT NOT NULL,
            record_key TEXT NOT NULL,
            payload TEXT NOT NULL,
            seq BIGINT NOT NULL,
            updated_at BIGINT NOT NULL,
            PRIMARY KEY (community_id, collection, record_key)
        )`
	if _, err := s.db.Exec(createTable); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_workflow_records_seq ON workflow_records (community_id, collection, seq)`); err != nil {
		return err
	}
	return nil
}

func (s *sqlWorkflowStore) gate(communityID string, collection Collection) *sync.RWMutex {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	id := communityID + "\x00" + string(collection)
	g, ok := s.gates[id]
	if !ok {
		g = &sync.RWMutex{}
		s.gates[id] = g
	}
	return g
}

func (s *sqlWorkflowStore) Get(ctx context.Context, communityID string, collection Collection, key string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
        SELECT payload FROM workflow_records
        WHERE community_id = ? AND collection = ? AND record_key = ?`),
		communityID, string(collection), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (s *sqlWorkflowStore) Put(ctx context.Context, communityID string, collection Collection, key string, value []byte) error {
	return s.Upsert(ctx, communityID, collection, key, func([]byte) ([]byte, error) { return value, nil })
}

func (s *sqlWorkflowStore) Delete(ctx context.Context, communityID string, collection Collection, key string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
        DELETE FROM workflow_records WHERE community_id = ? AND collection = ? AND record_key = ?`),
		communityID, string(collection), key)
	return err
}

func (s *sqlWorkflowStore) List(ctx context.Context, communityID string, collection Collection) ([]Entry, error) {
	return listEntries(ctx, s.db, s.dialect, communityID, collection)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listEntries(ctx context.Context, q queryer, d SQLDialect, communityID string, collection Collection) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, d.rebind(`
        SELECT record_key, payload FROM workflow_records
        WHERE community_id = ? AND collection = ?
        ORDER BY seq, record_key`), communityID, string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: key, Value: []byte(payload)})
	}
	return out, rows.Err()
}

func (s *sqlWorkflowStore) UpdateIfPresent(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) (bool, error) {
	found := false
	err := s.update(ctx, communityID, collection, key, func(current []byte) ([]byte, error) {
		if current == nil {
			found = false
			return nil, ErrSkipUpdate
		}
		found = true
		return mutate(current)
	})
	return found, err
}

func (s *sqlWorkflowStore) Upsert(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) error {
	return s.update(ctx, communityID, collection, key, mutate)
}

func (s *sqlWorkflowStore) update(ctx context.Context, communityID string, collection Collection, key string, mutate Mutator) error {
	g := s.gate(communityID, collection)
	g.RLock()
	defer g.RUnlock()
	unlock := s.keys.Lock(lockKey(communityID, collection, key))
	defer unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			payload string
			current []byte
		)
		err := tx.QueryRowContext(ctx, s.dialect.rebind(`
            SELECT payload FROM workflow_records
            WHERE community_id = ? AND collection = ? AND record_key = ?`+s.dialect.rowLock),
			communityID, string(collection), key).Scan(&payload)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			current = []byte(payload)
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}
		now := s.now().UTC().UnixNano()
		if next == nil {
			_, err = tx.ExecContext(ctx, s.dialect.rebind(`
                DELETE FROM workflow_records WHERE community_id = ? AND collection = ? AND record_key = ?`),
				communityID, string(collection), key)
			return err
		}
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`
            INSERT INTO workflow_records (community_id, collection, record_key, payload, seq, updated_at)
            VALUES (?, ?, ?, ?, ?, ?)
            ON CONFLICT (community_id, collection, record_key)
            DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`),
			communityID, string(collection), key, string(next), now, now)
		return err
	})
}

func (s *sqlWorkflowStore) UpdateCollection(ctx context.Context, communityID string, collection Collection, mutate CollectionMutator) error {
	g := s.gate(communityID, collection)
	g.Lock()
	defer g.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if s.dialect.collectionLock != "" {
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(s.dialect.collectionLock), communityID+"/"+string(collection)); err != nil {
				return err
			}
		}
		rows, err := tx.QueryContext(ctx, s.dialect.rebind(`
            SELECT record_key, seq FROM workflow_records
            WHERE community_id = ? AND collection = ?`), communityID, string(collection))
		if err != nil {
			return err
		}
		seqs := make(map[string]int64)
		for rows.Next() {
			var (
				key string
				seq int64
			)
			if err := rows.Scan(&key, &seq); err != nil {
				rows.Close()
				return err
			}
			seqs[key] = seq
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		current, err := listEntries(ctx, tx, s.dialect, communityID, collection)
		if err != nil {
			return err
		}
		next, err := mutate(current)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
            DELETE FROM workflow_records WHERE community_id = ? AND collection = ?`),
			communityID, string(collection)); err != nil {
			return err
		}
		now := s.now().UTC().UnixNano()
		for i, e := range next {
			if e.Value == nil {
				continue
			}
			seq, ok := seqs[e.Key]
			if !ok {
				seq = now + int64(i)
			}
			if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
                INSERT INTO workflow_records (community_id, collection, record_key, payload, seq, updated_at)
                VALUES (?, ?, ?, ?, ?, ?)`),
				communityID, string(collection), e.Key, string(e.Value), seq, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// withTx retries transactions the engine aborted for contention.
func (s *sqlWorkflowStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyTxError(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if errors.Is(err, ErrSkipUpdate) {
				return nil
			}
			return classifyTxError(err)
		}
		return classifyTxError(tx.Commit())
	}, backoff.WithContext(bo, ctx))
}

func classifyTxError(err error) error {
	if err == nil || isContention(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isContention(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func (s *sqlWorkflowStore) Communities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT community_id FROM workflow_records ORDER BY community_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlWorkflowStore) Close() error {
	return s.db.Close()
}

// DialectFor maps a driver name to its dialect.
func DialectFor(driver string) (SQLDialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		return DialectPostgres, nil
	case "sqlite":
		return DialectSQLite, nil
	}
	return SQLDialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}
