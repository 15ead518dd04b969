package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

// SQLiteDSN is the connection string shared by the device store and the
// sqlite workflow store.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
}

// StoreFactory creates one sqlstore container per session under baseDir.
type StoreFactory struct {
	baseDir string
	log     waLog.Logger
	mu      sync.Mutex
}

func NewStoreFactory(baseDir string, log waLog.Logger) *StoreFactory {
	if log == nil {
		log = waLog.Noop
	}
	return &StoreFactory{baseDir: baseDir, log: log}
}

func (f *StoreFactory) EnsureDir() error {
	return os.MkdirAll(f.baseDir, 0o755)
}

func (f *StoreFactory) NewDeviceStore(ctx context.Context, sessionName string) (*sqlstore.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.EnsureDir(); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(f.baseDir, fmt.Sprintf("%s.db", sessionName))
	return sqlstore.New(ctx, "sqlite", SQLiteDSN(dbPath), f.log.Sub("DB"))
}
