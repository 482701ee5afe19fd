// Package codecache persists compiled code objects in a SQL database.
// Entries are keyed by a digest of the source and the generator
// settings, so an edited file or a changed option misses cleanly.
// Stub calls are stored by name and rebuilt from the live stub cache
// on load.
package codecache

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	// Database drivers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite" // pure Go driver, keeps the cache cgo-free

	"stratus/internal/asm"
	"stratus/internal/codegen"
	"stratus/internal/stubs"
)

// Store is a persistent compiled-code cache.
type Store struct {
	db     *sql.DB
	driver string
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int64
	Bytes   int64
}

// Open connects to the cache database and ensures the schema.
func Open(driver, dsn string) (*Store, error) {
	var driverName string
	switch driver {
	case "sqlite", "sqlite3":
		driverName = "sqlite"
	case "postgres", "postgresql":
		driverName = "postgres"
	case "mysql":
		driverName = "mysql"
	default:
		return nil, errors.Errorf("unsupported cache driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s cache", driverName)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect %s cache", driverName)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, driver: driverName}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	blob := "BLOB"
	switch s.driver {
	case "postgres":
		blob = "BYTEA"
	case "mysql":
		blob = "LONGBLOB"
	}
	_, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS code_cache (
		cache_key VARCHAR(64) PRIMARY KEY,
		entry_id  VARCHAR(36) NOT NULL,
		name      VARCHAR(255) NOT NULL,
		created   VARCHAR(32) NOT NULL,
		payload   %s NOT NULL
	)`, blob))
	return errors.Wrap(err, "create cache schema")
}

// rebind converts ? placeholders to the $N form postgres expects.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Key derives the cache key for a source unit compiled under opts.
func Key(source string, opts codegen.Options) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("v%d|smi=%t|cmp=%t|depth=%d|%s",
		wireVersion, opts.InlineSmiOps, opts.CompareFastPaths, opts.MaxDepth, source)))
	return hex.EncodeToString(sum[:])
}

// Put stores code under key, replacing any previous entry.
func (s *Store) Put(key string, code *asm.Code) error {
	payload, err := encode(code)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin cache write")
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM code_cache WHERE cache_key = ?"), key); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "evict cache entry")
	}
	_, err = tx.Exec(
		s.rebind("INSERT INTO code_cache (cache_key, entry_id, name, created, payload) VALUES (?, ?, ?, ?, ?)"),
		key, uuid.New().String(), code.Name, time.Now().UTC().Format(time.RFC3339), payload,
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "store cache entry")
	}
	return errors.Wrap(tx.Commit(), "commit cache write")
}

// Get loads the entry under key, resolving stub references through
// cache. A missing key is not an error.
func (s *Store) Get(key string, cache *stubs.Cache) (*asm.Code, bool, error) {
	var payload []byte
	err := s.db.QueryRow(s.rebind("SELECT payload FROM code_cache WHERE cache_key = ?"), key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "load cache entry")
	}
	code, err := decode(payload, cache)
	if err != nil {
		return nil, false, err
	}
	return code, true, nil
}

// Stats reports entry count and total payload bytes.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM code_cache").Scan(&st.Entries, &st.Bytes)
	return st, errors.Wrap(err, "read cache stats")
}

// Clear removes every entry.
func (s *Store) Clear() error {
	_, err := s.db.Exec("DELETE FROM code_cache")
	return errors.Wrap(err, "clear cache")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
