package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists TTL entries in a single `kv` table so that multiple
// gateway instances can share state through one database file. Expirations
// are stored as unix milliseconds so an entry never reads as expired before
// its instant; reads apply the same lazy-expiry rule as the memory backend.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to init database: %v", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			namespace   TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       BLOB NOT NULL,
			expiration  INTEGER NOT NULL,
			PRIMARY KEY (namespace, key)
		);`,
	)
	if err != nil {
		return fmt.Errorf("failed to init 'kv' table schema: %v", err)
	}
	return nil
}

func (s *SQLiteStore) SetWithExpiry(
	namespace string,
	key string,
	value []byte,
	expiration time.Time,
) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (namespace, key, value, expiration)
		VALUES (?1, ?2, ?3, ?4)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value=?3, expiration=?4;`,
		namespace,
		key,
		value,
		expiration.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("couldn't insert into kv: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Get(
	namespace string,
	key string,
) (
	[]byte,
	bool,
	error,
) {
	row := s.db.QueryRow(`
		SELECT value, expiration
		FROM kv
		WHERE namespace=?1 AND key=?2;`,
		namespace,
		key,
	)

	var value []byte
	var expiration int64
	err := row.Scan(&value, &expiration)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("couldn't scan kv row: %v", err)
	}
	if expiration <= s.now().UnixMilli() {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Delete(
	namespace string,
	key string,
) (
	bool,
	error,
) {
	result, err := s.db.Exec(`
		DELETE FROM kv
		WHERE namespace=?1 AND key=?2;`,
		namespace,
		key,
	)
	if err != nil {
		return false, fmt.Errorf("couldn't delete from kv: %v", err)
	}

	deleted := !resultsEmpty(result)
	return deleted, nil
}

func (s *SQLiteStore) Sweep(
	now time.Time,
) (
	int,
	error,
) {
	result, err := s.db.Exec(`
		DELETE FROM kv
		WHERE expiration <= ?1;`,
		now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("couldn't sweep kv: %v", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(count), nil
}

func resultsEmpty(result sql.Result) bool {
	count, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return count == 0
}
