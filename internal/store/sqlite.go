package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/boxlite/internal/boxerr"
	"github.com/cuemby/boxlite/internal/boxid"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/boxtypes"
)

type sqliteStore struct {
	db *sql.DB
}

// Open creates (or opens) the SQLite database at path, applies the WAL /
// full-sync / foreign-key / busy-timeout pragmas, and runs schema
// initialization.
func Open(path string) (BoxStore, error) {
	const op = "store.Open"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, boxerr.Storage(op, fmt.Errorf("create db dir: %w", err))
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_busy_timeout=%d",
		path, defaultBusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, boxerr.Storage(op, fmt.Errorf("open sqlite: %w", err))
	}
	// A single connection: bbolt-style single-writer semantics, and
	// avoids SQLITE_BUSY races between pooled *sql.DB connections.
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS boxes (
	id           TEXT PRIMARY KEY,
	name         TEXT UNIQUE,
	status       TEXT NOT NULL,
	pid          INTEGER,
	container_id TEXT,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	config_json  TEXT NOT NULL,
	state_json   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *sqliteStore) initSchema() error {
	const op = "store.initSchema"
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return boxerr.Storage(op, fmt.Errorf("apply schema: %w", err))
	}

	row := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var raw string
	switch err := row.Scan(&raw); err {
	case sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES ('schema_version', ?)`,
			fmt.Sprintf("%d", SchemaVersion)); err != nil {
			return boxerr.Storage(op, fmt.Errorf("write schema_version: %w", err))
		}
		boxlog.WithComponent("store").Info().Int("version", SchemaVersion).Msg("initialized schema_version")
	case nil:
		var version int
		if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
			return boxerr.Storage(op, fmt.Errorf("parse schema_version %q: %w", raw, err))
		}
		switch {
		case version > SchemaVersion:
			return boxerr.Storage(op, fmt.Errorf(
				"database schema version %d is newer than this binary supports (%d); please upgrade boxlite",
				version, SchemaVersion))
		case version < SchemaVersion:
			boxlog.WithComponent("store").Warn().
				Int("db_version", version).Int("binary_version", SchemaVersion).
				Msg("database schema is older than this binary; migrations not yet implemented, proceeding un-migrated")
		}
	default:
		return boxerr.Storage(op, fmt.Errorf("read schema_version: %w", err))
	}
	return nil
}

func (s *sqliteStore) Save(cfg boxtypes.Config, st boxtypes.State) error {
	const op = "store.Save"
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return boxerr.Internal(op, fmt.Errorf("marshal config: %w", err))
	}
	stJSON, err := json.Marshal(st)
	if err != nil {
		return boxerr.Internal(op, fmt.Errorf("marshal state: %w", err))
	}

	var name any
	if cfg.Name != "" {
		name = cfg.Name
	}
	var pid any
	if st.PID != nil {
		pid = *st.PID
	}

	_, err = s.db.Exec(`
		INSERT INTO boxes(id, name, status, pid, container_id, created_at, updated_at, config_json, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, status=excluded.status, pid=excluded.pid,
			container_id=excluded.container_id, updated_at=excluded.updated_at,
			config_json=excluded.config_json, state_json=excluded.state_json
	`, string(cfg.ID), name, string(st.Status), pid, st.ContainerID,
		cfg.CreatedAt.UTC().Format(time.RFC3339Nano), st.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(cfgJSON), string(stJSON))
	if err != nil {
		return boxerr.Storage(op, fmt.Errorf("upsert box %s: %w", cfg.ID, err))
	}
	return nil
}

func (s *sqliteStore) UpdateStatus(id boxid.ID, status boxtypes.Status) error {
	const op = "store.UpdateStatus"
	return s.updateStateField(op, id, func(st *boxtypes.State) { st.Status = status })
}

func (s *sqliteStore) UpdatePID(id boxid.ID, pid *int32) error {
	const op = "store.UpdatePID"
	return s.updateStateField(op, id, func(st *boxtypes.State) { st.PID = pid })
}

func (s *sqliteStore) UpdateContainerID(id boxid.ID, containerID string) error {
	const op = "store.UpdateContainerID"
	return s.updateStateField(op, id, func(st *boxtypes.State) { st.ContainerID = containerID })
}

// updateStateField reads the current state blob, applies mutate, and
// writes it back along with the denormalized indexed columns, all
// inside one transaction so a concurrent reader never observes a
// half-updated row.
func (s *sqliteStore) updateStateField(op string, id boxid.ID, mutate func(*boxtypes.State)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return boxerr.Storage(op, err)
	}
	defer tx.Rollback()

	var stJSON string
	err = tx.QueryRow(`SELECT state_json FROM boxes WHERE id = ?`, string(id)).Scan(&stJSON)
	if err == sql.ErrNoRows {
		return boxerr.NotFoundf(op, "box %s not found", id)
	}
	if err != nil {
		return boxerr.Storage(op, err)
	}

	var st boxtypes.State
	if err := json.Unmarshal([]byte(stJSON), &st); err != nil {
		return boxerr.Internal(op, fmt.Errorf("unmarshal state: %w", err))
	}
	mutate(&st)
	st.UpdatedAt = time.Now().UTC()

	newJSON, err := json.Marshal(st)
	if err != nil {
		return boxerr.Internal(op, fmt.Errorf("marshal state: %w", err))
	}

	var pid any
	if st.PID != nil {
		pid = *st.PID
	}
	_, err = tx.Exec(`
		UPDATE boxes SET status=?, pid=?, container_id=?, updated_at=?, state_json=? WHERE id=?
	`, string(st.Status), pid, st.ContainerID, st.UpdatedAt.Format(time.RFC3339Nano), string(newJSON), string(id))
	if err != nil {
		return boxerr.Storage(op, err)
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(id boxid.ID) (boxtypes.Config, boxtypes.State, error) {
	const op = "store.Get"
	return s.scanOne(op, `SELECT config_json, state_json FROM boxes WHERE id = ?`, string(id))
}

func (s *sqliteStore) GetByName(name string) (boxtypes.Config, boxtypes.State, error) {
	const op = "store.GetByName"
	return s.scanOne(op, `SELECT config_json, state_json FROM boxes WHERE name = ?`, name)
}

func (s *sqliteStore) scanOne(op, query, arg string) (boxtypes.Config, boxtypes.State, error) {
	var cfgJSON, stJSON string
	err := s.db.QueryRow(query, arg).Scan(&cfgJSON, &stJSON)
	if err == sql.ErrNoRows {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.NotFoundf(op, "box %q not found", arg)
	}
	if err != nil {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.Storage(op, err)
	}
	var cfg boxtypes.Config
	var st boxtypes.State
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.Internal(op, fmt.Errorf("unmarshal config: %w", err))
	}
	if err := json.Unmarshal([]byte(stJSON), &st); err != nil {
		return boxtypes.Config{}, boxtypes.State{}, boxerr.Internal(op, fmt.Errorf("unmarshal state: %w", err))
	}
	return cfg, st, nil
}

func (s *sqliteStore) ListAll() ([]Record, error) {
	const op = "store.ListAll"
	rows, err := s.db.Query(`SELECT config_json, state_json FROM boxes`)
	if err != nil {
		return nil, boxerr.Storage(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var cfgJSON, stJSON string
		if err := rows.Scan(&cfgJSON, &stJSON); err != nil {
			return nil, boxerr.Storage(op, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
			return nil, boxerr.Internal(op, fmt.Errorf("unmarshal config: %w", err))
		}
		if err := json.Unmarshal([]byte(stJSON), &rec.State); err != nil {
			return nil, boxerr.Internal(op, fmt.Errorf("unmarshal state: %w", err))
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, boxerr.Storage(op, err)
	}
	return out, nil
}

func (s *sqliteStore) Delete(id boxid.ID) error {
	const op = "store.Delete"
	res, err := s.db.Exec(`DELETE FROM boxes WHERE id = ?`, string(id))
	if err != nil {
		return boxerr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return boxerr.Storage(op, err)
	}
	if n == 0 {
		return boxerr.NotFoundf(op, "box %s not found", id)
	}
	return nil
}

func (s *sqliteStore) CheckAndUpdateBoot(current string) (bool, error) {
	const op = "store.CheckAndUpdateBoot"
	tx, err := s.db.Begin()
	if err != nil {
		return false, boxerr.Storage(op, err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRow(`SELECT value FROM meta WHERE key = 'boot_epoch'`).Scan(&previous)
	rebooted := false
	switch err {
	case sql.ErrNoRows:
		rebooted = false // first run ever, nothing to reconcile
	case nil:
		rebooted = previous != current && current != ""
	default:
		return false, boxerr.Storage(op, err)
	}

	_, err = tx.Exec(`INSERT INTO meta(key, value) VALUES ('boot_epoch', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, current)
	if err != nil {
		return false, boxerr.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, boxerr.Storage(op, err)
	}
	return rebooted, nil
}

func (s *sqliteStore) ResetActiveAfterReboot() ([]boxid.ID, error) {
	const op = "store.ResetActiveAfterReboot"
	tx, err := s.db.Begin()
	if err != nil {
		return nil, boxerr.Storage(op, err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, state_json FROM boxes WHERE status IN (?, ?)`,
		string(boxtypes.StatusStarting), string(boxtypes.StatusRunning))
	if err != nil {
		return nil, boxerr.Storage(op, err)
	}
	type pending struct {
		id      string
		stJSON  string
	}
	var affected []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.stJSON); err != nil {
			rows.Close()
			return nil, boxerr.Storage(op, err)
		}
		affected = append(affected, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, boxerr.Storage(op, err)
	}

	var ids []boxid.ID
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, p := range affected {
		var st boxtypes.State
		if err := json.Unmarshal([]byte(p.stJSON), &st); err != nil {
			return nil, boxerr.Internal(op, fmt.Errorf("unmarshal state for %s: %w", p.id, err))
		}
		st.Status = boxtypes.StatusStopped
		st.PID = nil
		st.UpdatedAt = time.Now().UTC()
		newJSON, err := json.Marshal(st)
		if err != nil {
			return nil, boxerr.Internal(op, fmt.Errorf("marshal state for %s: %w", p.id, err))
		}
		_, err = tx.Exec(`UPDATE boxes SET status=?, pid=NULL, updated_at=?, state_json=? WHERE id=?`,
			string(boxtypes.StatusStopped), now, string(newJSON), p.id)
		if err != nil {
			return nil, boxerr.Storage(op, err)
		}
		ids = append(ids, boxid.ID(p.id))
	}

	if err := tx.Commit(); err != nil {
		return nil, boxerr.Storage(op, err)
	}
	return ids, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
