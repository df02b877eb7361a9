package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/skein/api"
)

// A fact archive is a SQLite database holding the facts of one source file,
// flattened into rows that point at their parent fact.
const archiveSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS facts (
	id INTEGER PRIMARY KEY,
	parent_id INTEGER,
	ord INTEGER NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	record JSON NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_parent ON facts(parent_id, ord);
`

// ArchiveInfo describes where an archive's facts came from.
type ArchiveInfo struct {
	Source   string
	Language string
}

// WriteArchive writes facts into a new SQLite database at dbPath.
func WriteArchive(dbPath string, info ArchiveInfo, facts []api.Fact) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		return err
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	for k, v := range map[string]string{"source": info.Source, "language": info.Language} {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
	}
	if _, err := tx.Exec("DELETE FROM facts"); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO facts (id, parent_id, ord, kind, name, record) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var nextID int64
	var insert func(parent sql.NullInt64, facts []api.Fact) error
	insert = func(parent sql.NullInt64, facts []api.Fact) error {
		for i, f := range facts {
			nextID++
			id := nextID
			flat := f
			flat.Children = nil
			record, err := json.Marshal(flat)
			if err != nil {
				return fmt.Errorf("encode fact %s: %w", f.Name, err)
			}
			if _, err := stmt.Exec(id, parent, i, string(f.Kind), f.Name, string(record)); err != nil {
				return fmt.Errorf("insert fact %s: %w", f.Name, err)
			}
			if err := insert(sql.NullInt64{Int64: id, Valid: true}, f.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(sql.NullInt64{}, facts); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadArchive loads the facts stored in the database at dbPath.
func ReadArchive(dbPath string) (ArchiveInfo, []api.Fact, error) {
	var info ArchiveInfo
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return info, nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query("SELECT key, value FROM meta")
	if err != nil {
		return info, nil, fmt.Errorf("query meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return info, nil, fmt.Errorf("scan meta: %w", err)
		}
		switch k {
		case "source":
			info.Source = v
		case "language":
			info.Language = v
		}
	}
	_ = rows.Close()

	// Ids are assigned in preorder, so a parent always precedes its
	// children and siblings come out in declaration order.
	rows, err = db.Query("SELECT id, parent_id, record FROM facts ORDER BY id")
	if err != nil {
		return info, nil, fmt.Errorf("query facts: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	type row struct {
		fact     api.Fact
		children []int64
	}
	byID := map[int64]*row{}
	var roots []int64
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		var raw string
		if err := rows.Scan(&id, &parent, &raw); err != nil {
			return info, nil, fmt.Errorf("scan fact: %w", err)
		}
		r := &row{}
		if err := json.Unmarshal([]byte(raw), &r.fact); err != nil {
			return info, nil, fmt.Errorf("parse fact json: %w", err)
		}
		byID[id] = r
		if !parent.Valid {
			roots = append(roots, id)
			continue
		}
		p, ok := byID[parent.Int64]
		if !ok {
			return info, nil, fmt.Errorf("fact %d has unknown parent %d", id, parent.Int64)
		}
		p.children = append(p.children, id)
	}
	if err := rows.Err(); err != nil {
		return info, nil, err
	}

	var build func(id int64) api.Fact
	build = func(id int64) api.Fact {
		r := byID[id]
		f := r.fact
		f.Children = nil
		for _, c := range r.children {
			f.Children = append(f.Children, build(c))
		}
		return f
	}
	facts := make([]api.Fact, 0, len(roots))
	for _, id := range roots {
		facts = append(facts, build(id))
	}
	return info, facts, nil
}

// EncodeArchive renders facts as archive bytes, for writing through a
// storage that is not a local directory.
func EncodeArchive(info ArchiveInfo, facts []api.Fact) ([]byte, error) {
	tmp, err := os.CreateTemp("", "skein-archive-*.facts")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := WriteArchive(tmpPath, info, facts); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpPath)
}

// DecodeArchive reads archive bytes by extracting them to a temp file,
// since the SQLite driver opens databases by path.
func DecodeArchive(data []byte) (ArchiveInfo, []api.Fact, error) {
	if len(data) == 0 {
		return ArchiveInfo{}, nil, errors.New("empty fact archive")
	}
	tmp, err := os.CreateTemp("", "skein-archive-*.facts")
	if err != nil {
		return ArchiveInfo{}, nil, err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return ArchiveInfo{}, nil, fmt.Errorf("extract archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ArchiveInfo{}, nil, fmt.Errorf("extract archive: %w", err)
	}
	return ReadArchive(tmpPath)
}

// ArchiveProducer serves the facts stored in a fact archive.
type ArchiveProducer struct{}

// Facts implements Producer.
func (ArchiveProducer) Facts(_ context.Context, path string, content []byte) ([]api.Fact, error) {
	_, facts, err := DecodeArchive(content)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return facts, nil
}
