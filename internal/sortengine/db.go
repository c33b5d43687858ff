package sortengine

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotInJournal = errors.New("not found in rename journal")

// DB is the rename journal: one row per rename performed, so renames can be listed and undone.
type DB struct {
	filename string
	db       *sql.DB
}

type JournalEntry struct {
	ID           int64     `json:"id"`
	Original     string    `json:"original"`
	Renamed      string    `json:"renamed"`
	Epoch        int64     `json:"epoch"`
	Checksum100k string    `json:"checksum100k"`
	Size         int64     `json:"size"`
	RenamedAt    time.Time `json:"renamed_at"`
	Undone       bool      `json:"undone"`
}

func NewDB(filename string) (*DB, error) {
	d := &DB{filename: filename}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) Init() error {
	if dir := filepath.Dir(d.filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("unable to create journal directory: %w", err)
		}
	}

	var err error
	d.db, err = sql.Open("sqlite", d.filename)
	if err != nil {
		return fmt.Errorf("unable to open journal %s: %w", d.filename, err)
	}
	d.db.SetMaxOpenConns(1)

	stmt := `
	CREATE TABLE IF NOT EXISTS
		renames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original TEXT NOT NULL,
			renamed TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			checksum100k TEXT,
			size INTEGER,
			renamed_at INTEGER NOT NULL,
			undone INTEGER NOT NULL DEFAULT 0
		)
	`
	if err := d.DbExec(stmt); err != nil {
		d.db.Close()
		return fmt.Errorf("unable to initialise journal %s: %w", d.filename, err)
	}
	stmt = `CREATE INDEX IF NOT EXISTS renames_renamed ON renames (renamed)`
	if err := d.DbExec(stmt); err != nil {
		d.db.Close()
		return fmt.Errorf("unable to initialise journal %s: %w", d.filename, err)
	}
	return nil
}

func (d *DB) DbExec(stmt string) error {
	_, err := d.db.Exec(stmt)
	return err
}

func (d *DB) DbClose() error {
	return d.db.Close()
}

func (d *DB) AddRename(plan *RenamePlan, media *Media) error {
	stmt := `INSERT INTO renames (original, renamed, epoch, checksum100k, size, renamed_at) VALUES (?, ?, ?, ?, ?, ?)`
	original, err := filepath.Abs(plan.From)
	if err != nil {
		return err
	}
	renamed, err := filepath.Abs(plan.To)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		stmt,
		original,
		renamed,
		plan.Epoch,
		media.Checksum100k,
		media.Size,
		time.Now().Unix(),
	)
	return err
}

// LookupRenamed returns the latest rename that produced path and has not been undone.
func (d *DB) LookupRenamed(path string) (*JournalEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	row := d.db.QueryRow(`
		SELECT id, original, renamed, epoch, checksum100k, size, renamed_at, undone
		FROM renames
		WHERE renamed = ? AND undone = 0
		ORDER BY id DESC
		LIMIT 1`, abs)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotInJournal)
	}
	return entry, err
}

func (d *DB) MarkUndone(id int64) error {
	_, err := d.db.Exec(`UPDATE renames SET undone = 1 WHERE id = ?`, id)
	return err
}

// Count returns the number of renames in effect.
func (d *DB) Count() (int, error) {
	var result int
	err := d.db.QueryRow(`SELECT count(*) FROM renames WHERE undone = 0`).Scan(&result)
	return result, err
}

// History returns up to limit entries, newest first.
func (d *DB) History(limit int) ([]JournalEntry, error) {
	rows, err := d.db.Query(`
		SELECT id, original, renamed, epoch, checksum100k, size, renamed_at, undone
		FROM renames
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*JournalEntry, error) {
	var entry JournalEntry
	var checksum sql.NullString
	var size sql.NullInt64
	var renamedAt int64
	var undone int
	err := row.Scan(&entry.ID, &entry.Original, &entry.Renamed, &entry.Epoch, &checksum, &size, &renamedAt, &undone)
	if err != nil {
		return nil, err
	}
	entry.Checksum100k = checksum.String
	entry.Size = size.Int64
	entry.RenamedAt = time.Unix(renamedAt, 0).UTC()
	entry.Undone = undone != 0
	return &entry, nil
}
