package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/camapply/admissions-stats/internal/record"
)

// SchemaVersion is bumped whenever the flat row layout changes, so an
// old database is detected instead of silently corrupted.
const SchemaVersion = 1

const createSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS applications (
	id INTEGER PRIMARY KEY,
	apply_id INTEGER NOT NULL,
	year INTEGER NOT NULL,
	grades TEXT NOT NULL,
	gcse_nines INTEGER,
	tmua_paper1_state INTEGER NOT NULL,
	tmua_paper1 REAL NOT NULL,
	tmua_paper2_state INTEGER NOT NULL,
	tmua_paper2 REAL NOT NULL,
	tmua_overall_state INTEGER NOT NULL,
	tmua_overall REAL NOT NULL,
	outcome TEXT NOT NULL,
	source_page INTEGER NOT NULL,
	source_row INTEGER NOT NULL
);
`

// SQLiteStore persists records in a SQLite database. Inserts only; the
// table carries no update or delete path.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and verifies the
// schema version.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if _, err := db.Exec(createSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, SchemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	case version != SchemaVersion:
		db.Close()
		return nil, fmt.Errorf("database schema version %d does not match expected %d", version, SchemaVersion)
	}

	return &SQLiteStore{db: db}, nil
}

const insertRecord = `
INSERT INTO applications (
	id, apply_id, year, grades, gcse_nines,
	tmua_paper1_state, tmua_paper1,
	tmua_paper2_state, tmua_paper2,
	tmua_overall_state, tmua_overall,
	outcome, source_page, source_row
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Put inserts one record, rejecting duplicate IDs.
func (s *SQLiteStore) Put(rec record.ApplicationRecord) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM applications WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check record id %d: %w", rec.ID, err)
	}
	if exists > 0 {
		return &ConflictError{ID: rec.ID}
	}
	_, err := s.db.Exec(insertRecord, insertArgs(rec)...)
	if err != nil {
		return fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
	}
	return nil
}

// PutAll inserts a whole run in one transaction; any failure rolls the
// entire run back.
func (s *SQLiteStore) PutAll(recs []record.ApplicationRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertRecord)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM applications WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to check record id %d: %w", rec.ID, err)
		}
		if exists > 0 {
			tx.Rollback()
			return &ConflictError{ID: rec.ID}
		}
		if _, err := stmt.Exec(insertArgs(rec)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record %d: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// All returns every stored record.
func (s *SQLiteStore) All() ([]record.ApplicationRecord, error) {
	return s.query(`SELECT id, apply_id, year, grades, gcse_nines,
		tmua_paper1_state, tmua_paper1, tmua_paper2_state, tmua_paper2,
		tmua_overall_state, tmua_overall, outcome, source_page, source_row
		FROM applications`)
}

// Filter returns the records matching the predicate. Filtering happens
// in process; the record set is small enough that pushing predicates
// into SQL buys nothing.
func (s *SQLiteStore) Filter(pred func(record.ApplicationRecord) bool) ([]record.ApplicationRecord, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var out []record.ApplicationRecord
	for _, rec := range all {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) query(q string, args ...any) ([]record.ApplicationRecord, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []record.ApplicationRecord
	for rows.Next() {
		var (
			rec     record.ApplicationRecord
			grades  string
			nines   sql.NullInt64
			p1s     int
			p1      float64
			p2s     int
			p2      float64
			ovs     int
			ov      float64
			outcome string
		)
		if err := rows.Scan(
			&rec.ID, &rec.ApplyID, &rec.Year, &grades, &nines,
			&p1s, &p1, &p2s, &p2, &ovs, &ov,
			&outcome, &rec.SourcePage, &rec.SourceRow,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if nines.Valid {
			rec.GCSENines = record.KnownCount(int(nines.Int64))
		}
		rec.TMUA = record.TMUA{
			Paper1:  record.Score{Value: p1, State: record.ScoreState(p1s)},
			Paper2:  record.Score{Value: p2, State: record.ScoreState(p2s)},
			Overall: record.Score{Value: ov, State: record.ScoreState(ovs)},
		}
		parsed, ok := record.ParseOutcome(outcome)
		if !ok {
			return nil, fmt.Errorf("stored record %d has unknown outcome %q", rec.ID, outcome)
		}
		rec.Outcome = parsed
		pairs, err := decodeGrades(grades)
		if err != nil {
			return nil, fmt.Errorf("stored record %d: %w", rec.ID, err)
		}
		rec.PredictedGrades = pairs
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertArgs(rec record.ApplicationRecord) []any {
	var nines any
	if rec.GCSENines.Known {
		nines = rec.GCSENines.Value
	}
	return []any{
		rec.ID, rec.ApplyID, rec.Year, encodeGrades(rec.PredictedGrades), nines,
		int(rec.TMUA.Paper1.State), rec.TMUA.Paper1.Value,
		int(rec.TMUA.Paper2.State), rec.TMUA.Paper2.Value,
		int(rec.TMUA.Overall.State), rec.TMUA.Overall.Value,
		rec.Outcome.String(), rec.SourcePage, rec.SourceRow,
	}
}

// encodeGrades flattens subject/grade pairs into a single text column,
// "Mathematics=A*|Physics=A". Subjects never contain the separators.
func encodeGrades(pairs []record.SubjectGrade) string {
	parts := make([]string, 0, len(pairs))
	for _, sg := range pairs {
		parts = append(parts, sg.Subject+"="+sg.Grade.String())
	}
	return strings.Join(parts, "|")
}

func decodeGrades(encoded string) ([]record.SubjectGrade, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, "|")
	pairs := make([]record.SubjectGrade, 0, len(parts))
	for _, part := range parts {
		subject, token, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed grade entry %q", part)
		}
		grade, ok := record.ParseGrade(token)
		if !ok {
			return nil, fmt.Errorf("malformed grade token %q", token)
		}
		pairs = append(pairs, record.SubjectGrade{Subject: subject, Grade: grade})
	}
	return pairs, nil
}
