package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/particulate.report/internal/pms"
)

// ErrNoReadings is returned when a query expects at least one stored
// reading and the table is empty.
var ErrNoReadings = errors.New("no readings recorded")

// dbTimeLayout is RFC3339 with fixed-width milliseconds so the TEXT column
// sorts chronologically and stays readable in ad-hoc SQL.
const dbTimeLayout = "2006-01-02T15:04:05.000Z07:00"

type DB struct {
	*sql.DB
}

// OpenDB opens the SQLite database at path without touching the schema.
// Use NewDB unless the caller manages migrations itself, like the migrate
// subcommand does.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Reading is one stored sensor frame. SessionID groups readings taken in
// the same wake cycle.
type Reading struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session"`
	RecordedAt time.Time `json:"at"`
	pms.Frame
}

// RecordReading inserts one reading. A zero RecordedAt is stamped with the
// current time.
func (db *DB) RecordReading(r Reading) error {
	recordedAt := r.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO readings (
			session_id, recorded_at,
			pm1_std, pm25_std, pm10_std,
			pm1_atm, pm25_atm, pm10_atm,
			count_0p3um, count_0p5um, count_1p0um,
			count_2p5um, count_5p0um, count_10um
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, recordedAt.UTC().Format(dbTimeLayout),
		r.PM1Std, r.PM25Std, r.PM10Std,
		r.PM1Atm, r.PM25Atm, r.PM10Atm,
		r.Count0p3, r.Count0p5, r.Count1p0,
		r.Count2p5, r.Count5p0, r.Count10,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

const readingColumns = `
	id, session_id, recorded_at,
	pm1_std, pm25_std, pm10_std,
	pm1_atm, pm25_atm, pm10_atm,
	count_0p3um, count_0p5um, count_1p0um,
	count_2p5um, count_5p0um, count_10um`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (Reading, error) {
	var r Reading
	var recordedAt string
	err := row.Scan(
		&r.ID, &r.SessionID, &recordedAt,
		&r.PM1Std, &r.PM25Std, &r.PM10Std,
		&r.PM1Atm, &r.PM25Atm, &r.PM10Atm,
		&r.Count0p3, &r.Count0p5, &r.Count1p0,
		&r.Count2p5, &r.Count5p0, &r.Count10,
	)
	if err != nil {
		return Reading{}, err
	}
	r.RecordedAt, err = time.Parse(dbTimeLayout, recordedAt)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to parse recorded_at %q: %w", recordedAt, err)
	}
	return r, nil
}

// LatestReading returns the most recently inserted reading.
func (db *DB) LatestReading() (Reading, error) {
	row := db.QueryRow(`SELECT` + readingColumns + ` FROM readings ORDER BY id DESC LIMIT 1`)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reading{}, ErrNoReadings
	}
	if err != nil {
		return Reading{}, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return r, nil
}

// Readings returns up to limit readings, newest first.
func (db *DB) Readings(limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT`+readingColumns+` FROM readings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()
	return collectReadings(rows)
}

// ReadingsSince returns up to limit readings recorded at or after since,
// newest first.
func (db *DB) ReadingsSince(since time.Time, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT`+readingColumns+` FROM readings WHERE recorded_at >= ? ORDER BY id DESC LIMIT ?`,
		since.UTC().Format(dbTimeLayout), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings since %v: %w", since, err)
	}
	defer rows.Close()
	return collectReadings(rows)
}

func collectReadings(rows *sql.Rows) ([]Reading, error) {
	var readings []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// CountReadings returns the total number of stored readings.
func (db *DB) CountReadings() (int64, error) {
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://particulate.db", db.DB, &tailsql.DBOptions{
		Label: "Particulate DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
