package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/regrets-agent/internal/models"
	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

const installationUUIDKey = "extension_installation_uuid"

type Database struct {
	db               *sql.DB
	validRecordTypes map[models.Type]bool
	now              func() time.Time
}

// StoredRecord is a telemetry record as it was handed to the sink.
type StoredRecord struct {
	ID                         int64            `json:"id"`
	TSUTC                      int64            `json:"ts_utc"`
	Type                       models.Type      `json:"type"`
	CalculatedPingSize         int              `json:"calculated_ping_size"`
	OriginalCalculatedPingSize int              `json:"original_calculated_ping_size"`
	Record                     telemetry.Record `json:"record"`
}

type RecordFilter struct {
	Type  models.Type
	Limit int
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{
		db: db,
		validRecordTypes: map[models.Type]bool{
			models.TypeNavigation:             true,
			models.TypeHTTPRequest:            true,
			models.TypeHTTPResponse:           true,
			models.TypeHTTPRedirect:           true,
			models.TypeJavascriptOperation:    true,
			models.TypeJavascriptCookieRecord: true,
			models.TypeLogEntry:               true,
			models.TypeCapturedContent:        true,
			models.TypeNavigationBatch:        true,
			models.TypeTrimmedNavigationBatch: true,
		},
		now: time.Now,
	}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS telemetry_records(
	  id                            INTEGER PRIMARY KEY,
	  ts_utc                        INTEGER NOT NULL,
	  type                          TEXT    NOT NULL,
	  calculated_ping_size          INTEGER NOT NULL,
	  original_calculated_ping_size INTEGER NOT NULL,
	  record_json                   TEXT    NOT NULL CHECK (json_valid(record_json))
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_records_ts   ON telemetry_records(ts_utc);
	CREATE INDEX IF NOT EXISTS idx_telemetry_records_type ON telemetry_records(type);

	CREATE TABLE IF NOT EXISTS shared_data(
	  id               INTEGER PRIMARY KEY,
	  event_uuid       TEXT NOT NULL UNIQUE,
	  client_timestamp TEXT NOT NULL,
	  data_json        TEXT NOT NULL CHECK (json_valid(data_json))
	);

	CREATE TABLE IF NOT EXISTS settings(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateRecord(record telemetry.Record) error {
	t := record.Type()
	if t == "" {
		return fmt.Errorf("type cannot be empty")
	}
	if !d.validRecordTypes[t] {
		return fmt.Errorf("invalid record type: %s", t)
	}
	for _, field := range []string{telemetry.FieldCalculatedPingSize, telemetry.FieldOriginalCalculatedPingSize} {
		if _, err := strconv.Atoi(record[field]); err != nil {
			return fmt.Errorf("%s must be an integer: %w", field, err)
		}
	}
	return nil
}

// Submit stores one record. It makes the database usable as a telemetry sink.
func (d *Database) Submit(ctx context.Context, record telemetry.Record) error {
	return d.InsertRecords(ctx, []telemetry.Record{record})
}

func (d *Database) InsertRecords(ctx context.Context, records []telemetry.Record) error {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO telemetry_records(ts_utc, type, calculated_ping_size, original_calculated_ping_size, record_json) VALUES(?,?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	ts := d.now().UnixMilli()
	for _, record := range records {
		if err := d.ValidateRecord(record); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid record: %w", err)
		}

		jsonData, err := json.Marshal(record)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, err := statement.ExecContext(ctx, ts, string(record.Type()),
			record.CalculatedPingSize(), record.OriginalCalculatedPingSize(), string(jsonData)); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Records returns stored records oldest first.
func (d *Database) Records(ctx context.Context, filter RecordFilter) ([]StoredRecord, error) {
	query := `SELECT id, ts_utc, type, calculated_ping_size, original_calculated_ping_size, record_json FROM telemetry_records`
	var args []any
	if filter.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var (
			stored     StoredRecord
			recordType string
			recordJSON string
		)
		if err := rows.Scan(&stored.ID, &stored.TSUTC, &recordType,
			&stored.CalculatedPingSize, &stored.OriginalCalculatedPingSize, &recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		stored.Type = models.Type(recordType)
		if err := json.Unmarshal([]byte(recordJSON), &stored.Record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %d: %w", stored.ID, err)
		}
		records = append(records, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (d *Database) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func (d *Database) InsertSharedData(ctx context.Context, data models.AnnotatedSharedData) error {
	if data.EventMetadata.EventUUID == "" {
		return fmt.Errorf("event uuid cannot be empty")
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal shared data: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `INSERT INTO shared_data(event_uuid, client_timestamp, data_json) VALUES(?,?,json(?))`,
		data.EventMetadata.EventUUID, data.EventMetadata.ClientTimestamp, string(jsonData)); err != nil {
		return fmt.Errorf("failed to insert shared data: %w", err)
	}
	return nil
}

func (d *Database) SharedData(ctx context.Context) ([]models.AnnotatedSharedData, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT data_json FROM shared_data ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shared data: %w", err)
	}
	defer rows.Close()

	var shared []models.AnnotatedSharedData
	for rows.Next() {
		var dataJSON string
		if err := rows.Scan(&dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan shared data: %w", err)
		}
		var data models.AnnotatedSharedData
		if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shared data: %w", err)
		}
		shared = append(shared, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shared data: %w", err)
	}
	return shared, nil
}

// ExtensionInstallationUUID returns the installation's persistent id,
// generating it on first use.
func (d *Database) ExtensionInstallationUUID(ctx context.Context) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, installationUUIDKey).Scan(&value)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read installation uuid: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO settings(key, value) VALUES(?, ?)`,
		installationUUIDKey, uuid.NewString()); err != nil {
		return "", fmt.Errorf("failed to store installation uuid: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, installationUUIDKey).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to read installation uuid: %w", err)
	}
	return value, nil
}
