// Package db 预测记录持久化
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        prediction_id TEXT NOT NULL,
        request_id TEXT NOT NULL,
        input TEXT NOT NULL,
        predicted_price REAL,
        interval_lower REAL,
        interval_upper REAL,
        model_version TEXT,
        preprocessor_version TEXT,
        error_kind TEXT,
        created_at DATETIME NOT NULL,
        UNIQUE(prediction_id)
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    `

// Entry 一条预测记录；失败的记录只有 ErrorKind
type Entry struct {
	PredictionID        string          `json:"prediction_id"`
	RequestID           string          `json:"request_id"`
	Input               json.RawMessage `json:"input"`
	Price               float64         `json:"predicted_price,omitempty"`
	IntervalLower       float64         `json:"interval_lower,omitempty"`
	IntervalUpper       float64         `json:"interval_upper,omitempty"`
	ModelVersion        string          `json:"model_version,omitempty"`
	PreprocessorVersion string          `json:"preprocessor_version,omitempty"`
	ErrorKind           string          `json:"error_kind,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Journal 基于 SQLite 的预测日志
type Journal struct {
	db *sql.DB
}

// Open 打开或创建预测日志
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir failed: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema failed: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record 在一个事务中写入多条记录
func (j *Journal) Record(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR REPLACE INTO predictions (
            prediction_id, request_id, input, predicted_price, interval_lower, interval_upper,
            model_version, preprocessor_version, error_kind, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var price, lower, upper sql.NullFloat64
		if e.ErrorKind == "" {
			price = sql.NullFloat64{Float64: e.Price, Valid: true}
			lower = sql.NullFloat64{Float64: e.IntervalLower, Valid: true}
			upper = sql.NullFloat64{Float64: e.IntervalUpper, Valid: true}
		}
		input := string(e.Input)
		if input == "" {
			input = "null"
		}
		_, err := stmt.ExecContext(ctx,
			e.PredictionID, e.RequestID, input, price, lower, upper,
			e.ModelVersion, e.PreprocessorVersion, e.ErrorKind, e.CreatedAt.UTC())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert prediction %s: %w", e.PredictionID, err)
		}
	}
	return tx.Commit()
}

// Recent 按时间倒序返回最近的记录
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT prediction_id, request_id, input, predicted_price, interval_lower, interval_upper,
               model_version, preprocessor_version, error_kind, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var input string
		var price, lower, upper sql.NullFloat64
		var modelVersion, prepVersion, errorKind sql.NullString
		if err := rows.Scan(&e.PredictionID, &e.RequestID, &input, &price, &lower, &upper,
			&modelVersion, &prepVersion, &errorKind, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Input = json.RawMessage(input)
		e.Price = price.Float64
		e.IntervalLower = lower.Float64
		e.IntervalUpper = upper.Float64
		e.ModelVersion = modelVersion.String
		e.PreprocessorVersion = prepVersion.String
		e.ErrorKind = errorKind.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}
