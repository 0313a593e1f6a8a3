package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// ForecastPayload describes one archived forecast response.
type ForecastPayload struct {
	ID        int64
	FetchedAt time.Time
	Source    string
	QueryKey  string
	Hash      string
	SizeBytes int64
}

// StoreForecastPayload gzips and archives a raw forecast response so a scoring run can
// be replayed. Identical payloads are kept once; a duplicate returns id 0.
func (s *Store) StoreForecastPayload(source, queryKey string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	fetchedAt := s.now().UTC().Unix()

	var id int64
	err := s.retryBusy(func() error {
		result, err := s.db.Exec(`
			INSERT INTO forecast_payloads (fetched_at, source, query_key, payload_compressed, payload_hash)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(payload_hash) DO NOTHING
		`, fetchedAt, source, queryKey, buf.Bytes(), hex.EncodeToString(hash[:]))
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert forecast payload: %w", err)
	}
	return id, nil
}

// GetForecastPayload returns the decompressed payload, or nil if id is unknown.
func (s *Store) GetForecastPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM forecast_payloads WHERE id = ?`, id).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetRecentForecastPayloads lists archived payloads, newest first.
func (s *Store) GetRecentForecastPayloads(limit int) ([]ForecastPayload, error) {
	rows, err := s.db.Query(`
		SELECT id, fetched_at, source, query_key, payload_hash, LENGTH(payload_compressed)
		FROM forecast_payloads
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payloads []ForecastPayload
	for rows.Next() {
		var p ForecastPayload
		var fetchedAt int64
		if err := rows.Scan(&p.ID, &fetchedAt, &p.Source, &p.QueryKey, &p.Hash, &p.SizeBytes); err != nil {
			return nil, err
		}
		p.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

// PruneForecastPayloads deletes payloads fetched more than retentionDays before now.
func (s *Store) PruneForecastPayloads(retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays).Unix()

	var deleted int64
	err := s.retryBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM forecast_payloads WHERE fetched_at < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune forecast payloads: %w", err)
	}
	return deleted, nil
}
