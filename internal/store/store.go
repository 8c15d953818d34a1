// Package store persists OCR pages, combined document sets, and
// analysis results to SQLite, keyed by (user_id, contract_id).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jibsin/leaseguard/internal/docset"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS ocr_pages (
	user_id       TEXT NOT NULL,
	contract_id   TEXT NOT NULL,
	document_type TEXT NOT NULL,
	page_number   INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	image_width   INTEGER NOT NULL DEFAULT 0,
	image_height  INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	PRIMARY KEY (user_id, contract_id, document_type, page_number)
);

CREATE TABLE IF NOT EXISTS combined (
	user_id     TEXT NOT NULL,
	contract_id TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (user_id, contract_id)
);

CREATE TABLE IF NOT EXISTS analysis (
	user_id     TEXT NOT NULL,
	contract_id TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	image_sizes TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (user_id, contract_id)
);
`

// Store is a write-through SQLite store. A single connection with WAL
// keeps concurrent request handlers from tripping over each other.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDocument persists every page of one document with its image
// dimensions, replacing any prior OCR run for the same document type.
// Pages missing from sizes are stored with zero dimensions.
func (s *Store) SaveDocument(ctx context.Context, userID, contractID string, docType docset.DocType, doc docset.Document, sizes map[string]docset.PageSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ocr_pages WHERE user_id = ? AND contract_id = ? AND document_type = ?`,
		userID, contractID, string(docType)); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, pageKey := range docset.SortedPageKeys(doc) {
		n, ok := docset.PageNumber(pageKey)
		if !ok {
			return fmt.Errorf("save %s: bad page key %q", docType, pageKey)
		}
		blob, err := json.Marshal(doc[pageKey])
		if err != nil {
			return fmt.Errorf("save %s %s: %w", docType, pageKey, err)
		}
		size := sizes[pageKey]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ocr_pages (user_id, contract_id, document_type, page_number, payload, image_width, image_height, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, contractID, string(docType), n, string(blob), size.Width, size.Height, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadDocument reassembles one document from its stored pages under
// canonical page keys. A document with no pages is a nil map, not an
// error.
func (s *Store) LoadDocument(ctx context.Context, userID, contractID string, docType docset.DocType) (docset.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, payload FROM ocr_pages
		 WHERE user_id = ? AND contract_id = ? AND document_type = ?
		 ORDER BY page_number`,
		userID, contractID, string(docType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doc docset.Document
	for rows.Next() {
		var n int
		var payload string
		if err := rows.Scan(&n, &payload); err != nil {
			return nil, err
		}
		var page docset.Page
		if err := json.Unmarshal([]byte(payload), &page); err != nil {
			return nil, fmt.Errorf("load %s page %d: %w", docType, n, err)
		}
		if doc == nil {
			doc = docset.Document{}
		}
		doc[fmt.Sprintf("page%d", n)] = page
	}
	return doc, rows.Err()
}

// pageSizes collects the stored image dimensions for every ingested
// page, keyed by document type then canonical page key. Caller holds
// s.mu when mutating state around this read.
func (s *Store) pageSizes(ctx context.Context, userID, contractID string) (map[string]map[string]docset.PageSize, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_type, page_number, image_width, image_height FROM ocr_pages
		 WHERE user_id = ? AND contract_id = ?
		 ORDER BY document_type, page_number`,
		userID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sizes := map[string]map[string]docset.PageSize{}
	for rows.Next() {
		var docType string
		var n, w, h int
		if err := rows.Scan(&docType, &n, &w, &h); err != nil {
			return nil, err
		}
		if sizes[docType] == nil {
			sizes[docType] = map[string]docset.PageSize{}
		}
		sizes[docType][fmt.Sprintf("page%d", n)] = docset.PageSize{Width: w, Height: h}
	}
	return sizes, rows.Err()
}

// PageSizes returns the image dimensions of every ingested page for a
// contract, keyed by document type then canonical page key.
func (s *Store) PageSizes(ctx context.Context, userID, contractID string) (map[string]map[string]docset.PageSize, error) {
	return s.pageSizes(ctx, userID, contractID)
}

// SaveCombined persists the merged three-document set as one record.
func (s *Store) SaveCombined(ctx context.Context, userID, contractID string, ds *docset.DocumentSet) error {
	blob, err := json.Marshal(ds)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO combined (user_id, contract_id, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, contract_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		userID, contractID, string(blob), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) LoadCombined(ctx context.Context, userID, contractID string) (*docset.DocumentSet, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM combined WHERE user_id = ? AND contract_id = ?`,
		userID, contractID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ds docset.DocumentSet
	if err := json.Unmarshal([]byte(payload), &ds); err != nil {
		return nil, fmt.Errorf("load combined: %w", err)
	}
	return &ds, nil
}

// SetStatus records the analysis lifecycle marker, creating the
// analysis row on first touch.
func (s *Store) SetStatus(ctx context.Context, userID, contractID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis (user_id, contract_id, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, contract_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		userID, contractID, status, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetStatus(ctx context.Context, userID, contractID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM analysis WHERE user_id = ? AND contract_id = ?`,
		userID, contractID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}

// SaveAnalysis stores the annotated result tree, the per-section
// summary, and the image dimensions of the ingested pages, and marks
// the analysis completed in the same write.
func (s *Store) SaveAnalysis(ctx context.Context, userID, contractID string, result any, summary any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	summaryBlob, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes, err := s.pageSizes(ctx, userID, contractID)
	if err != nil {
		return fmt.Errorf("collect page sizes: %w", err)
	}
	sizesBlob, err := json.Marshal(sizes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis (user_id, contract_id, payload, summary, image_sizes, status, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, contract_id) DO UPDATE SET
		   payload = excluded.payload, summary = excluded.summary,
		   image_sizes = excluded.image_sizes,
		   status = excluded.status, updated_at = excluded.updated_at`,
		userID, contractID, string(payload), string(summaryBlob), string(sizesBlob), StatusCompleted,
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Analysis is a stored analysis record as returned to API clients.
type Analysis struct {
	Result     map[string]any                        `json:"result"`
	Summary    map[string]any                        `json:"summary"`
	ImageSizes map[string]map[string]docset.PageSize `json:"image_sizes,omitempty"`
	Status     string                                `json:"status"`
	UpdatedAt  time.Time                             `json:"updated_at"`
}

func (s *Store) LoadAnalysis(ctx context.Context, userID, contractID string) (*Analysis, error) {
	var payload, summary, imageSizes, status, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, summary, image_sizes, status, updated_at FROM analysis WHERE user_id = ? AND contract_id = ?`,
		userID, contractID).Scan(&payload, &summary, &imageSizes, &status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := &Analysis{Status: status}
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &a.Result); err != nil {
			return nil, fmt.Errorf("load analysis payload: %w", err)
		}
	}
	if summary != "" {
		if err := json.Unmarshal([]byte(summary), &a.Summary); err != nil {
			return nil, fmt.Errorf("load analysis summary: %w", err)
		}
	}
	if imageSizes != "" {
		if err := json.Unmarshal([]byte(imageSizes), &a.ImageSizes); err != nil {
			return nil, fmt.Errorf("load analysis image sizes: %w", err)
		}
	}
	return a, nil
}

// ListContracts returns the contract IDs a user has analysis rows for,
// newest first.
func (s *Store) ListContracts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contract_id, updated_at FROM analysis WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type entry struct {
		id string
		at string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.at); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at > entries[j].at })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}
