package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore manages the project catalog, idempotency keys and the audit
// log.
type SQLiteStore struct {
	db *sql.DB
}

// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// ErrProjectNotFound is returned for lookups of unknown project identifiers.
var ErrProjectNotFound = errors.New("project not found")

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            creator TEXT NOT NULL,
            goal TEXT NOT NULL,
            token_id INTEGER NOT NULL,
            token_rate TEXT NOT NULL,
            fee_bps INTEGER NOT NULL,
            admin TEXT NOT NULL,
            start_time INTEGER NOT NULL,
            deadline_time INTEGER NOT NULL,
            campaign_id TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            api_key TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY(api_key, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            api_key TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            request_body BLOB,
            response_status INTEGER,
            response_body BLOB
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Project is a catalog entry describing a campaign definition. CampaignID is
// empty until a deploy is finalized.
type Project struct {
	ID           string    `json:"projectId"`
	Name         string    `json:"name"`
	Category     string    `json:"category,omitempty"`
	Description  string    `json:"description,omitempty"`
	Creator      string    `json:"creator"`
	Goal         string    `json:"goal"`
	TokenID      uint64    `json:"tokenId"`
	TokenRate    string    `json:"tokenRate"`
	FeeBps       uint32    `json:"feeBps"`
	Admin        string    `json:"admin"`
	StartTime    int64     `json:"startTime"`
	DeadlineTime int64     `json:"deadlineTime"`
	CampaignID   string    `json:"campaignId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// InsertProject persists a new catalog entry.
func (s *SQLiteStore) InsertProject(ctx context.Context, p Project) error {
	const stmt = `INSERT INTO projects(id, name, category, description, creator, goal, token_id, token_rate, fee_bps, admin, start_time, deadline_time, campaign_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, p.ID, p.Name, p.Category, p.Description, p.Creator, p.Goal, p.TokenID, p.TokenRate, p.FeeBps, p.Admin, p.StartTime, p.DeadlineTime, p.CampaignID, p.CreatedAt, p.UpdatedAt)
	return err
}

const projectColumns = `id, name, category, description, creator, goal, token_id, token_rate, fee_bps, admin, start_time, deadline_time, campaign_id, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.Creator, &p.Goal, &p.TokenID, &p.TokenRate, &p.FeeBps, &p.Admin, &p.StartTime, &p.DeadlineTime, &p.CampaignID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetProject fetches a project by identifier.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrProjectNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// ListProjects returns all catalog entries ordered by creation time descending.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

// CompareAndSetDeployment binds a campaign identifier to a project exactly
// once. The UPDATE only matches rows with no binding yet, so two racing
// deploys cannot both win; the loser observes whatever was stored first.
func (s *SQLiteStore) CompareAndSetDeployment(ctx context.Context, projectID string, id [32]byte) ([32]byte, bool, error) {
	encoded := hex.EncodeToString(id[:])
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET campaign_id = ?, updated_at = ? WHERE id = ? AND campaign_id = ''`,
		encoded, time.Now().UTC(), projectID)
	if err != nil {
		return [32]byte{}, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return [32]byte{}, false, err
	}
	if rows == 1 {
		return id, true, nil
	}
	var stored string
	err = s.db.QueryRowContext(ctx, `SELECT campaign_id FROM projects WHERE id = ?`, projectID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return [32]byte{}, false, ErrProjectNotFound
	}
	if err != nil {
		return [32]byte{}, false, err
	}
	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, false, fmt.Errorf("stored campaign id for project %s is malformed", projectID)
	}
	var out [32]byte
	copy(out[:], raw)
	return out, false, nil
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func (s *SQLiteStore) LookupIdempotency(ctx context.Context, apiKey, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE api_key = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, apiKey, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

func (s *SQLiteStore) SaveIdempotency(ctx context.Context, apiKey, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(api_key, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, apiKey, key, requestHash, status, body, time.Now().UTC())
	return err
}

// AuditEntry represents an audit log row.
type AuditEntry struct {
	APIKey         string
	Method         string
	Path           string
	RequestBody    []byte
	ResponseBody   []byte
	ResponseStatus int
	Timestamp      time.Time
}

func (s *SQLiteStore) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(api_key, method, path, request_body, response_status, response_body, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.APIKey, entry.Method, entry.Path, entry.RequestBody, entry.ResponseStatus, entry.ResponseBody, entry.Timestamp)
	return err
}
