package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/database"
)

// Page sizes for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Entry is one device event.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Address   string    `json:"address"`
	SensorIDs []int     `json:"sensor_ids"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects and pages events. Zero fields match everything.
type Filter struct {
	Action  string // added, relocated, removed, reset
	Address string
	Limit   int // DefaultListLimit when <= 0, capped at MaxListLimit
	Offset  int
}

// ListResult is one page of events plus the total matching the filter.
type ListResult struct {
	Events []Entry `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists device events.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLRepository is the Repository over the relational store.
type SQLRepository struct {
	db *database.DB
}

// NewSQLRepository returns a repository using db.
func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Create stores e, filling in ID and CreatedAt when they are zero.
func (r *SQLRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.SensorIDs == nil {
		e.SensorIDs = []int{}
	}

	ids, err := json.Marshal(e.SensorIDs)
	if err != nil {
		return fmt.Errorf("encoding sensor ids: %w", err)
	}
	details := sql.NullString{String: e.Details, Valid: e.Details != ""}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO device_events (id, action, address, sensor_ids, details, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.Action, e.Address, string(ids), details, r.db.TimeArg(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// where accumulates equality predicates with their arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, column+" = ?")
	w.args = append(w.args, value)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (f Filter) normalised() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// List returns one page of matching events, newest first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalised()

	var w where
	w.eq("action", filter.Action)
	w.eq("address", filter.Address)

	res := &ListResult{Events: []Entry{}, Limit: filter.Limit, Offset: filter.Offset}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_events"+w.String(), w.args...,
	).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("counting device events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, action, address, sensor_ids, details, created_at FROM device_events"+w.String()+
			" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		append(w.args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.Events = append(res.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return res, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		ids     string
		details sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.Address, &ids, &details, &e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("scanning device event: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &e.SensorIDs); err != nil {
		return Entry{}, fmt.Errorf("decoding sensor ids of event %s: %w", e.ID, err)
	}
	e.Details = details.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
