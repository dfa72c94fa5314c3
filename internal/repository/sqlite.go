package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/observability/internal/domain"
)

const eventColumns = `id, event_id, source_app, session_id, event_type, tool_name, summary, payload,
	created_at, synthetic, run_id, agent_id, parent_event_id, task_id, duration_ms, exit_code,
	risk_level, agent_state, error_type`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store.
// File databases run in WAL mode so readers never wait behind the writer.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory {
		dsn = withPragmas(dsn)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := newStoreWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func newStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_journal_mode") {
		dsn += sep + "_journal_mode=WAL"
		sep = "&"
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn += sep + "_busy_timeout=5000"
	}
	return dsn
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			source_app TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			tool_name TEXT,
			summary TEXT,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			synthetic INTEGER NOT NULL DEFAULT 0,
			run_id TEXT,
			agent_id TEXT,
			parent_event_id TEXT,
			task_id TEXT,
			duration_ms INTEGER,
			exit_code INTEGER,
			risk_level TEXT,
			agent_state TEXT,
			error_type TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source_app ON events(source_app)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_error_type ON events(error_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_agent_created ON events(run_id, agent_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Older databases predate the synthetic tag.
	return s.ensureColumn("events", "synthetic", "ALTER TABLE events ADD COLUMN synthetic INTEGER NOT NULL DEFAULT 0")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores an event and returns the materialized record. Missing
// event_id, created_at and summary are filled in. The input is not modified.
func (s *SQLiteStore) Insert(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	ev := *event
	if ev.EventID == "" {
		ev.EventID = "evt_" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC().Truncate(time.Millisecond)
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	if ev.Summary == "" {
		ev.Summary = Describe(&ev)
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, source_app, session_id, event_type, tool_name, summary, payload,
			created_at, synthetic, run_id, agent_id, parent_event_id, task_id, duration_ms, exit_code,
			risk_level, agent_state, error_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.SourceApp, ev.SessionID, ev.EventType, nullString(ev.ToolName), ev.Summary, string(payload),
		domain.FormatTime(ev.CreatedAt), ev.Synthetic, nullString(ev.RunID), nullString(ev.AgentID),
		nullString(ev.ParentEventID), nullString(ev.TaskID), nullInt64(ev.DurationMs), nullInt(ev.ExitCode),
		nullString(string(ev.RiskLevel)), nullString(string(ev.AgentState)), nullString(ev.ErrorType))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateEvent, ev.EventID)
		}
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}

	// Hand back the payload as it was persisted, detached from the caller's map.
	ev.Payload = nil
	if err := json.Unmarshal(payload, &ev.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode stored payload: %w", err)
	}
	return &ev, nil
}

// GetEvent retrieves an event by its external id.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Query returns one page of events, newest first, plus the total number of
// matching rows. Limit is capped at MaxQueryLimit.
func (s *SQLiteStore) Query(ctx context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	var conditions []string
	var args []any

	if f.SourceApp != "" {
		conditions = append(conditions, "source_app = ?")
		args = append(args, f.SourceApp)
	}
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, f.EventType)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, domain.FormatTime(f.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + eventColumns + ` FROM events` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", ClampLimit(f.Limit, 100), offset)

	events, err := s.queryEvents(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// DistinctValues returns the distinct source apps, sessions and event types.
func (s *SQLiteStore) DistinctValues(ctx context.Context) (*domain.FilterOptions, error) {
	opts := &domain.FilterOptions{}
	var err error
	if opts.SourceApps, err = s.distinct(ctx, "source_app"); err != nil {
		return nil, err
	}
	if opts.SessionIDs, err = s.distinct(ctx, "session_id"); err != nil {
		return nil, err
	}
	if opts.EventTypes, err = s.distinct(ctx, "event_type"); err != nil {
		return nil, err
	}
	return opts, nil
}

func (s *SQLiteStore) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT %s FROM events ORDER BY %s LIMIT %d`, column, column, MaxQueryLimit))
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Recent returns the last n events, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]domain.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events ORDER BY created_at DESC, id DESC LIMIT %d`, eventColumns, ClampLimit(n, 100))
	events, err := s.queryEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

// ListByCategory returns events whose type starts with "<category>.", newest first.
func (s *SQLiteStore) ListByCategory(ctx context.Context, category string, limit int) ([]domain.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM events WHERE event_type LIKE ? ESCAPE '\' ORDER BY created_at DESC, id DESC LIMIT %d`,
		eventColumns, ClampLimit(limit, 100))
	return s.queryEvents(ctx, q, escapeLike(category)+".%")
}

// AgentTimeline returns an agent's most recent events in chronological order.
func (s *SQLiteStore) AgentTimeline(ctx context.Context, agentID string, since time.Time, limit int) ([]domain.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE agent_id = ?`
	args := []any{agentID}
	if !since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, domain.FormatTime(since))
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", ClampLimit(limit, MaxQueryLimit))

	events, err := s.queryEvents(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	reverse(events)
	return events, nil
}

// CountRecentFailures counts events for toolName and agentID ("" is its own
// bucket) with a non-zero exit code created at or after since.
func (s *SQLiteStore) CountRecentFailures(ctx context.Context, toolName, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events
		WHERE tool_name = ?
		  AND COALESCE(agent_id, '') = ?
		  AND exit_code IS NOT NULL AND exit_code != 0
		  AND created_at >= ?`,
		toolName, agentID, domain.FormatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return n, nil
}

// ListChildren returns events of the same run/agent pointing at
// q.ParentEventID, created inside [q.From, q.To].
func (s *SQLiteStore) ListChildren(ctx context.Context, q domain.ChildQuery) ([]domain.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE COALESCE(run_id, '') = ?
		  AND COALESCE(agent_id, '') = ?
		  AND parent_event_id = ?
		  AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC LIMIT %d`, eventColumns, ClampLimit(q.Limit, MaxQueryLimit))
	return s.queryEvents(ctx, query,
		q.RunID, q.AgentID, q.ParentEventID, domain.FormatTime(q.From), domain.FormatTime(q.To))
}

// ListWindow returns events of a run (optionally one agent) inside
// [q.From, q.To], oldest first.
func (s *SQLiteStore) ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ?`
	args := []any{q.RunID}
	if q.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, q.AgentID)
	}
	query += ` AND created_at >= ? AND created_at <= ?`
	args = append(args, domain.FormatTime(q.From), domain.FormatTime(q.To))
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT %d", ClampLimit(q.Limit, MaxQueryLimit))
	return s.queryEvents(ctx, query, args...)
}

// ScanRun streams every event of a (run_id, agent_id) pair in chronological
// order. fn must not call back into the store.
func (s *SQLiteStore) ScanRun(ctx context.Context, runID, agentID string, fn func(*domain.Event) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE COALESCE(run_id, '') = ? AND COALESCE(agent_id, '') = ?
		ORDER BY created_at ASC, id ASC`, runID, agentID)
	if err != nil {
		return fmt.Errorf("scan run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DistinctRunAgents lists every agent that emitted events under runID.
func (s *SQLiteStore) DistinctRunAgents(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM events
		WHERE run_id = ? AND agent_id IS NOT NULL AND agent_id != ''
		ORDER BY agent_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("distinct run agents: %w", err)
	}
	defer rows.Close()

	agents := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// FindRunSummary returns the latest run.summary event for the pair, or nil.
func (s *SQLiteStore) FindRunSummary(ctx context.Context, runID, agentID string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE event_type = ? AND COALESCE(run_id, '') = ? AND COALESCE(agent_id, '') = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		domain.EventTypeRunSummary, runID, agentID)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc rowScanner) (*domain.Event, error) {
	var ev domain.Event
	var toolName, summary, runID, agentID, parentID, taskID sql.NullString
	var riskLevel, agentState, errorType sql.NullString
	var durationMs, exitCode sql.NullInt64
	var payload, createdAt string

	err := sc.Scan(&ev.ID, &ev.EventID, &ev.SourceApp, &ev.SessionID, &ev.EventType, &toolName, &summary,
		&payload, &createdAt, &ev.Synthetic, &runID, &agentID, &parentID, &taskID, &durationMs, &exitCode,
		&riskLevel, &agentState, &errorType)
	if err != nil {
		return nil, err
	}

	ev.ToolName = toolName.String
	ev.Summary = summary.String
	ev.RunID = runID.String
	ev.AgentID = agentID.String
	ev.ParentEventID = parentID.String
	ev.TaskID = taskID.String
	ev.RiskLevel = domain.RiskLevel(riskLevel.String)
	ev.AgentState = domain.AgentState(agentState.String)
	ev.ErrorType = errorType.String
	if durationMs.Valid {
		ev.DurationMs = domain.Int64Ptr(durationMs.Int64)
	}
	if exitCode.Valid {
		ev.ExitCode = domain.IntPtr(int(exitCode.Int64))
	}
	if ev.CreatedAt, err = domain.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", ev.EventID, err)
	}
	return &ev, nil
}

// ClampLimit maps non-positive limits to def and caps at MaxQueryLimit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func reverse(events []domain.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
