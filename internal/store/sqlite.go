package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Agents ---

const agentColumns = `id, name, token, status, current_task, dev_url, repo_url, branch, last_heartbeat, created_at, updated_at`

func (s *SQLiteStore) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.LastHeartbeat.IsZero() {
		a.LastHeartbeat = now
	}
	if a.Status == "" {
		a.Status = models.AgentStatusOnline
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Token, string(a.Status), a.CurrentTask,
		a.DevURL, a.RepoURL, a.Branch, a.LastHeartbeat, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*models.Agent, error) {
	a := &models.Agent{}
	var status string
	err := row.Scan(&a.ID, &a.Name, &a.Token, &status, &a.CurrentTask,
		&a.DevURL, &a.RepoURL, &a.Branch, &a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Status = models.AgentStatus(status)
	return a, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
}

func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = ?`, name))
}

func (s *SQLiteStore) GetAgentByToken(ctx context.Context, token string) (*models.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE token = ?`, token))
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*models.Agent
	for rows.Next() {
		a := &models.Agent{}
		var status string
		if err := rows.Scan(&a.ID, &a.Name, &a.Token, &status, &a.CurrentTask,
			&a.DevURL, &a.RepoURL, &a.Branch, &a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Status = models.AgentStatus(status)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, a *models.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name=?, token=?, status=?, current_task=?, dev_url=?, repo_url=?, branch=?, last_heartbeat=?, updated_at=?
		WHERE id=?`,
		a.Name, a.Token, string(a.Status), a.CurrentTask,
		a.DevURL, a.RepoURL, a.Branch, a.LastHeartbeat, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, core.ErrNotFound)
	}
	return nil
}

// --- Runs ---

const runColumns = `id, agent_id, status, commit_sha, commit_message, total_tests, passed, failed, skipped, duration_ms, started_at, finished_at, created_at, updated_at`

// CreateRunWithCases inserts a run and its cases in one transaction.
func (s *SQLiteStore) CreateRunWithCases(ctx context.Context, run *models.Run, cases []*models.TestCase) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, string(run.Status), run.CommitSHA, run.CommitMessage,
		run.TotalTests, run.Passed, run.Failed, run.Skipped, run.DurationMS,
		run.StartedAt, run.FinishedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	for _, tc := range cases {
		if tc.ID == "" {
			tc.ID = newULID()
		}
		tc.RunID = run.ID
		tc.CreatedAt = now
		tc.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_cases (id, run_id, order_index, name, expected, actual, status, bug_description, bug_severity, duration_ms, notes, started_at, finished_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.RunID, tc.OrderIndex, tc.Name, tc.Expected, tc.Actual,
			string(tc.Status), tc.BugDescription, string(tc.BugSeverity),
			tc.DurationMS, tc.Notes, tc.StartedAt, tc.FinishedAt, tc.CreatedAt, tc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create case %d: %w", tc.OrderIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (*models.Run, error) {
	run := &models.Run{}
	var status string
	var finishedAt sql.NullTime
	if err := scan(&run.ID, &run.AgentID, &status, &run.CommitSHA, &run.CommitMessage,
		&run.TotalTests, &run.Passed, &run.Failed, &run.Skipped, &run.DurationMS,
		&run.StartedAt, &finishedAt, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conditions []string
	var args []any

	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Test cases ---

const caseColumns = `id, run_id, order_index, name, expected, actual, status, bug_description, bug_severity, duration_ms, notes, started_at, finished_at, created_at, updated_at`

func scanCase(scan func(dest ...any) error) (*models.TestCase, error) {
	tc := &models.TestCase{}
	var status, severity string
	var startedAt, finishedAt sql.NullTime
	if err := scan(&tc.ID, &tc.RunID, &tc.OrderIndex, &tc.Name, &tc.Expected, &tc.Actual,
		&status, &tc.BugDescription, &severity, &tc.DurationMS, &tc.Notes,
		&startedAt, &finishedAt, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		return nil, err
	}
	tc.Status = models.CaseStatus(status)
	tc.BugSeverity = models.BugSeverity(severity)
	if startedAt.Valid {
		tc.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		tc.FinishedAt = &finishedAt.Time
	}
	return tc, nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*models.TestCase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM test_cases WHERE id = ?`, id)
	tc, err := scanCase(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("case %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return tc, nil
}

func (s *SQLiteStore) ListRunCases(ctx context.Context, runID string) ([]*models.TestCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM test_cases WHERE run_id = ? ORDER BY order_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cases []*models.TestCase
	for rows.Next() {
		tc, err := scanCase(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

// UpdateCaseWithArtifacts writes the case patch together with any screenshots
// and recording in a single transaction.
func (s *SQLiteStore) UpdateCaseWithArtifacts(ctx context.Context, tc *models.TestCase, shots []*models.Screenshot, rec *models.Recording) error {
	tc.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE test_cases SET actual=?, status=?, bug_description=?, bug_severity=?, duration_ms=?, notes=?, started_at=?, finished_at=?, updated_at=?
		WHERE id=?`,
		tc.Actual, string(tc.Status), tc.BugDescription, string(tc.BugSeverity),
		tc.DurationMS, tc.Notes, tc.StartedAt, tc.FinishedAt, tc.UpdatedAt, tc.ID,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("case %s: %w", tc.ID, core.ErrNotFound)
	}

	for _, shot := range shots {
		if shot.ID == "" {
			shot.ID = newULID()
		}
		shot.CaseID = tc.ID
		shot.CreatedAt = tc.UpdatedAt
		_, err = tx.ExecContext(ctx,
			`INSERT INTO screenshots (id, case_id, url, caption, is_failure, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			shot.ID, shot.CaseID, shot.URL, shot.Caption, boolToInt(shot.IsFailure), shot.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create screenshot: %w", err)
		}
	}

	if rec != nil {
		if rec.ID == "" {
			rec.ID = newULID()
		}
		rec.CaseID = tc.ID
		rec.CreatedAt = tc.UpdatedAt
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recordings (id, case_id, url, created_at) VALUES (?, ?, ?, ?)`,
			rec.ID, rec.CaseID, rec.URL, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CompleteRun writes the run's terminal fields and resets the owning agent in
// one transaction.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *models.Run, agent *models.Agent) error {
	now := time.Now().UTC()
	run.UpdatedAt = now
	agent.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET status=?, passed=?, failed=?, skipped=?, duration_ms=?, finished_at=?, updated_at=? WHERE id=?`,
		string(run.Status), run.Passed, run.Failed, run.Skipped,
		run.DurationMS, run.FinishedAt, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET status=?, current_task=?, last_heartbeat=?, updated_at=? WHERE id=?`,
		string(agent.Status), agent.CurrentTask, agent.LastHeartbeat, agent.UpdatedAt, agent.ID,
	)
	if err != nil {
		return fmt.Errorf("reset agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCaseScreenshots(ctx context.Context, caseID string) ([]*models.Screenshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, url, caption, is_failure, created_at FROM screenshots WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shots []*models.Screenshot
	for rows.Next() {
		shot := &models.Screenshot{}
		if err := rows.Scan(&shot.ID, &shot.CaseID, &shot.URL, &shot.Caption, &shot.IsFailure, &shot.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		shots = append(shots, shot)
	}
	return shots, rows.Err()
}

func (s *SQLiteStore) ListCaseRecordings(ctx context.Context, caseID string) ([]*models.Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, url, created_at FROM recordings WHERE case_id = ? ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*models.Recording
	for rows.Next() {
		rec := &models.Recording{}
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.URL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Channels ---

func (s *SQLiteStore) GetOrCreateChannel(ctx context.Context, name string) (*models.Channel, error) {
	ch, err := s.GetChannelByName(ctx, name)
	if err == nil {
		return ch, nil
	}

	ch = &models.Channel{
		ID:        newULID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channels (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		ch.ID, ch.Name, ch.Description, ch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	// Re-read in case another request inserted the same name first.
	return s.GetChannelByName(ctx, name)
}

func (s *SQLiteStore) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	ch := &models.Channel{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM channels WHERE name = ?`, name,
	).Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("channel %s: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []*models.Channel
	for rows.Next() {
		ch := &models.Channel{}
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// --- Messages ---

const messageColumns = `id, channel_id, sender_id, sender_name, type, content, mentions, meta, created_at`

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = newULID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	mentionsJSON, err := json.Marshal(m.Mentions)
	if err != nil {
		mentionsJSON = []byte("[]")
	}
	metaJSON, err := json.Marshal(m.Meta)
	if err != nil {
		metaJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChannelID, m.SenderID, m.SenderName, string(m.Type),
		m.Content, string(mentionsJSON), string(metaJSON), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func scanMessage(scan func(dest ...any) error) (*models.Message, error) {
	m := &models.Message{}
	var typ, mentionsJSON, metaJSON string
	if err := scan(&m.ID, &m.ChannelID, &m.SenderID, &m.SenderName, &typ,
		&m.Content, &mentionsJSON, &metaJSON, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = models.MessageType(typ)
	_ = json.Unmarshal([]byte(mentionsJSON), &m.Mentions)
	_ = json.Unmarshal([]byte(metaJSON), &m.Meta)
	return m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListMessagesAfter returns messages with created_at strictly greater than
// after, in chronological order. Used by polling clients fetching deltas.
func (s *SQLiteStore) ListMessagesAfter(ctx context.Context, channelID string, after time.Time, limit int) ([]*models.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ? AND created_at > ?
		ORDER BY created_at, id LIMIT ?`,
		channelID, after.UTC(), limit)
}

// ListMessagesBefore returns messages with created_at strictly less than
// before, newest first. Callers paginating backwards pass limit+1 and reverse.
func (s *SQLiteStore) ListMessagesBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]*models.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelID, before.UTC(), limit)
}

// ListRecentMessages returns the latest messages in chronological order.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, channelID string, limit int) ([]*models.Message, error) {
	messages, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE channel_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessagesAfter counts messages newer than after; a nil after counts the
// whole channel.
func (s *SQLiteStore) CountMessagesAfter(ctx context.Context, channelID string, after *time.Time) (int, error) {
	var count int
	var err error
	if after != nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE channel_id = ? AND created_at > ?`,
			channelID, after.UTC()).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// --- Read cursors ---

func (s *SQLiteStore) GetReadCursor(ctx context.Context, subscriberID, channelID string) (*models.ReadCursor, error) {
	c := &models.ReadCursor{}
	err := s.db.QueryRowContext(ctx,
		`SELECT subscriber_id, channel_id, last_read_at, updated_at FROM read_cursors
		WHERE subscriber_id = ? AND channel_id = ?`, subscriberID, channelID,
	).Scan(&c.SubscriberID, &c.ChannelID, &c.LastReadAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("read cursor: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get read cursor: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpsertReadCursor(ctx context.Context, c *models.ReadCursor) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO read_cursors (subscriber_id, channel_id, last_read_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subscriber_id, channel_id) DO UPDATE SET last_read_at=excluded.last_read_at, updated_at=excluded.updated_at`,
		c.SubscriberID, c.ChannelID, c.LastReadAt.UTC(), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert read cursor: %w", err)
	}
	return nil
}
