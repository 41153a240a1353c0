package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"task-router/internal/routing"
)

// Adapter implements storage.Storage on SQLite. Suitable for single-node
// deployments; all multi-statement writes run inside transactions and SQLite
// serializes writers, so the revision and counter invariants hold without
// external locking.
type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	dsn := config.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_loc=UTC"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS routing_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			criteria TEXT NOT NULL DEFAULT '{}',
			handler TEXT NOT NULL,
			fallback_handler TEXT,
			workload_limit INTEGER,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS persons (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT DEFAULT '',
			skills TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			member_ids TEXT NOT NULL DEFAULT '[]',
			skills TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS queues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			request_type TEXT DEFAULT '',
			revision INTEGER NOT NULL,
			rule_id TEXT DEFAULT '',
			rule_name TEXT DEFAULT '',
			handler TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			reasoning TEXT DEFAULT '',
			factors TEXT NOT NULL DEFAULT '{}',
			alternatives TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			was_escalated BOOLEAN NOT NULL DEFAULT 0,
			was_rerouted BOOLEAN NOT NULL DEFAULT 0,
			feedback_score INTEGER,
			feedback_comment TEXT DEFAULT '',
			created_at DATETIME NOT NULL,
			UNIQUE(request_id, revision)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_request
			ON routing_decisions (request_id, revision)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created
			ON routing_decisions (created_at)`,
		`CREATE TABLE IF NOT EXISTS routing_cursors (
			key TEXT PRIMARY KEY,
			position INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS assignment_counters (
			scope TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			in_flight INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (scope, ref_id)
		)`,
		`CREATE TABLE IF NOT EXISTS escalation_timers (
			id TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			fire_at DATETIME NOT NULL,
			step_index INTEGER NOT NULL DEFAULT 0,
			path TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timers_fire_at
			ON escalation_timers (fire_at)`,
		`CREATE TABLE IF NOT EXISTS routing_feedback (
			id TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			category TEXT DEFAULT '',
			comment TEXT DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_created
			ON routing_feedback (created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Rules

func (a *Adapter) CreateRule(ctx context.Context, rule *routing.RoutingRule) error {
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	handler, err := json.Marshal(rule.Handler)
	if err != nil {
		return fmt.Errorf("failed to marshal handler: %w", err)
	}
	fallback, err := marshalNullable(rule.FallbackHandler)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback handler: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO routing_rules
			(id, name, priority, is_active, criteria, handler, fallback_handler, workload_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Priority, rule.IsActive,
		string(criteria), string(handler), fallback, rule.WorkloadLimit,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (a *Adapter) GetRule(ctx context.Context, id string) (*routing.RoutingRule, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, name, priority, is_active, criteria, handler, fallback_handler, workload_limit, created_at, updated_at
		FROM routing_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, routing.ErrRuleNotFound
	}
	return rule, err
}

func (a *Adapter) ListRules(ctx context.Context, activeOnly bool) ([]*routing.RoutingRule, error) {
	query := `
		SELECT id, name, priority, is_active, criteria, handler, fallback_handler, workload_limit, created_at, updated_at
		FROM routing_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY priority ASC, created_at ASC`

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*routing.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (a *Adapter) UpdateRule(ctx context.Context, rule *routing.RoutingRule) error {
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	handler, err := json.Marshal(rule.Handler)
	if err != nil {
		return fmt.Errorf("failed to marshal handler: %w", err)
	}
	fallback, err := marshalNullable(rule.FallbackHandler)
	if err != nil {
		return fmt.Errorf("failed to marshal fallback handler: %w", err)
	}

	result, err := a.db.ExecContext(ctx, `
		UPDATE routing_rules
		SET name = ?, priority = ?, is_active = ?, criteria = ?, handler = ?,
			fallback_handler = ?, workload_limit = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.Priority, rule.IsActive, string(criteria), string(handler),
		fallback, rule.WorkloadLimit, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return routing.ErrRuleNotFound
	}
	return nil
}

func (a *Adapter) DeleteRule(ctx context.Context, id string) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return routing.ErrRuleNotFound
	}
	return nil
}

// Directory

func (a *Adapter) GetPerson(ctx context.Context, id string) (*routing.Person, error) {
	var p routing.Person
	var skills string
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, email, skills, is_active FROM persons WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Email, &skills, &p.IsActive)
	if err == sql.ErrNoRows {
		return nil, routing.ErrHandlerNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(skills), &p.Skills); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	return &p, nil
}

func (a *Adapter) GetTeam(ctx context.Context, id string) (*routing.Team, error) {
	var t routing.Team
	var members, skills string
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, member_ids, skills FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &members, &skills)
	if err == sql.ErrNoRows {
		return nil, routing.ErrHandlerNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &t.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member ids: %w", err)
	}
	if err := json.Unmarshal([]byte(skills), &t.Skills); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	return &t, nil
}

func (a *Adapter) GetQueue(ctx context.Context, id string) (*routing.Queue, error) {
	var q routing.Queue
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, description FROM queues WHERE id = ?`, id).
		Scan(&q.ID, &q.Name, &q.Description)
	if err == sql.ErrNoRows {
		return nil, routing.ErrHandlerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListPersonsBySkills returns active persons sharing at least one of the
// given skills. Matching is done in Go; the directory is small and the
// skills column is a JSON array.
func (a *Adapter) ListPersonsBySkills(ctx context.Context, skills []string) ([]*routing.Person, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, email, skills, is_active FROM persons WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := make(map[string]bool, len(skills))
	for _, s := range skills {
		want[s] = true
	}

	var persons []*routing.Person
	for rows.Next() {
		var p routing.Person
		var raw string
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &raw, &p.IsActive); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &p.Skills); err != nil {
			return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
		}
		for _, s := range p.Skills {
			if want[s] {
				persons = append(persons, &p)
				break
			}
		}
	}
	return persons, rows.Err()
}

func (a *Adapter) UpsertPerson(ctx context.Context, p *routing.Person) error {
	skills, err := json.Marshal(p.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO persons (id, name, email, skills, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email,
			skills = excluded.skills, is_active = excluded.is_active`,
		p.ID, p.Name, p.Email, string(skills), p.IsActive)
	return err
}

func (a *Adapter) UpsertTeam(ctx context.Context, t *routing.Team) error {
	members, err := json.Marshal(t.MemberIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal member ids: %w", err)
	}
	skills, err := json.Marshal(t.Skills)
	if err != nil {
		return fmt.Errorf("failed to marshal skills: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, member_ids, skills)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, member_ids = excluded.member_ids,
			skills = excluded.skills`,
		t.ID, t.Name, string(members), string(skills))
	return err
}

func (a *Adapter) UpsertQueue(ctx context.Context, q *routing.Queue) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO queues (id, name, description)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description`,
		q.ID, q.Name, q.Description)
	return err
}

// Decisions

const decisionColumns = `id, request_id, request_type, revision, rule_id, rule_name,
	handler, confidence, reasoning, factors, alternatives, status, escalation_level,
	was_escalated, was_rerouted, feedback_score, feedback_comment, created_at`

func (a *Adapter) GetDecision(ctx context.Context, id string) (*routing.RoutingDecision, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, routing.ErrDecisionNotFound
	}
	return d, err
}

func (a *Adapter) CurrentDecision(ctx context.Context, requestID string) (*routing.RoutingDecision, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions
		WHERE request_id = ? ORDER BY revision DESC LIMIT 1`, requestID)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, routing.ErrDecisionNotFound
	}
	return d, err
}

func (a *Adapter) ListDecisions(ctx context.Context, requestID string) ([]*routing.RoutingDecision, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions
		WHERE request_id = ? ORDER BY revision ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (a *Adapter) ListDecisionsSince(ctx context.Context, since time.Time) ([]*routing.RoutingDecision, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions
		WHERE created_at >= ? ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// CommitDecision writes a decision revision together with its cursor
// advance, counter changes, supersede, and escalation timer in one
// transaction. The revision check makes concurrent commits for the same
// request mutually exclusive.
func (a *Adapter) CommitDecision(ctx context.Context, commit *routing.DecisionCommit) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var latest int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM routing_decisions WHERE request_id = ?`,
		commit.Decision.RequestID).Scan(&latest); err != nil {
		return err
	}
	if latest != commit.ExpectedRevision {
		return routing.ErrRevisionConflict
	}

	d := commit.Decision
	handler, err := json.Marshal(d.Handler)
	if err != nil {
		return fmt.Errorf("failed to marshal handler: %w", err)
	}
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	alternatives, err := json.Marshal(d.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO routing_decisions
			(id, request_id, request_type, revision, rule_id, rule_name, handler,
			confidence, reasoning, factors, alternatives, status, escalation_level,
			was_escalated, was_rerouted, feedback_score, feedback_comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RequestID, d.RequestType, d.Revision, d.RuleID, d.RuleName,
		string(handler), d.Confidence, d.Reasoning, string(factors), string(alternatives),
		string(d.Status), d.EscalationLevel, d.WasEscalated, d.WasRerouted,
		d.FeedbackScore, d.FeedbackComment, d.CreatedAt); err != nil {
		return err
	}

	if commit.SupersedeDecisionID != "" {
		// The status guard doubles as a race check: if an ack closed the
		// prior revision first, the whole commit aborts.
		result, err := tx.ExecContext(ctx, `
			UPDATE routing_decisions SET status = ?
			WHERE id = ? AND status IN (?, ?)`,
			string(routing.StatusSuperseded), commit.SupersedeDecisionID,
			string(routing.StatusAssigned), string(routing.StatusEscalated))
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return routing.ErrDecisionNotCurrent
		}
	}

	if commit.CursorKey != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO routing_cursors (key, position) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET position = excluded.position`,
			commit.CursorKey, commit.CursorNext); err != nil {
			return err
		}
	}

	for _, c := range []struct {
		scope string
		id    string
		delta int
	}{
		{"rule", commit.AcquireRuleID, 1},
		{"handler", commit.AcquireHandlerID, 1},
		{"rule", commit.ReleaseRuleID, -1},
		{"handler", commit.ReleaseHandlerID, -1},
	} {
		if c.id == "" {
			continue
		}
		if err := adjustCounterTx(ctx, tx, c.scope, c.id, c.delta); err != nil {
			return err
		}
	}

	if commit.Timer != nil {
		path, err := json.Marshal(commit.Timer.Path)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation path: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO escalation_timers (id, decision_id, request_id, fire_at, step_index, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			commit.Timer.ID, commit.Timer.DecisionID, commit.Timer.RequestID,
			commit.Timer.FireAt, commit.Timer.StepIndex, string(path),
			commit.Timer.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (a *Adapter) TransitionDecision(ctx context.Context, decisionID string, from []routing.DecisionStatus, to routing.DecisionStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := make([]interface{}, 0, len(from)+2)
	args = append(args, string(to), decisionID)
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := a.db.ExecContext(ctx,
		`UPDATE routing_decisions SET status = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *Adapter) SetDecisionFeedback(ctx context.Context, decisionID string, score int, comment string) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE routing_decisions SET feedback_score = ?, feedback_comment = ?
		WHERE id = ?`, score, comment, decisionID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return routing.ErrDecisionNotFound
	}
	return nil
}

// Cursors and counters

func (a *Adapter) GetCursor(ctx context.Context, key string) (int, error) {
	var position int
	err := a.db.QueryRowContext(ctx,
		`SELECT position FROM routing_cursors WHERE key = ?`, key).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return position, err
}

func (a *Adapter) RuleInFlight(ctx context.Context, ruleID string) (int, error) {
	return a.counter(ctx, "rule", ruleID)
}

func (a *Adapter) HandlerInFlight(ctx context.Context, handlerID string) (int, error) {
	return a.counter(ctx, "handler", handlerID)
}

func (a *Adapter) ReleaseAssignment(ctx context.Context, ruleID, handlerID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if ruleID != "" {
		if err := adjustCounterTx(ctx, tx, "rule", ruleID, -1); err != nil {
			return err
		}
	}
	if handlerID != "" {
		if err := adjustCounterTx(ctx, tx, "handler", handlerID, -1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (a *Adapter) counter(ctx context.Context, scope, id string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT in_flight FROM assignment_counters WHERE scope = ? AND ref_id = ?`,
		scope, id).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func adjustCounterTx(ctx context.Context, tx *sql.Tx, scope, id string, delta int) error {
	// Counters never go negative; a release without a matching acquire
	// clamps at zero.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO assignment_counters (scope, ref_id, in_flight)
		VALUES (?, ?, MAX(0, ?))
		ON CONFLICT(scope, ref_id) DO UPDATE SET
			in_flight = MAX(0, in_flight + ?)`,
		scope, id, delta, delta)
	return err
}

// Escalation timers

func (a *Adapter) DueTimers(ctx context.Context, now time.Time, limit int) ([]*routing.EscalationTimer, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, decision_id, request_id, fire_at, step_index, path, created_at
		FROM escalation_timers WHERE fire_at <= ?
		ORDER BY fire_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []*routing.EscalationTimer
	for rows.Next() {
		var t routing.EscalationTimer
		var path string
		if err := rows.Scan(&t.ID, &t.DecisionID, &t.RequestID, &t.FireAt,
			&t.StepIndex, &path, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(path), &t.Path); err != nil {
			return nil, fmt.Errorf("failed to unmarshal escalation path: %w", err)
		}
		timers = append(timers, &t)
	}
	return timers, rows.Err()
}

func (a *Adapter) DeleteTimer(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM escalation_timers WHERE id = ?`, id)
	return err
}

func (a *Adapter) CancelTimers(ctx context.Context, requestID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM escalation_timers WHERE request_id = ?`, requestID)
	return err
}

// Feedback

func (a *Adapter) CreateFeedback(ctx context.Context, fb *routing.RoutingFeedback) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO routing_feedback (id, decision_id, score, category, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.DecisionID, fb.Score, fb.Category, fb.Comment, fb.CreatedAt)
	return err
}

func (a *Adapter) ListFeedbackSince(ctx context.Context, since time.Time) ([]*routing.RoutingFeedback, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, decision_id, score, category, comment, created_at
		FROM routing_feedback WHERE created_at >= ? ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []*routing.RoutingFeedback
	for rows.Next() {
		var fb routing.RoutingFeedback
		if err := rows.Scan(&fb.ID, &fb.DecisionID, &fb.Score, &fb.Category,
			&fb.Comment, &fb.CreatedAt); err != nil {
			return nil, err
		}
		feedback = append(feedback, &fb)
	}
	return feedback, rows.Err()
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*routing.RoutingRule, error) {
	var rule routing.RoutingRule
	var criteria, handler string
	var fallback sql.NullString
	var workloadLimit sql.NullInt64

	err := row.Scan(&rule.ID, &rule.Name, &rule.Priority, &rule.IsActive,
		&criteria, &handler, &fallback, &workloadLimit,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(criteria), &rule.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(handler), &rule.Handler); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handler: %w", err)
	}
	if fallback.Valid && fallback.String != "" {
		var fb routing.RouteHandler
		if err := json.Unmarshal([]byte(fallback.String), &fb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fallback handler: %w", err)
		}
		rule.FallbackHandler = &fb
	}
	if workloadLimit.Valid {
		limit := int(workloadLimit.Int64)
		rule.WorkloadLimit = &limit
	}
	return &rule, nil
}

func scanDecision(row rowScanner) (*routing.RoutingDecision, error) {
	var d routing.RoutingDecision
	var handler, factors, alternatives, status string
	var feedbackScore sql.NullInt64

	err := row.Scan(&d.ID, &d.RequestID, &d.RequestType, &d.Revision, &d.RuleID,
		&d.RuleName, &handler, &d.Confidence, &d.Reasoning, &factors, &alternatives,
		&status, &d.EscalationLevel, &d.WasEscalated, &d.WasRerouted,
		&feedbackScore, &d.FeedbackComment, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(handler), &d.Handler); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handler: %w", err)
	}
	if err := json.Unmarshal([]byte(factors), &d.Factors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	if err := json.Unmarshal([]byte(alternatives), &d.Alternatives); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alternatives: %w", err)
	}
	d.Status = routing.DecisionStatus(status)
	if feedbackScore.Valid {
		score := int(feedbackScore.Int64)
		d.FeedbackScore = &score
	}
	return &d, nil
}

func collectDecisions(rows *sql.Rows) ([]*routing.RoutingDecision, error) {
	var decisions []*routing.RoutingDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch h := v.(type) {
	case *routing.RouteHandler:
		if h == nil {
			return sql.NullString{}, nil
		}
		data, err := json.Marshal(h)
		if err != nil {
			return sql.NullString{}, err
		}
		return sql.NullString{String: string(data), Valid: true}, nil
	default:
		return sql.NullString{}, fmt.Errorf("unsupported nullable type %T", v)
	}
}
