package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studysched/internal/activity"
	"studysched/internal/events"
	"studysched/internal/schedule"
	"studysched/internal/scheduling"
	"studysched/internal/survey"
	logx "studysched/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on error.
func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// events

func (s *sqliteStore) PutEvent(ctx context.Context, e events.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(health_code, event_id, ts) VALUES(?,?,?)
		 ON CONFLICT(health_code, event_id) DO UPDATE SET ts=excluded.ts`,
		e.HealthCode, e.EventID, e.Timestamp.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PutEventIfAbsent(ctx context.Context, e events.Event) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(health_code, event_id, ts) VALUES(?,?,?)
		 ON CONFLICT(health_code, event_id) DO NOTHING`,
		e.HealthCode, e.EventID, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetEventMap(ctx context.Context, healthCode string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, ts FROM events WHERE health_code = ?`, healthCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = time.UnixMilli(ms).UTC()
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEvents(ctx context.Context, healthCode string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE health_code = ?`, healthCode)
	return err
}

// activities

func (s *sqliteStore) GetActivities(ctx context.Context, healthCode string, endsOn schedule.LocalDateTime) ([]schedule.ScheduledActivity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT health_code, body FROM activities
		 WHERE health_code = ? AND local_scheduled_on <= ?
		 ORDER BY local_scheduled_on, guid`,
		healthCode, endsOn.String(),
	)
	if err != nil {
		return nil, err
	}
	return scanActivities(rows)
}

func (s *sqliteStore) GetActivity(ctx context.Context, healthCode, guid string) (schedule.ScheduledActivity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT health_code, body FROM activities WHERE health_code = ? AND guid = ?`, healthCode, guid)
	if err != nil {
		return schedule.ScheduledActivity{}, err
	}
	list, err := scanActivities(rows)
	if err != nil {
		return schedule.ScheduledActivity{}, err
	}
	if len(list) == 0 {
		return schedule.ScheduledActivity{}, fmt.Errorf("%w: %s", activity.ErrNotFound, guid)
	}
	return list[0], nil
}

func (s *sqliteStore) SaveActivities(ctx context.Context, list []schedule.ScheduledActivity) error {
	if len(list) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO activities(health_code, guid, plan_guid, local_scheduled_on, local_expires_on, started_on, finished_on, body)
			 VALUES(?,?,?,?,?,?,?,?)
			 ON CONFLICT(health_code, guid) DO UPDATE SET
			   plan_guid=excluded.plan_guid, local_scheduled_on=excluded.local_scheduled_on,
			   local_expires_on=excluded.local_expires_on, started_on=excluded.started_on,
			   finished_on=excluded.finished_on, body=excluded.body`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range list {
			body, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encode activity %s: %w", a.Guid, err)
			}
			var expires string
			if a.LocalExpiresOn != nil {
				expires = a.LocalExpiresOn.String()
			}
			if _, err := stmt.ExecContext(ctx,
				a.HealthCode, a.Guid, nullStr(a.SchedulePlanGuid), a.LocalScheduledOn.String(), nullStr(expires),
				nullMillis(a.StartedOn), nullMillis(a.FinishedOn), string(body),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) DeleteActivities(ctx context.Context, list []schedule.ScheduledActivity) error {
	if len(list) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM activities WHERE health_code = ? AND guid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range list {
			if _, err := stmt.ExecContext(ctx, a.HealthCode, a.Guid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) DeleteActivitiesForUser(ctx context.Context, healthCode string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE health_code = ?`, healthCode)
	return err
}

func (s *sqliteStore) ListDeletableForPlan(ctx context.Context, planGuid string, limit int) ([]schedule.ScheduledActivity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT health_code, body FROM activities
		 WHERE plan_guid = ? AND started_on IS NULL
		 ORDER BY local_scheduled_on, guid LIMIT ?`,
		planGuid, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanActivities(rows)
}

func (s *sqliteStore) PruneActivities(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activities
		 WHERE (finished_on IS NOT NULL AND finished_on < ?)
		    OR (started_on IS NULL AND finished_on IS NULL AND local_expires_on IS NOT NULL AND local_expires_on < ?)`,
		cutoff.UnixMilli(), schedule.LocalDateTimeOf(cutoff.UTC()).String(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanActivities(rows *sql.Rows) ([]schedule.ScheduledActivity, error) {
	defer rows.Close()
	var out []schedule.ScheduledActivity
	for rows.Next() {
		var hc, body string
		if err := rows.Scan(&hc, &body); err != nil {
			return nil, err
		}
		var a schedule.ScheduledActivity
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("decode activity: %w", err)
		}
		a.HealthCode = hc
		out = append(out, a)
	}
	return out, rows.Err()
}

// plans

func (s *sqliteStore) GetPlan(ctx context.Context, studyID, guid string) (schedule.SchedulePlan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE study_id = ? AND guid = ?`, studyID, guid).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.SchedulePlan{}, fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, guid)
	}
	if err != nil {
		return schedule.SchedulePlan{}, err
	}
	var p schedule.SchedulePlan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return schedule.SchedulePlan{}, fmt.Errorf("decode plan %s: %w", guid, err)
	}
	return p, nil
}

func (s *sqliteStore) ListPlans(ctx context.Context, studyID string) ([]schedule.SchedulePlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM plans WHERE study_id = ? ORDER BY label, guid`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.SchedulePlan
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p schedule.SchedulePlan
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreatePlan(ctx context.Context, p schedule.SchedulePlan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans(study_id, guid, label, version, modified_on, body) VALUES(?,?,?,?,?,?)`,
		p.StudyID, p.Guid, p.Label, p.Version, p.ModifiedOn.UTC().Format(time.RFC3339Nano), string(body),
	)
	return err
}

func (s *sqliteStore) UpdatePlan(ctx context.Context, p schedule.SchedulePlan, expected int64) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var cur int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM plans WHERE study_id = ? AND guid = ?`, p.StudyID, p.Guid).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, p.Guid)
		}
		if err != nil {
			return err
		}
		if cur != expected {
			return fmt.Errorf("%w: stored version %d, expected %d", scheduling.ErrConcurrentModification, cur, expected)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE plans SET label=?, version=?, modified_on=?, body=? WHERE study_id=? AND guid=?`,
			p.Label, p.Version, p.ModifiedOn.UTC().Format(time.RFC3339Nano), string(body), p.StudyID, p.Guid,
		)
		return err
	})
}

func (s *sqliteStore) DeletePlan(ctx context.Context, studyID, guid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE study_id = ? AND guid = ?`, studyID, guid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, guid)
	}
	return nil
}

// surveys

const surveyColumns = `guid, created_on, identifier, name, published`

func (s *sqliteStore) GetMostRecentlyPublished(ctx context.Context, guid string) (survey.Survey, error) {
	return s.oneSurvey(ctx,
		`SELECT `+surveyColumns+` FROM surveys WHERE guid = ? AND published = 1 ORDER BY created_on DESC LIMIT 1`, guid)
}

func (s *sqliteStore) GetSurvey(ctx context.Context, guid string, createdOn time.Time) (survey.Survey, error) {
	return s.oneSurvey(ctx,
		`SELECT `+surveyColumns+` FROM surveys WHERE guid = ? AND created_on = ?`, guid, createdOn.UnixMilli())
}

func (s *sqliteStore) oneSurvey(ctx context.Context, query string, args ...any) (survey.Survey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return survey.Survey{}, err
	}
	list, err := scanSurveys(rows)
	if err != nil {
		return survey.Survey{}, err
	}
	if len(list) == 0 {
		return survey.Survey{}, survey.ErrNotFound
	}
	return list[0], nil
}

func (s *sqliteStore) PutSurvey(ctx context.Context, v survey.Survey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO surveys(guid, created_on, identifier, name, published) VALUES(?,?,?,?,?)
		 ON CONFLICT(guid, created_on) DO UPDATE SET identifier=excluded.identifier, name=excluded.name, published=excluded.published`,
		v.Guid, v.CreatedOn.UnixMilli(), v.Identifier, nullStr(v.Name), boolInt(v.Published),
	)
	return err
}

func (s *sqliteStore) PublishSurvey(ctx context.Context, guid string, createdOn time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE surveys SET published = 1 WHERE guid = ? AND created_on = ?`, guid, createdOn.UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return survey.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListSurveys(ctx context.Context) ([]survey.Survey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+surveyColumns+` FROM surveys ORDER BY guid, created_on`)
	if err != nil {
		return nil, err
	}
	return scanSurveys(rows)
}

func scanSurveys(rows *sql.Rows) ([]survey.Survey, error) {
	defer rows.Close()
	var out []survey.Survey
	for rows.Next() {
		var (
			v         survey.Survey
			ms        int64
			name      sql.NullString
			published int
		)
		if err := rows.Scan(&v.Guid, &ms, &v.Identifier, &name, &published); err != nil {
			return nil, err
		}
		v.CreatedOn = time.UnixMilli(ms).UTC()
		v.Name = name.String
		v.Published = published != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// audit

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, type, health_code, subject, meta) VALUES(?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Type, nullStr(e.HealthCode), nullStr(e.Subject), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, type, health_code, subject, meta FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                 AuditEntry
			at                string
			hc, subject, meta sql.NullString
		)
		if err := rows.Scan(&at, &e.Type, &hc, &subject, &meta); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.HealthCode, e.Subject, e.MetaJSON = hc.String, subject.String, meta.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
