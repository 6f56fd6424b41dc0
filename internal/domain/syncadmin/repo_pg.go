package syncadmin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type repoPG struct {
	db querier
}

// NewPGRepo reads datasets straight from the sync module tables, typically
// on a reporting replica.
func NewPGRepo(db querier) Repository {
	return &repoPG{db: db}
}

func (r *repoPG) FHIRProfiles(ctx context.Context) ([]FHIRProfile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uuid, name, COALESCE(url_end_point, ''), profile_enabled
		FROM sync_fhir_profile
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sync_fhir_profile: %w", err)
	}
	defer rows.Close()

	var out []FHIRProfile
	for rows.Next() {
		var p FHIRProfile
		if err := rows.Scan(&p.UUID, &p.Name, &p.URL, &p.ProfileEnabled); err != nil {
			return nil, fmt.Errorf("scan sync_fhir_profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) SyncTaskTypes(ctx context.Context) ([]SyncTaskType, error) {
	rows, err := r.db.Query(ctx, `
		SELECT uuid, name, COALESCE(url, ''), COALESCE(data_type, '')
		FROM sync_task_type
		WHERE retired = false
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sync_task_type: %w", err)
	}
	defer rows.Close()

	var out []SyncTaskType
	for rows.Next() {
		var t SyncTaskType
		if err := rows.Scan(&t.UUID, &t.Name, &t.URL, &t.DataType); err != nil {
			return nil, fmt.Errorf("scan sync_task_type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) SyncTasks(ctx context.Context) ([]SyncTask, error) {
	rows, err := r.db.Query(ctx, `
		SELECT t.uuid, COALESCE(t.sync_task, ''), COALESCE(tt.name, ''),
			COALESCE(t.status, ''), COALESCE(t.status_code, 0),
			t.action_completed, t.require_action, t.date_sent
		FROM sync_task t
		LEFT JOIN sync_task_type tt ON tt.sync_task_type_id = t.sync_task_type
		ORDER BY t.date_sent DESC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("query sync_task: %w", err)
	}
	defer rows.Close()

	var out []SyncTask
	for rows.Next() {
		var (
			t        SyncTask
			dateSent *time.Time
		)
		if err := rows.Scan(&t.UUID, &t.SyncTask, &t.TaskType, &t.Status, &t.StatusCode,
			&t.ActionCompleted, &t.RequireAction, &dateSent); err != nil {
			return nil, fmt.Errorf("scan sync_task: %w", err)
		}
		if dateSent != nil {
			t.DateSent = dateSent.UTC().Format(time.RFC3339)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
