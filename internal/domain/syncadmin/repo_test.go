package syncadmin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/vlpredict/internal/platform/openmrs"
)

type mockOpenMRS struct {
	profiles []openmrs.SyncFHIRProfile
	types    []openmrs.SyncTaskType
	tasks    []openmrs.SyncTask
	err      error
}

func (m *mockOpenMRS) SyncFHIRProfiles(context.Context) ([]openmrs.SyncFHIRProfile, error) {
	return m.profiles, m.err
}

func (m *mockOpenMRS) SyncTaskTypes(context.Context) ([]openmrs.SyncTaskType, error) {
	return m.types, m.err
}

func (m *mockOpenMRS) SyncTasks(context.Context) ([]openmrs.SyncTask, error) {
	return m.tasks, m.err
}

func TestRESTRepo_SyncTasks(t *testing.T) {
	repo := NewRESTRepo(&mockOpenMRS{tasks: []openmrs.SyncTask{
		{UUID: "t-1", SyncTaskType: &openmrs.Ref{UUID: "tt", Display: "Viral Load"}, Status: "OK", StatusCode: 200, ActionCompleted: true},
		{UUID: "t-2"},
	}})

	tasks, err := repo.SyncTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].TaskType != "Viral Load" || tasks[0].StatusCode != 200 || !tasks[0].ActionCompleted {
		t.Errorf("unexpected first task %+v", tasks[0])
	}
	if tasks[1].TaskType != "" {
		t.Errorf("expected empty task type, got %q", tasks[1].TaskType)
	}
}

func TestRESTRepo_ProfilesAndTypes(t *testing.T) {
	repo := NewRESTRepo(&mockOpenMRS{
		profiles: []openmrs.SyncFHIRProfile{{UUID: "p", Name: "Lab", URL: "http://x", ProfileEnabled: true}},
		types:    []openmrs.SyncTaskType{{UUID: "s", Name: "VL", URL: "http://y", DataType: "java.lang.String"}},
	})

	profiles, err := repo.FHIRProfiles(context.Background())
	if err != nil || len(profiles) != 1 || profiles[0] != (FHIRProfile{UUID: "p", Name: "Lab", URL: "http://x", ProfileEnabled: true}) {
		t.Errorf("unexpected profiles %+v %v", profiles, err)
	}
	types, err := repo.SyncTaskTypes(context.Background())
	if err != nil || len(types) != 1 || types[0].DataType != "java.lang.String" {
		t.Errorf("unexpected types %+v %v", types, err)
	}
}

func TestRESTRepo_WrapsErrors(t *testing.T) {
	repo := NewRESTRepo(&mockOpenMRS{err: openmrs.ErrNotFound})
	if _, err := repo.SyncTaskTypes(context.Background()); !errors.Is(err, openmrs.ErrNotFound) {
		t.Errorf("expected wrapped ErrNotFound, got %v", err)
	}
}

// fakeRows is a minimal in-memory pgx.Rows.
type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.i-1], nil }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int:
			*p = row[i].(int)
		case *bool:
			*p = row[i].(bool)
		case **time.Time:
			if row[i] != nil {
				ts := row[i].(time.Time)
				*p = &ts
			}
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestPGRepo_SyncTasks(t *testing.T) {
	sent := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	q := &fakeQuerier{rows: &fakeRows{data: [][]any{
		{"t-1", "VL results", "Viral Load", "OK", 200, true, false, sent},
		{"t-2", "", "", "", 0, false, true, nil},
	}}}

	tasks, err := NewPGRepo(q).SyncTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q.sql, "FROM sync_task t") {
		t.Errorf("unexpected query %s", q.sql)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].DateSent != "2024-03-01T08:00:00Z" || tasks[0].TaskType != "Viral Load" {
		t.Errorf("unexpected first task %+v", tasks[0])
	}
	if tasks[1].DateSent != "" || !tasks[1].RequireAction {
		t.Errorf("unexpected second task %+v", tasks[1])
	}
}

func TestPGRepo_FHIRProfiles(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{data: [][]any{{"p-1", "Lab", "http://x", true}}}}

	profiles, err := NewPGRepo(q).FHIRProfiles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Name != "Lab" || !profiles[0].ProfileEnabled {
		t.Errorf("unexpected profiles %+v", profiles)
	}
}

func TestPGRepo_QueryError(t *testing.T) {
	q := &fakeQuerier{err: errors.New("relation does not exist")}
	if _, err := NewPGRepo(q).SyncTaskTypes(context.Background()); err == nil || !strings.Contains(err.Error(), "sync_task_type") {
		t.Errorf("expected wrapped query error, got %v", err)
	}
}
