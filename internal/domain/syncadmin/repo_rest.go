package syncadmin

import (
	"context"
	"fmt"

	"github.com/ehr/vlpredict/internal/platform/openmrs"
)

// OpenMRSClient is the subset of *openmrs.Client the REST repository uses.
type OpenMRSClient interface {
	SyncFHIRProfiles(ctx context.Context) ([]openmrs.SyncFHIRProfile, error)
	SyncTaskTypes(ctx context.Context) ([]openmrs.SyncTaskType, error)
	SyncTasks(ctx context.Context) ([]openmrs.SyncTask, error)
}

type repoREST struct {
	client OpenMRSClient
}

// NewRESTRepo reads datasets through the OpenMRS sync module REST API.
func NewRESTRepo(client OpenMRSClient) Repository {
	return &repoREST{client: client}
}

func (r *repoREST) FHIRProfiles(ctx context.Context) ([]FHIRProfile, error) {
	items, err := r.client.SyncFHIRProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fhir profiles: %w", err)
	}
	out := make([]FHIRProfile, len(items))
	for i, p := range items {
		out[i] = FHIRProfile{UUID: p.UUID, Name: p.Name, URL: p.URL, ProfileEnabled: p.ProfileEnabled}
	}
	return out, nil
}

func (r *repoREST) SyncTaskTypes(ctx context.Context) ([]SyncTaskType, error) {
	items, err := r.client.SyncTaskTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync task types: %w", err)
	}
	out := make([]SyncTaskType, len(items))
	for i, t := range items {
		out[i] = SyncTaskType{UUID: t.UUID, Name: t.Name, URL: t.URL, DataType: t.DataType}
	}
	return out, nil
}

func (r *repoREST) SyncTasks(ctx context.Context) ([]SyncTask, error) {
	items, err := r.client.SyncTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync tasks: %w", err)
	}
	out := make([]SyncTask, len(items))
	for i, t := range items {
		task := SyncTask{
			UUID:            t.UUID,
			SyncTask:        t.SyncTask,
			Status:          t.Status,
			StatusCode:      t.StatusCode,
			ActionCompleted: t.ActionCompleted,
			RequireAction:   t.RequireAction,
			DateSent:        t.DateSent,
		}
		if t.SyncTaskType != nil {
			task.TaskType = t.SyncTaskType.Display
		}
		out[i] = task
	}
	return out, nil
}
