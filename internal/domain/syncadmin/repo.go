package syncadmin

import "context"

// Repository loads the administration datasets.
type Repository interface {
	FHIRProfiles(ctx context.Context) ([]FHIRProfile, error)
	SyncTaskTypes(ctx context.Context) ([]SyncTaskType, error)
	SyncTasks(ctx context.Context) ([]SyncTask, error)
}
