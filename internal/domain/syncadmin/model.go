package syncadmin

import (
	"github.com/ehr/vlpredict/internal/domain/listing"
	"github.com/ehr/vlpredict/pkg/pagination"
)

// Dataset names an administration table.
type Dataset string

const (
	DatasetFHIRProfiles  Dataset = "fhir-profiles"
	DatasetSyncTaskTypes Dataset = "sync-task-types"
	DatasetSyncTasks     Dataset = "sync-tasks"
)

// FHIRProfile is a sync module FHIR profile.
type FHIRProfile struct {
	UUID           string
	Name           string
	URL            string
	ProfileEnabled bool
}

// SyncTaskType is a configured kind of sync task.
type SyncTaskType struct {
	UUID     string
	Name     string
	URL      string
	DataType string
}

// SyncTask is one logged sync task run.
type SyncTask struct {
	UUID            string
	SyncTask        string
	TaskType        string
	Status          string
	StatusCode      int
	ActionCompleted bool
	RequireAction   bool
	DateSent        string
}

func (p FHIRProfile) Row() listing.Row {
	return listing.Row{
		"name":           p.Name,
		"url":            p.URL,
		"uuid":           p.UUID,
		"profileEnabled": p.ProfileEnabled,
	}
}

func (t SyncTaskType) Row() listing.Row {
	return listing.Row{
		"name":     t.Name,
		"url":      t.URL,
		"dataType": t.DataType,
		"uuid":     t.UUID,
	}
}

func (t SyncTask) Row() listing.Row {
	return listing.Row{
		"syncTask":        t.SyncTask,
		"syncTaskType":    t.TaskType,
		"status":          t.Status,
		"statusCode":      t.StatusCode,
		"actionCompleted": t.ActionCompleted,
		"requireAction":   t.RequireAction,
		"dateSent":        t.DateSent,
		"uuid":            t.UUID,
	}
}

// Descriptor is what a client needs to render a dataset's table.
type Descriptor struct {
	Name      Dataset          `json:"name"`
	Title     string           `json:"title"`
	Columns   []listing.Column `json:"columns"`
	PageSizes []int            `json:"page_sizes"`
}

var descriptors = []Descriptor{
	{
		Name:  DatasetFHIRProfiles,
		Title: "FHIR Profiles",
		Columns: []listing.Column{
			{Key: "name", Header: "NAME"},
			{Key: "url", Header: "URL"},
			{Key: "uuid", Header: "UUID"},
			{Key: "profileEnabled", Header: "PROFILE ENABLED"},
		},
	},
	{
		Name:  DatasetSyncTaskTypes,
		Title: "Sync Task Types",
		Columns: []listing.Column{
			{Key: "name", Header: "NAME"},
			{Key: "url", Header: "URL"},
			{Key: "dataType", Header: "DATA TYPE ID"},
			{Key: "uuid", Header: "UUID"},
		},
	},
	{
		Name:  DatasetSyncTasks,
		Title: "Sync Tasks",
		Columns: []listing.Column{
			{Key: "syncTaskType", Header: "TASK TYPE"},
			{Key: "status", Header: "STATUS"},
			{Key: "statusCode", Header: "STATUS CODE"},
			{Key: "actionCompleted", Header: "ACTION COMPLETED"},
			{Key: "dateSent", Header: "DATE SENT"},
			{Key: "uuid", Header: "UUID"},
		},
	},
}

func init() {
	for i := range descriptors {
		descriptors[i].PageSizes = pagination.PageSizes
	}
}

// Describe returns the descriptor for name.
func Describe(name Dataset) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
