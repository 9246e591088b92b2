package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/rovas-connector/internal/storage"
)

// parseCredentials converts a Redis hash to StoredCredentials
func parseCredentials(data map[string]string) (*storage.StoredCredentials, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	projectID, err := strconv.ParseInt(data["project_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse project_id: %w", err)
	}

	creds := &storage.StoredCredentials{
		APIKey:    data["api_key"],
		APIToken:  data["api_token"],
		ProjectID: projectID,
	}
	if raw := data["updated_at"]; raw != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		creds.UpdatedAt = updatedAt
	}
	return creds, nil
}

// submissionFields flattens a SubmissionRecord into hash field/value pairs
func submissionFields(r storage.SubmissionRecord) []interface{} {
	return []interface{}{
		"id", r.ID,
		"started_at", r.StartedAt.Format(time.RFC3339Nano),
		"finished_at", r.FinishedAt.Format(time.RFC3339Nano),
		"minutes", strconv.FormatInt(r.Minutes, 10),
		"state", r.State,
		"completed", strconv.FormatBool(r.Completed),
		"work_record_id", strconv.FormatInt(r.WorkRecordID, 10),
		"usage_record_id", strconv.FormatInt(r.UsageRecordID, 10),
		"reference_id", strconv.FormatInt(r.ReferenceID, 10),
		"error", r.Error,
	}
}

// parseSubmission converts a Redis hash to SubmissionRecord
func parseSubmission(data map[string]string) (*storage.SubmissionRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	finishedAt, err := time.Parse(time.RFC3339Nano, data["finished_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	ints := map[string]int64{}
	for _, field := range []string{"minutes", "work_record_id", "usage_record_id", "reference_id"} {
		n, err := strconv.ParseInt(data[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}
		ints[field] = n
	}

	completed, err := strconv.ParseBool(data["completed"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse completed: %w", err)
	}

	return &storage.SubmissionRecord{
		ID:            data["id"],
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Minutes:       ints["minutes"],
		State:         data["state"],
		Completed:     completed,
		WorkRecordID:  ints["work_record_id"],
		UsageRecordID: ints["usage_record_id"],
		ReferenceID:   ints["reference_id"],
		Error:         data["error"],
	}, nil
}
