package storage

import "time"

// DefaultHistoryLimit bounds the number of submission records kept.
const DefaultHistoryLimit = 100

// StoredCredentials is the persisted form of the Rovas credentials.
type StoredCredentials struct {
	APIKey    string    `json:"api_key"`
	APIToken  string    `json:"api_token"`
	ProjectID int64     `json:"project_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmissionRecord describes one finished submission.
type SubmissionRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Minutes       int64     `json:"minutes"`
	State         string    `json:"state"`
	Completed     bool      `json:"completed"`
	WorkRecordID  int64     `json:"work_record_id,omitempty"`
	UsageRecordID int64     `json:"usage_record_id,omitempty"`
	ReferenceID   int64     `json:"reference_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}
