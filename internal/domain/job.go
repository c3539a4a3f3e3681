package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobKind selects the batch operation a job runs.
type JobKind string

const (
	JobAggregate  JobKind = "aggregate"
	JobTrain      JobKind = "train"
	JobTrainScope JobKind = "train_scope"
	JobPredict    JobKind = "predict"
)

// JobStatus is the outcome of a processed job.
type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobInvalid   JobStatus = "invalid"
)

// Job is a batch trigger request. Scope is the key form ("company:acme",
// "state:TX"); aggregate jobs use CompanyID instead.
type Job struct {
	ID         string      `json:"id"`
	Kind       JobKind     `json:"kind"`
	CompanyID  string      `json:"company_id,omitempty"`
	Scope      string      `json:"scope,omitempty"`
	PestType   string      `json:"pest_type,omitempty"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	ModelTypes []ModelType `json:"model_types,omitempty"`
}

// Validate checks the fields required by the job kind.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.End.Before(j.Start) {
		return fmt.Errorf("job %s: end %s is before start %s", j.ID, DateKey(j.End), DateKey(j.Start))
	}
	switch j.Kind {
	case JobAggregate:
		if j.CompanyID == "" {
			return fmt.Errorf("job %s: aggregate requires company_id", j.ID)
		}
	case JobTrain, JobTrainScope, JobPredict:
		if _, err := ParseScope(j.Scope); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
	}
	for _, t := range j.ModelTypes {
		if _, err := ParseModelType(string(t)); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	return nil
}

// JobMessage is a job read from a transport together with its delivery
// metadata. DecodeErr is set when the payload could not be parsed.
type JobMessage struct {
	Job       Job
	DecodeErr error
	Key       []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(context.Context) error
}

// JobResult is published once per processed job. Output holds the
// kind-specific payload.
type JobResult struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Output      any       `json:"output,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
