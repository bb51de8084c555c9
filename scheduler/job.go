package scheduler

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

const (
	StateEnqueued  State = "enqueued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsFinished returns true for terminal states.
func (s State) IsFinished() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Data is a string-keyed payload attached to a job as input, progress or output.
type Data map[string]string

// String returns the value for key, or "".
func (d Data) String(key string) string {
	return d[key]
}

// Int64 returns the value for key parsed as an integer, or 0.
func (d Data) Int64(key string) int64 {
	v, err := strconv.ParseInt(d[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetInt64 stores an integer value.
func (d Data) SetInt64(key string, v int64) {
	d[key] = strconv.FormatInt(v, 10)
}

func (d Data) clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// JobInfo is a snapshot of a job record.
type JobInfo struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	Tags       []string  `json:"tags"`
	State      State     `json:"state"`
	Input      Data      `json:"input,omitempty"`
	Progress   Data      `json:"progress,omitempty"`
	Output     Data      `json:"output,omitempty"`
	Attempt    int       `json:"attempt"`
	NextRunAt  time.Time `json:"next_run_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// HasTag reports whether the job carries tag.
func (j *JobInfo) HasTag(tag string) bool {
	return slices.Contains(j.Tags, tag)
}

func (j *JobInfo) clone() JobInfo {
	c := *j
	c.Tags = slices.Clone(j.Tags)
	c.Input = j.Input.clone()
	c.Progress = j.Progress.clone()
	c.Output = j.Output.clone()
	return c
}

// Request describes a job to enqueue.
type Request struct {
	Kind  string
	Tags  []string
	Input Data
}

type resultKind int

const (
	resultSuccess resultKind = iota
	resultFailure
	resultRetry
)

// Result is what a worker returns for one execution.
type Result struct {
	kind   resultKind
	output Data
}

// Success finishes the job as Succeeded with output.
func Success(output Data) Result { return Result{kind: resultSuccess, output: output} }

// Failure finishes the job as Failed with output.
func Failure(output Data) Result { return Result{kind: resultFailure, output: output} }

// Retry asks for another attempt after a backoff delay.
func Retry() Result { return Result{kind: resultRetry} }

// Output returns the data carried by a Success or Failure result.
func (r Result) Output() Data { return r.output }

// IsSuccess reports whether the result is a Success.
func (r Result) IsSuccess() bool { return r.kind == resultSuccess }

// IsFailure reports whether the result is a Failure.
func (r Result) IsFailure() bool { return r.kind == resultFailure }

// IsRetry reports whether the result asks for another attempt.
func (r Result) IsRetry() bool { return r.kind == resultRetry }

// WorkerFunc executes one attempt of a job. ctx is cancelled when the job is
// cancelled or the scheduler shuts down.
type WorkerFunc func(ctx context.Context, exec *Execution) Result

// Execution is the running attempt handed to a WorkerFunc.
type Execution struct {
	ctx   context.Context
	s     *Scheduler
	id    uuid.UUID
	input Data
	try   int
}

// ID returns the job handle.
func (e *Execution) ID() uuid.UUID { return e.id }

// Input returns the job input.
func (e *Execution) Input() Data { return e.input }

// Attempt returns the 1-based attempt number.
func (e *Execution) Attempt() int { return e.try }

// IsStopped reports whether the job was cancelled or the scheduler is stopping.
func (e *Execution) IsStopped() bool { return e.ctx.Err() != nil }

// SetProgress publishes progress data for the running job.
func (e *Execution) SetProgress(progress Data) error {
	return e.s.setProgress(e.id, progress)
}
