package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type TaskName string

const (
	ProcessNodeTask          TaskName = "processNode"
	GenerateTestSetEntryTask TaskName = "generateTestSetEntry"
)

type TaskStatus string

const (
	TaskWaiting TaskStatus = "WAITING"
	TaskRunning TaskStatus = "RUNNING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
)

// Task is a unit of asynchronous work in the queue.
type Task struct {
	Id   string
	Name TaskName

	// tasks sharing a queue name run one by one.
	QueueName string

	Payload json.RawMessage

	Status      TaskStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	LockedUntil *time.Time
	LastError   string
	CreatedAt   time.Time
}

// Job is a typed payload of a task.
type Job interface {
	TaskName() TaskName

	// QueueName of the job. Empty means a queue of its own.
	QueueName() string
}

// ProcessNode asks to (re)process a node.
type ProcessNode struct {
	NodeId string `json:"nodeId"`

	// drop or reset existing entries of the node before processing.
	InvalidateData bool `json:"invalidateData,omitempty"`
}

func (ProcessNode) TaskName() TaskName { return ProcessNodeTask }

// tasks for a node are serialized.
func (p ProcessNode) QueueName() string { return p.NodeId }

// GenerateTestSetEntry asks a model to produce output for a TEST entry.
type GenerateTestSetEntry struct {
	// fine-tune id or comparison model name.
	ModelId     string `json:"modelId"`
	NodeEntryId string `json:"nodeEntryId"`
}

func (GenerateTestSetEntry) TaskName() TaskName { return GenerateTestSetEntryTask }

func (GenerateTestSetEntry) QueueName() string { return "" }

// DecodeJob decodes payload of the task as a Job.
func DecodeJob(t Task) (Job, error) {
	switch t.Name {
	case ProcessNodeTask:
		j := ProcessNode{}
		if err := json.Unmarshal(t.Payload, &j); err != nil {
			return nil, err
		}
		return j, nil
	case GenerateTestSetEntryTask:
		j := GenerateTestSetEntry{}
		if err := json.Unmarshal(t.Payload, &j); err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, fmt.Errorf("unknown task: %s", t.Name)
}

func AsTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskWaiting, TaskRunning, TaskDone, TaskFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status: %s", s)
}
