package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
	kdb "github.com/opst/knitpipe/pkg/domain/task/db"
)

type TaskInterface struct {
	Impl struct {
		Enqueue func(context.Context, ...domain.Job) ([]domain.Task, error)
		Claim   func(context.Context, time.Duration) (domain.Task, bool, error)
		Done    func(context.Context, string) error
		Fail    func(context.Context, string, string, time.Duration) error
		Release func(context.Context) (int, error)
		Get     func(context.Context, string) (domain.Task, error)
		Counts  func(context.Context) (map[domain.TaskStatus]int, error)
	}
	Calls struct {
		Enqueue dbmock.CallLog[[]domain.Job]
		Claim   dbmock.CallLog[time.Duration]
		Done    dbmock.CallLog[string]
		Fail    dbmock.CallLog[struct {
			TaskId     string
			Reason     string
			RetryAfter time.Duration
		}]
		Release dbmock.CallLog[struct{}]
	}
}

func NewTaskInterface() *TaskInterface {
	return &TaskInterface{}
}

var _ kdb.TaskInterface = &TaskInterface{}

func (m *TaskInterface) Enqueue(ctx context.Context, jobs ...domain.Job) ([]domain.Task, error) {
	m.Calls.Enqueue = append(m.Calls.Enqueue, jobs)
	if m.Impl.Enqueue == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Enqueue(ctx, jobs...)
}

func (m *TaskInterface) Claim(ctx context.Context, visibility time.Duration) (domain.Task, bool, error) {
	m.Calls.Claim = append(m.Calls.Claim, visibility)
	if m.Impl.Claim == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Claim(ctx, visibility)
}

func (m *TaskInterface) Done(ctx context.Context, taskId string) error {
	m.Calls.Done = append(m.Calls.Done, taskId)
	if m.Impl.Done == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Done(ctx, taskId)
}

func (m *TaskInterface) Fail(ctx context.Context, taskId string, reason string, retryAfter time.Duration) error {
	m.Calls.Fail = append(m.Calls.Fail, struct {
		TaskId     string
		Reason     string
		RetryAfter time.Duration
	}{TaskId: taskId, Reason: reason, RetryAfter: retryAfter})
	if m.Impl.Fail == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Fail(ctx, taskId, reason, retryAfter)
}

func (m *TaskInterface) Release(ctx context.Context) (int, error) {
	m.Calls.Release = append(m.Calls.Release, struct{}{})
	if m.Impl.Release == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Release(ctx)
}

func (m *TaskInterface) Get(ctx context.Context, taskId string) (domain.Task, error) {
	if m.Impl.Get == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Get(ctx, taskId)
}

func (m *TaskInterface) Counts(ctx context.Context) (map[domain.TaskStatus]int, error) {
	if m.Impl.Counts == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.Counts(ctx)
}
