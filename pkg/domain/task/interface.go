// Package task is a Postgres-backed queue of asynchronous work.
//
// Delivery is at least once. Handlers should be idempotent.
package task

import "github.com/opst/knitpipe/pkg/domain/task/db"

type Interface interface {
	Database() db.TaskInterface
}

type impl struct {
	db db.TaskInterface
}

func New(db db.TaskInterface) Interface {
	return &impl{db: db}
}

func (i *impl) Database() db.TaskInterface {
	return i.db
}
