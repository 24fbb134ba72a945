package mocks

import (
	"context"
	"errors"

	dbmock "github.com/opst/knitpipe/pkg/domain/internal/db/mock"
	kdb "github.com/opst/knitpipe/pkg/domain/versioning/db"
)

type VersioningInterface struct {
	Impl struct {
		CopyEntryWithUpdates func(context.Context, kdb.Request) (kdb.Result, error)
	}
	Calls struct {
		CopyEntryWithUpdates dbmock.CallLog[kdb.Request]
	}
}

func NewVersioningInterface() *VersioningInterface {
	return &VersioningInterface{}
}

var _ kdb.VersioningInterface = &VersioningInterface{}

func (m *VersioningInterface) CopyEntryWithUpdates(ctx context.Context, req kdb.Request) (kdb.Result, error) {
	m.Calls.CopyEntryWithUpdates = append(m.Calls.CopyEntryWithUpdates, req)
	if m.Impl.CopyEntryWithUpdates == nil {
		panic(errors.New("it should not be called"))
	}
	return m.Impl.CopyEntryWithUpdates(ctx, req)
}
