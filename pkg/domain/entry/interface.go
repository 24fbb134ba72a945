package entry

import "github.com/opst/knitpipe/pkg/domain/entry/db"

type Interface interface {
	Database() db.EntryInterface
}

type impl struct {
	db db.EntryInterface
}

func New(db db.EntryInterface) Interface {
	return &impl{db: db}
}

func (i *impl) Database() db.EntryInterface {
	return i.db
}
