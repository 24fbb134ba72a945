package node

import "github.com/opst/knitpipe/pkg/domain/node/db"

type Interface interface {
	Database() db.NodeInterface
}

type impl struct {
	db db.NodeInterface
}

func New(db db.NodeInterface) Interface {
	return &impl{db: db}
}

func (i *impl) Database() db.NodeInterface {
	return i.db
}
