package db

import (
	kentry "github.com/opst/knitpipe/pkg/domain/entry/db"
	kfinetune "github.com/opst/knitpipe/pkg/domain/finetune/db"
	knode "github.com/opst/knitpipe/pkg/domain/node/db"
	kpruning "github.com/opst/knitpipe/pkg/domain/pruning/db"
	kschema "github.com/opst/knitpipe/pkg/domain/schema/db"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
	kversioning "github.com/opst/knitpipe/pkg/domain/versioning/db"
)

type KnitpipeDatabase interface {
	Node() knode.NodeInterface
	Entry() kentry.EntryInterface
	Pruning() kpruning.PruningInterface
	Versioning() kversioning.VersioningInterface
	Task() ktask.TaskInterface
	FineTune() kfinetune.FineTuneInterface
	Schema() kschema.SchemaInterface
	Close() error
}
