package knitpipe

import (
	"context"

	"github.com/opst/knitpipe/pkg/domain/entry"
	"github.com/opst/knitpipe/pkg/domain/finetune"
	"github.com/opst/knitpipe/pkg/domain/knitpipe/db/postgres"
	"github.com/opst/knitpipe/pkg/domain/node"
	"github.com/opst/knitpipe/pkg/domain/pruning"
	"github.com/opst/knitpipe/pkg/domain/schema"
	"github.com/opst/knitpipe/pkg/domain/task"
	"github.com/opst/knitpipe/pkg/domain/versioning"
	"github.com/opst/knitpipe/pkg/tokenizer"
)

type Knitpipe interface {
	Node() node.Interface
	Entry() entry.Interface
	Pruning() pruning.Interface
	Versioning() versioning.Interface
	Task() task.Interface
	FineTune() finetune.Interface
	Schema() schema.Interface

	// Tokens counts tokens of contents in the pipeline.
	Tokens() tokenizer.Counter

	Close() error
}

type knitpipe struct {
	tokens tokenizer.Counter
	close  func() error

	node       node.Interface
	entry      entry.Interface
	pruning    pruning.Interface
	versioning versioning.Interface
	task       task.Interface
	fineTune   finetune.Interface
	schema     schema.Interface
}

func New(
	ctx context.Context,
	databaseURL string,
	tokens tokenizer.Counter,
	options ...Option,
) (Knitpipe, error) {
	opt := &_options{}
	for _, o := range options {
		o(opt)
	}

	pg, err := postgres.New(ctx, databaseURL, tokens, opt.pg...)
	if err != nil {
		return nil, err
	}

	return &knitpipe{
		tokens: tokens,
		close:  pg.Close,

		node:       node.New(pg.Node()),
		entry:      entry.New(pg.Entry()),
		pruning:    pruning.New(pg.Pruning(), tokens),
		versioning: versioning.New(pg.Versioning()),
		task:       task.New(pg.Task()),
		fineTune:   finetune.New(pg.FineTune()),
		schema:     schema.New(pg.Schema()),
	}, nil
}

type Option func(*_options)

type _options struct {
	pg []postgres.Option
}

func WithSchemaRepository(repository string) Option {
	return func(o *_options) {
		o.pg = append(o.pg, postgres.WithSchemaRepository(repository))
	}
}

func (k *knitpipe) Node() node.Interface {
	return k.node
}

func (k *knitpipe) Entry() entry.Interface {
	return k.entry
}

func (k *knitpipe) Pruning() pruning.Interface {
	return k.pruning
}

func (k *knitpipe) Versioning() versioning.Interface {
	return k.versioning
}

func (k *knitpipe) Task() task.Interface {
	return k.task
}

func (k *knitpipe) FineTune() finetune.Interface {
	return k.fineTune
}

func (k *knitpipe) Schema() schema.Interface {
	return k.schema
}

func (k *knitpipe) Tokens() tokenizer.Counter {
	return k.tokens
}

func (k *knitpipe) Close() error {
	return k.close()
}
