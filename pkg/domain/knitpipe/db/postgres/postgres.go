package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
	kentry "github.com/opst/knitpipe/pkg/domain/entry/db"
	kpgentry "github.com/opst/knitpipe/pkg/domain/entry/db/postgres"
	kfinetune "github.com/opst/knitpipe/pkg/domain/finetune/db"
	kpgfinetune "github.com/opst/knitpipe/pkg/domain/finetune/db/postgres"
	dbInterface "github.com/opst/knitpipe/pkg/domain/knitpipe/db"
	knode "github.com/opst/knitpipe/pkg/domain/node/db"
	kpgnode "github.com/opst/knitpipe/pkg/domain/node/db/postgres"
	kpruning "github.com/opst/knitpipe/pkg/domain/pruning/db"
	kpgpruning "github.com/opst/knitpipe/pkg/domain/pruning/db/postgres"
	kschema "github.com/opst/knitpipe/pkg/domain/schema/db"
	kpgschema "github.com/opst/knitpipe/pkg/domain/schema/db/postgres"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
	kpgtask "github.com/opst/knitpipe/pkg/domain/task/db/postgres"
	kversioning "github.com/opst/knitpipe/pkg/domain/versioning/db"
	kpgversioning "github.com/opst/knitpipe/pkg/domain/versioning/db/postgres"
	xe "github.com/opst/knitpipe/pkg/errors"
	"github.com/opst/knitpipe/pkg/tokenizer"
)

type knitpipeDBPostgres struct {
	pool       *pgxpool.Pool
	node       knode.NodeInterface
	entry      kentry.EntryInterface
	pruning    kpruning.PruningInterface
	versioning kversioning.VersioningInterface
	task       ktask.TaskInterface
	fineTune   kfinetune.FineTuneInterface
	schema     kschema.SchemaInterface
}

type Config struct {
	SchemaRepository string
}

type Option func(*Config) *Config

func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

// New connects to the database at url.
//
// tokens counts tokens of contents written by versioning.
func New(
	ctx context.Context,
	url string,
	tokens tokenizer.Counter,
	options ...Option,
) (dbInterface.KnitpipeDatabase, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	c := Config{}
	for _, option := range options {
		c = *option(&c)
	}

	p := kpool.Wrap(pool)
	var schema kschema.SchemaInterface = kpgschema.Null()
	if c.SchemaRepository != "" {
		schema = kpgschema.New(p, c.SchemaRepository)
	}

	return &knitpipeDBPostgres{
		pool:       pool,
		node:       kpgnode.New(p),
		entry:      kpgentry.New(p),
		pruning:    kpgpruning.New(p),
		versioning: kpgversioning.New(p, tokens),
		task:       kpgtask.New(p),
		fineTune:   kpgfinetune.New(p),
		schema:     schema,
	}, nil
}

func (k *knitpipeDBPostgres) Node() knode.NodeInterface {
	return k.node
}

func (k *knitpipeDBPostgres) Entry() kentry.EntryInterface {
	return k.entry
}

func (k *knitpipeDBPostgres) Pruning() kpruning.PruningInterface {
	return k.pruning
}

func (k *knitpipeDBPostgres) Versioning() kversioning.VersioningInterface {
	return k.versioning
}

func (k *knitpipeDBPostgres) Task() ktask.TaskInterface {
	return k.task
}

func (k *knitpipeDBPostgres) FineTune() kfinetune.FineTuneInterface {
	return k.fineTune
}

func (k *knitpipeDBPostgres) Schema() kschema.SchemaInterface {
	return k.schema
}

func (k *knitpipeDBPostgres) Close() error {
	k.pool.Close()
	return nil
}
