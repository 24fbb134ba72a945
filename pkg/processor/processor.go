// Package processor runs the lifecycle of nodes and the other tasks in the queue.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opst/knitpipe/pkg/domain"
	kentry "github.com/opst/knitpipe/pkg/domain/entry/db"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	kfinetune "github.com/opst/knitpipe/pkg/domain/finetune/db"
	"github.com/opst/knitpipe/pkg/domain/materializer"
	kndb "github.com/opst/knitpipe/pkg/domain/node/db"
	kpruning "github.com/opst/knitpipe/pkg/domain/pruning/db"
	ktask "github.com/opst/knitpipe/pkg/domain/task/db"
	"github.com/opst/knitpipe/pkg/llm"
	"github.com/opst/knitpipe/pkg/metrics"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"github.com/opst/knitpipe/pkg/utils"
)

// ErrRateLimited is returned when a task has work left because the model was busy.
//
// The task should be retried later.
var ErrRateLimited = errors.New("rate limited")

// DefaultBatchSize is the number of entries relabeled in a batch.
const DefaultBatchSize = 50

type Processor struct {
	logger *log.Logger

	nodes     kndb.NodeInterface
	entries   kentry.EntryInterface
	pruning   kpruning.PruningInterface
	fineTunes kfinetune.FineTuneInterface
	enqueuer  *Enqueuer

	llm          llm.Completer
	tokens       tokenizer.Counter
	materializer *materializer.Materializer

	batchSize int
}

type Option func(*Processor)

func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if 0 < n {
			p.batchSize = n
		}
	}
}

func New(
	logger *log.Logger,
	nodes kndb.NodeInterface,
	entries kentry.EntryInterface,
	pruning kpruning.PruningInterface,
	fineTunes kfinetune.FineTuneInterface,
	tasks ktask.TaskInterface,
	completer llm.Completer,
	tokens tokenizer.Counter,
	options ...Option,
) *Processor {
	p := &Processor{
		logger:       logger,
		nodes:        nodes,
		entries:      entries,
		pruning:      pruning,
		fineTunes:    fineTunes,
		enqueuer:     NewEnqueuer(tasks),
		llm:          completer,
		tokens:       tokens,
		materializer: materializer.New(tokens),
		batchSize:    DefaultBatchSize,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Handle runs the task.
func (p *Processor) Handle(ctx context.Context, t domain.Task) error {
	job, err := domain.DecodeJob(t)
	if err != nil {
		return err
	}
	switch j := job.(type) {
	case domain.ProcessNode:
		return p.ProcessNode(ctx, j)
	case domain.GenerateTestSetEntry:
		return p.GenerateTestSetEntry(ctx, j)
	}
	return fmt.Errorf("unknown job: %T", job)
}

// ProcessNode runs the lifecycle of the node:
//
//  1. invalidate, if asked
//  2. reset PROCESSING entries left by crashed workers
//  3. beforeAll
//  4. forward outputs
//  5. process PENDING entries
//  6. afterAll
//  7. forward outputs again
//  8. enqueue processing of direct descendants
//
// When some entries are put back because of rate limit, the lifecycle runs to the end
// and then ErrRateLimited is returned.
func (p *Processor) ProcessNode(ctx context.Context, job domain.ProcessNode) error {
	node, err := p.nodes.Get(ctx, job.NodeId)
	if errors.Is(err, domerr.ErrMissing) {
		p.logger.Printf("node %s is not found. skip.", job.NodeId)
		return nil
	} else if err != nil {
		return err
	}

	if job.InvalidateData {
		if err := p.entries.Invalidate(ctx, node); err != nil {
			return err
		}
	}

	if n, err := p.entries.ResetProcessing(ctx, node.Id); err != nil {
		return err
	} else if 0 < n {
		p.logger.Printf("node %s: %d entries left PROCESSING are reset", node.Id, n)
	}

	if err := p.beforeAll(ctx, node); err != nil {
		return err
	}
	if err := p.forward(ctx, node); err != nil {
		return err
	}

	rateLimited, err := p.process(ctx, node)
	if err != nil {
		return err
	}

	if err := p.afterAll(ctx, node); err != nil {
		return err
	}
	if err := p.forward(ctx, node); err != nil {
		return err
	}

	children, err := p.nodes.Children(ctx, node.Id)
	if err != nil {
		return err
	}
	if err := p.enqueuer.Enqueue(ctx, utils.Map(children, func(id string) domain.Job {
		return domain.ProcessNode{NodeId: id}
	})...); err != nil {
		return err
	}

	if rateLimited {
		return fmt.Errorf("%w: node %s has entries to be relabeled", ErrRateLimited, node.Id)
	}
	return nil
}

func (p *Processor) beforeAll(ctx context.Context, node domain.Node) error {
	if node.Type != domain.Monitor {
		return nil
	}
	adm, err := p.entries.Admit(ctx, node.Id, p.materializer)
	if err != nil {
		return err
	}
	for _, d := range adm.Dropped {
		p.logger.Printf("node %s: logged call %s is dropped: %s", node.Id, d.LoggedCallId, d.Err)
	}
	metrics.Admitted(adm.Admitted)
	metrics.Dropped(len(adm.Dropped))
	if 0 < adm.Admitted || 0 < len(adm.Dropped) {
		p.logger.Printf(
			"node %s: %d entries are admitted from %d candidates (%d existed)",
			node.Id, adm.Admitted, adm.Candidates, adm.Existing,
		)
	}
	return nil
}

func (p *Processor) forward(ctx context.Context, node domain.Node) error {
	for _, label := range domain.OutputsOf(node.Type) {
		n, err := p.entries.Forward(ctx, node.Id, label)
		if err != nil {
			return err
		}
		metrics.Forwarded(n)
	}
	return nil
}

// process PENDING entries of the node.
//
// Returns true when some entries are left PENDING due to rate limit.
func (p *Processor) process(ctx context.Context, node domain.Node) (bool, error) {
	if node.Type == domain.LLMRelabel {
		conf, ok := node.Config.(domain.LLMRelabelConfig)
		if !ok {
			return false, fmt.Errorf("%w: node %s has config %T", domerr.ErrInvalidConfig, node.Id, node.Config)
		}
		if !conf.Skip() {
			return p.relabel(ctx, node, conf)
		}
	}
	_, err := p.entries.MarkAllProcessed(ctx, node.Id)
	return false, err
}

func (p *Processor) afterAll(ctx context.Context, node domain.Node) error {
	if node.Type != domain.Dataset {
		return nil
	}
	ds, err := p.nodes.Dataset(ctx, node.Id)
	if err != nil {
		return err
	}
	if err := p.pruning.Rematch(ctx, ds.Id, time.Time{}, nil); err != nil {
		return err
	}
	missing, err := p.fineTunes.MissingTestOutputs(ctx, ds.Id)
	if err != nil {
		return err
	}
	return p.enqueuer.Enqueue(ctx, utils.Map(missing, func(g domain.GenerateTestSetEntry) domain.Job {
		return g
	})...)
}
