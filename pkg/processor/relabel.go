package processor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/hash"
	"github.com/opst/knitpipe/pkg/llm"
	"github.com/opst/knitpipe/pkg/metrics"
	"github.com/opst/knitpipe/pkg/tokenizer"
	"golang.org/x/sync/errgroup"
)

// relabel PENDING entries of the LLMRelabel node in batches.
//
// It stops when no PENDING entries are left, or some entries are rate limited.
func (p *Processor) relabel(ctx context.Context, node domain.Node, conf domain.LLMRelabelConfig) (bool, error) {
	concurrency := conf.MaxLLMConcurrency
	if concurrency < 1 {
		concurrency = domain.DefaultMaxLLMConcurrency
	}

	limited := new(atomic.Bool)
	for !limited.Load() {
		batch, err := p.entries.ClaimPending(ctx, node.Id, p.batchSize)
		if err != nil {
			return false, err
		}
		if len(batch) == 0 {
			break
		}

		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(concurrency)
		for _, e := range batch {
			eg.Go(func() error {
				rateLimited, err := p.relabelEntry(ectx, node, conf, e)
				if rateLimited {
					limited.Store(true)
				}
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return false, err
		}
	}
	return limited.Load(), nil
}

// relabelEntry replaces the output of the PROCESSING entry with the completion of the model.
//
// Failures of the model are recorded on the entry, not returned.
func (p *Processor) relabelEntry(
	ctx context.Context, node domain.Node, conf domain.LLMRelabelConfig, e domain.NodeEntry,
) (rateLimited bool, err error) {
	if cached, ok, err := p.entries.CachedOutput(ctx, node.Hash, e.InputHash, e.OutputHash); err != nil {
		return false, err
	} else if ok {
		metrics.Completion(metrics.Relabel, metrics.Cached)
		return false, ignoreConflict(p.entries.Relabeled(ctx, e.Id, cached))
	}

	in, err := p.entries.Input(ctx, e.InputHash)
	if err != nil {
		return false, err
	}

	out, err := p.llm.Complete(ctx, conf.RelabelLLM, in.Input)
	if err != nil {
		if llm.IsRateLimited(err) {
			metrics.Completion(metrics.Relabel, metrics.RateLimited)
			return true, ignoreConflict(p.entries.SetStatus(ctx, e.Id, domain.Pending, err.Error()))
		}
		metrics.Completion(metrics.Relabel, metrics.Failed)
		p.logger.Printf("node %s: relabeling entry %s is failed: %s", node.Id, e.Id, err)
		return false, ignoreConflict(p.entries.SetStatus(ctx, e.Id, domain.Error, err.Error()))
	}
	metrics.Completion(metrics.Relabel, metrics.OK)

	h, err := hash.Output(node.ProjectId, out)
	if err != nil {
		return false, err
	}
	relabeled := domain.EntryOutput{
		Hash:         h,
		ProjectId:    node.ProjectId,
		Output:       out,
		OutputTokens: tokenizer.CountOutput(p.tokens, out),
	}
	if err := p.entries.Cache(ctx, node.Hash, e.InputHash, e.OutputHash, relabeled); err != nil {
		return false, err
	}
	return false, ignoreConflict(p.entries.Relabeled(ctx, e.Id, relabeled))
}

// entries can be reset by invalidation while they are relabeled.
func ignoreConflict(err error) error {
	if errors.Is(err, domerr.ErrConflict) {
		return nil
	}
	return err
}
