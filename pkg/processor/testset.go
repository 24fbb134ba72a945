package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
	"github.com/opst/knitpipe/pkg/domain/finetune"
	"github.com/opst/knitpipe/pkg/llm"
	"github.com/opst/knitpipe/pkg/metrics"
	"github.com/opst/knitpipe/pkg/tokenizer"
)

// GenerateTestSetEntry asks the model for the output of the TEST entry and saves it.
//
// Entries which are gone, outdated or not TEST are skipped, as are fine-tunes not deployed.
// Outputs already generated for the same input are reused.
func (p *Processor) GenerateTestSetEntry(ctx context.Context, job domain.GenerateTestSetEntry) error {
	e, err := p.entries.Get(ctx, job.NodeEntryId)
	if errors.Is(err, domerr.ErrMissing) {
		return nil
	} else if err != nil {
		return err
	}
	if e.Outdated || e.Split != domain.Test {
		return nil
	}

	if existing, ok, err := p.fineTunes.TestOutput(ctx, job.ModelId, e.InputHash); err != nil {
		return err
	} else if ok && existing.Output != nil && existing.Error == "" {
		return nil
	}

	model := job.ModelId
	if finetune.IsFineTune(job.ModelId) {
		ft, err := p.fineTunes.Get(ctx, job.ModelId)
		if errors.Is(err, domerr.ErrMissing) {
			return nil
		} else if err != nil {
			return err
		}
		if ft.Status != domain.FineTuneDeployed {
			p.logger.Printf("fine-tune %s is %s. skip generating test output.", ft.Id, ft.Status)
			return nil
		}
		model = finetune.ModelName(ft)
	}

	in, err := p.entries.Input(ctx, e.InputHash)
	if err != nil {
		return err
	}

	out, err := p.llm.Complete(ctx, model, in.Input)
	if err != nil {
		if llm.IsRateLimited(err) {
			metrics.Completion(metrics.TestSet, metrics.RateLimited)
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		metrics.Completion(metrics.TestSet, metrics.Failed)
		if serr := p.fineTunes.SaveTestOutput(ctx, domain.TestOutput{
			ModelId:     job.ModelId,
			InputHash:   e.InputHash,
			NodeEntryId: e.Id,
			Error:       err.Error(),
		}); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	}
	metrics.Completion(metrics.TestSet, metrics.OK)

	return p.fineTunes.SaveTestOutput(ctx, domain.TestOutput{
		ModelId:      job.ModelId,
		InputHash:    e.InputHash,
		NodeEntryId:  e.Id,
		Output:       &out,
		OutputTokens: tokenizer.CountOutput(p.tokens, out),
	})
}
