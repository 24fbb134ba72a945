// Package versioning replaces dataset entries copy-on-write.
package versioning

import (
	"slices"

	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/versioning/db"
)

type Interface interface {
	Database() db.VersioningInterface
}

type impl struct {
	db db.VersioningInterface
}

func New(db db.VersioningInterface) Interface {
	return &impl{db: db}
}

func (i *impl) Database() db.VersioningInterface {
	return i.db
}

// EffectsOf plans test-set regeneration for a new entry.
//
// Only TEST entries need it. Each of deployed fine-tunes and comparison models
// yields one job, in the order given. Duplicated model ids are merged.
func EffectsOf(entry domain.NodeEntry, deployedFineTuneIds []string, comparisonModels []string) []domain.Job {
	if entry.Split != domain.Test {
		return nil
	}

	models := make([]string, 0, len(deployedFineTuneIds)+len(comparisonModels))
	for _, m := range slices.Concat(deployedFineTuneIds, comparisonModels) {
		if m == "" || slices.Contains(models, m) {
			continue
		}
		models = append(models, m)
	}

	jobs := make([]domain.Job, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, domain.GenerateTestSetEntry{ModelId: m, NodeEntryId: entry.Id})
	}
	return jobs
}
