package versioning_test

import (
	"testing"

	"github.com/opst/knitpipe/pkg/cmp"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/versioning"
)

func TestEffectsOf(t *testing.T) {
	for name, testcase := range map[string]struct {
		split       domain.Split
		fineTunes   []string
		comparisons []string
		then        []domain.Job
	}{
		"TEST entry with 2 deployed fine-tunes and 1 comparison model": {
			split:       domain.Test,
			fineTunes:   []string{"ft-1", "ft-2"},
			comparisons: []string{"gpt-4o"},
			then: []domain.Job{
				domain.GenerateTestSetEntry{ModelId: "ft-1", NodeEntryId: "new-entry"},
				domain.GenerateTestSetEntry{ModelId: "ft-2", NodeEntryId: "new-entry"},
				domain.GenerateTestSetEntry{ModelId: "gpt-4o", NodeEntryId: "new-entry"},
			},
		},
		"TRAIN entry needs nothing": {
			split:       domain.Train,
			fineTunes:   []string{"ft-1", "ft-2"},
			comparisons: []string{"gpt-4o"},
			then:        []domain.Job{},
		},
		"duplicated models are merged": {
			split:       domain.Test,
			fineTunes:   []string{"ft-1"},
			comparisons: []string{"gpt-4o", "gpt-4o", ""},
			then: []domain.Job{
				domain.GenerateTestSetEntry{ModelId: "ft-1", NodeEntryId: "new-entry"},
				domain.GenerateTestSetEntry{ModelId: "gpt-4o", NodeEntryId: "new-entry"},
			},
		},
		"no models": {
			split: domain.Test,
			then:  []domain.Job{},
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual := versioning.EffectsOf(
				domain.NodeEntry{Id: "new-entry", Split: testcase.split},
				testcase.fineTunes, testcase.comparisons,
			)
			if actual == nil {
				actual = []domain.Job{}
			}
			if !cmp.SliceEq(actual, testcase.then) {
				t.Errorf("unmatch:\n===actual===\n%+v\n===expected===\n%+v", actual, testcase.then)
			}
		})
	}
}
