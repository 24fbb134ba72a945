package finetune_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/finetune"
)

func TestModel(t *testing.T) {
	if actual := finetune.ModelName(domain.FineTune{Slug: "ft-0123abcd"}); actual != "knitpipe:ft-0123abcd" {
		t.Errorf("unexpected model name: %s", actual)
	}

	for modelId, expected := range map[string]bool{
		uuid.NewString(): true,
		"gpt-4o":         false,
		"":               false,
	} {
		if actual := finetune.IsFineTune(modelId); actual != expected {
			t.Errorf("IsFineTune(%q): (actual, expected) = (%v, %v)", modelId, actual, expected)
		}
	}
}

func TestFineTuneStatus(t *testing.T) {
	for _, testcase := range []struct {
		from, to domain.FineTuneStatus
		then     bool
	}{
		{from: domain.FineTunePending, to: domain.FineTuneTraining, then: true},
		{from: domain.FineTunePending, to: domain.FineTuneError, then: true},
		{from: domain.FineTunePending, to: domain.FineTuneDeployed, then: false},
		{from: domain.FineTuneTraining, to: domain.FineTuneDeployed, then: true},
		{from: domain.FineTuneTraining, to: domain.FineTuneError, then: true},
		{from: domain.FineTuneDeployed, to: domain.FineTuneError, then: false},
		{from: domain.FineTuneError, to: domain.FineTuneTraining, then: false},
	} {
		if actual := testcase.from.CanTransitTo(testcase.to); actual != testcase.then {
			t.Errorf("%s -> %s: (actual, expected) = (%v, %v)", testcase.from, testcase.to, actual, testcase.then)
		}
	}
}
