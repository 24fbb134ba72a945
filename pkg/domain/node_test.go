package domain_test

import (
	"errors"
	"testing"

	"github.com/opst/knitpipe/pkg/domain"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
)

func TestParseConfig(t *testing.T) {
	type When struct {
		nodeType domain.NodeType
		raw      string
	}

	t.Run("it fills defaults", func(t *testing.T) {
		for name, testcase := range map[string]struct {
			when When
			then domain.NodeConfig
		}{
			"Monitor": {
				when: When{nodeType: domain.Monitor, raw: `{}`},
				then: domain.MonitorConfig{
					InitialFilters: []domain.LoggedCallFilter{},
					MaxOutputSize:  domain.DefaultMaxOutputSize,
					SampleRate:     100,
				},
			},
			"LLMRelabel": {
				when: When{nodeType: domain.LLMRelabel, raw: `{"relabelLLM": "gpt-4o"}`},
				then: domain.LLMRelabelConfig{
					RelabelLLM: "gpt-4o", MaxLLMConcurrency: domain.DefaultMaxLLMConcurrency,
				},
			},
			"Dataset (empty body)": {
				when: When{nodeType: domain.Dataset, raw: ""},
				then: domain.DatasetConfig{},
			},
			"Archive": {
				when: When{nodeType: domain.Archive, raw: `{"maxOutputSize": 10}`},
				then: domain.ArchiveConfig{MaxOutputSize: 10},
			},
		} {
			t.Run(name, func(t *testing.T) {
				actual, err := domain.ParseConfig(testcase.when.nodeType, []byte(testcase.when.raw))
				if err != nil {
					t.Fatal(err)
				}
				if actual.NodeType() != testcase.when.nodeType {
					t.Errorf("NodeType: %s", actual.NodeType())
				}

				switch expected := testcase.then.(type) {
				case domain.MonitorConfig:
					a := actual.(domain.MonitorConfig)
					if len(a.InitialFilters) != 0 || a.MaxOutputSize != expected.MaxOutputSize ||
						a.SampleRate != expected.SampleRate || !a.LastLoggedCallUpdatedAt.IsZero() {
						t.Errorf("(actual, expected) = (%+v, %+v)", a, expected)
					}
				default:
					if actual != testcase.then {
						t.Errorf("(actual, expected) = (%+v, %+v)", actual, testcase.then)
					}
				}
			})
		}
	})

	t.Run("it rejects invalid configs", func(t *testing.T) {
		for name, when := range map[string]When{
			"unknown field": {
				nodeType: domain.Archive, raw: `{"maxOutputSize": 10, "sampleRate": 5}`,
			},
			"sample rate over 100": {
				nodeType: domain.Monitor, raw: `{"sampleRate": 100.5}`,
			},
			"negative capacity": {
				nodeType: domain.Monitor, raw: `{"maxOutputSize": -1}`,
			},
			"unknown filter field": {
				nodeType: domain.Monitor,
				raw:      `{"initialFilters": [{"field": "latency", "comparator": "EQUALS", "value": "1"}]}`,
			},
			"tag filter without tag name": {
				nodeType: domain.Monitor,
				raw:      `{"initialFilters": [{"field": "tag", "comparator": "EQUALS", "value": "prod"}]}`,
			},
			"relabel without model": {
				nodeType: domain.LLMRelabel, raw: `{}`,
			},
			"no concurrency": {
				nodeType: domain.LLMRelabel, raw: `{"relabelLLM": "gpt-4o", "maxLLMConcurrency": 0}`,
			},
			"relabel node id is not an id": {
				nodeType: domain.Dataset, raw: `{"llmRelabelNodeId": "relabel"}`,
			},
			"not an object": {
				nodeType: domain.Dataset, raw: `[]`,
			},
			"unknown node type": {
				nodeType: domain.NodeType("Filter"), raw: `{}`,
			},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := domain.ParseConfig(when.nodeType, []byte(when.raw))
				if !errors.Is(err, domerr.ErrInvalidConfig) {
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
	})

	t.Run("tag filters with tag names are accepted", func(t *testing.T) {
		raw := `{"initialFilters": [{"field": "tag", "tagName": "env", "comparator": "EQUALS", "value": "prod"}]}`
		actual, err := domain.ParseConfig(domain.Monitor, []byte(raw))
		if err != nil {
			t.Fatal(err)
		}
		filters := actual.(domain.MonitorConfig).InitialFilters
		if len(filters) != 1 || filters[0].TagName != "env" || filters[0].Comparator != domain.Equals {
			t.Errorf("unexpected filters: %+v", filters)
		}
	})
}

func TestValidateConfig(t *testing.T) {
	t.Run("config of other type is rejected", func(t *testing.T) {
		err := domain.ValidateConfig(domain.Dataset, domain.ArchiveConfig{})
		if !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("nil config is rejected", func(t *testing.T) {
		err := domain.ValidateConfig(domain.Dataset, nil)
		if !errors.Is(err, domerr.ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
