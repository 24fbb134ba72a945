package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	domerr "github.com/opst/knitpipe/pkg/domain/errors"
)

type NodeType string

const (
	Monitor    NodeType = "Monitor"
	LLMRelabel NodeType = "LLMRelabel"
	Dataset    NodeType = "Dataset"
	Archive    NodeType = "Archive"
)

func (nt NodeType) String() string {
	return string(nt)
}

func AsNodeType(s string) (NodeType, error) {
	switch t := NodeType(s); t {
	case Monitor, LLMRelabel, Dataset, Archive:
		return t, nil
	}
	return "", fmt.Errorf(`%w: unknown node type "%s"`, domerr.ErrInvalidConfig, s)
}

// labels of node outputs.
const (
	MonitorMatchedLogs  = "matched logs"
	LLMRelabelRelabeled = "relabeled"
	DatasetEntries      = "entries"
	ArchiveEntries      = "entries"
)

// OutputsOf returns labels of outputs which a node of the type has.
func OutputsOf(t NodeType) []string {
	switch t {
	case Monitor:
		return []string{MonitorMatchedLogs}
	case LLMRelabel:
		return []string{LLMRelabelRelabeled}
	case Dataset:
		return []string{DatasetEntries}
	case Archive:
		return []string{ArchiveEntries}
	}
	return nil
}

type Node struct {
	Id        string
	ProjectId string
	Name      string
	Type      NodeType
	Config    NodeConfig

	// hash of type and the parts of config which affect outputs.
	//
	// Caches of processed entries are keyed by this.
	Hash string

	Stale     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type NodeOutput struct {
	Id     string
	NodeId string
	Label  string
}

// DataChannel is a directed edge from a NodeOutput to a Node.
type DataChannel struct {
	Id string

	// OriginId is NodeOutput id. Empty for the source channel of Monitor and Archive.
	OriginId string

	DestinationId   string
	LastProcessedAt *time.Time
}

// NodeConfig is a tagged union of per-type configs.
//
// Implementations are MonitorConfig, LLMRelabelConfig, DatasetConfig and ArchiveConfig.
type NodeConfig interface {
	NodeType() NodeType

	// HashKey returns the parts of the config which affect the outputs of the node.
	HashKey() any
}

const (
	DefaultMaxOutputSize     = 50000
	DefaultMaxLLMConcurrency = 2

	// relabel model meaning "pass through".
	SkipRelabeling = "skip relabeling"
)

type FilterField string

const (
	FilterByModel      FilterField = "model"
	FilterByStatusCode FilterField = "statusCode"
	FilterByRequest    FilterField = "request"
	FilterByResponse   FilterField = "response"
	FilterByTag        FilterField = "tag"
)

type FilterComparator string

const (
	Equals      FilterComparator = "EQUALS"
	NotEquals   FilterComparator = "NOT_EQUALS"
	Contains    FilterComparator = "CONTAINS"
	NotContains FilterComparator = "NOT_CONTAINS"
)

// LoggedCallFilter selects logged calls which a Monitor reads.
type LoggedCallFilter struct {
	Field      FilterField      `json:"field" validate:"required,oneof=model statusCode request response tag"`
	TagName    string           `json:"tagName,omitempty" validate:"required_if=Field tag"`
	Comparator FilterComparator `json:"comparator" validate:"required,oneof=EQUALS NOT_EQUALS CONTAINS NOT_CONTAINS"`
	Value      string           `json:"value"`
}

type MonitorConfig struct {
	InitialFilters []LoggedCallFilter `json:"initialFilters" validate:"dive"`

	// watermark. Logged calls updated at or after this are candidates.
	LastLoggedCallUpdatedAt time.Time `json:"lastLoggedCallUpdatedAt"`

	MaxOutputSize int     `json:"maxOutputSize" validate:"gte=0"`
	SampleRate    float64 `json:"sampleRate" validate:"gte=0,lte=100"`
}

func (MonitorConfig) NodeType() NodeType { return Monitor }

// HashKey covers the filters only.
// Sample rate and capacity bound admission without changing what an admitted entry is.
func (c MonitorConfig) HashKey() any {
	return struct {
		Filters []LoggedCallFilter `json:"initialFilters"`
	}{Filters: c.InitialFilters}
}

type LLMRelabelConfig struct {
	RelabelLLM        string `json:"relabelLLM" validate:"required"`
	MaxLLMConcurrency int    `json:"maxLLMConcurrency" validate:"gte=1,lte=64"`
}

func (LLMRelabelConfig) NodeType() NodeType { return LLMRelabel }

func (c LLMRelabelConfig) HashKey() any {
	return struct {
		RelabelLLM string `json:"relabelLLM"`
	}{RelabelLLM: c.RelabelLLM}
}

// Skip reports whether entries pass through without calling a model.
func (c LLMRelabelConfig) Skip() bool {
	return c.RelabelLLM == SkipRelabeling
}

type DatasetConfig struct {
	LLMRelabelNodeId string `json:"llmRelabelNodeId,omitempty" validate:"omitempty,uuid"`
}

func (DatasetConfig) NodeType() NodeType { return Dataset }

func (DatasetConfig) HashKey() any { return struct{}{} }

type ArchiveConfig struct {
	MaxOutputSize int `json:"maxOutputSize" validate:"gte=0"`
}

func (ArchiveConfig) NodeType() NodeType { return Archive }

func (c ArchiveConfig) HashKey() any {
	return struct {
		MaxOutputSize int `json:"maxOutputSize"`
	}{MaxOutputSize: c.MaxOutputSize}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the validator shared in the domain.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateConfig checks config satisfies the schema of t.
//
// It is the single entry point of config validation. Writers of node config should call this.
func ValidateConfig(t NodeType, config NodeConfig) error {
	if config == nil {
		return fmt.Errorf("%w: config is empty", domerr.ErrInvalidConfig)
	}
	if config.NodeType() != t {
		return fmt.Errorf(
			"%w: config for %s is given to %s node",
			domerr.ErrInvalidConfig, config.NodeType(), t,
		)
	}
	if err := Validator().Struct(config); err != nil {
		return fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
	}
	return nil
}

// ParseConfig decodes raw as the config of type t, filling defaults, and validates it.
func ParseConfig(t NodeType, raw []byte) (NodeConfig, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	dec := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.DisallowUnknownFields()
		if err := d.Decode(v); err != nil {
			return fmt.Errorf("%w: %w", domerr.ErrInvalidConfig, err)
		}
		return nil
	}

	var config NodeConfig
	switch t {
	case Monitor:
		c := MonitorConfig{MaxOutputSize: DefaultMaxOutputSize, SampleRate: 100}
		if err := dec(&c); err != nil {
			return nil, err
		}
		if c.InitialFilters == nil {
			c.InitialFilters = []LoggedCallFilter{}
		}
		config = c
	case LLMRelabel:
		c := LLMRelabelConfig{MaxLLMConcurrency: DefaultMaxLLMConcurrency}
		if err := dec(&c); err != nil {
			return nil, err
		}
		config = c
	case Dataset:
		c := DatasetConfig{}
		if err := dec(&c); err != nil {
			return nil, err
		}
		config = c
	case Archive:
		c := ArchiveConfig{MaxOutputSize: DefaultMaxOutputSize}
		if err := dec(&c); err != nil {
			return nil, err
		}
		config = c
	default:
		return nil, fmt.Errorf(`%w: unknown node type "%s"`, domerr.ErrInvalidConfig, t)
	}

	if err := ValidateConfig(t, config); err != nil {
		return nil, err
	}
	return config, nil
}
