package backend

import (
	"fmt"
	"time"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/backend.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

const defaultModel = "gpt-4o"

type LoopsConfigMarshall struct {
	Database    string                     `yaml:"database"`
	Worker      *WorkerConfigMarshall      `yaml:"worker,omitempty"`
	MonitorScan *MonitorScanConfigMarshall `yaml:"monitorScan,omitempty"`
	LLM         *LLMConfigMarshall         `yaml:"llm"`
}

var _ Marshalled[*LoopsConfig] = &LoopsConfigMarshall{}

func (l *LoopsConfigMarshall) trySeal(path string) *LoopsConfig {
	worker := l.Worker
	if worker == nil {
		worker = &WorkerConfigMarshall{}
	}
	scan := l.MonitorScan
	if scan == nil {
		scan = &MonitorScanConfigMarshall{}
	}
	return &LoopsConfig{
		database:    required(l.Database, path+".database"),
		worker:      worker.trySeal(path + ".worker"),
		monitorScan: scan.trySeal(path + ".monitorScan"),
		llm:         nonnil(l.LLM, path+".llm").trySeal(path + ".llm"),
	}
}

type WorkerConfigMarshall struct {
	Concurrency       int    `yaml:"concurrency,omitempty"`
	VisibilityTimeout string `yaml:"visibilityTimeout,omitempty"`
	RetryAfter        string `yaml:"retryAfter,omitempty"`
}

func (w *WorkerConfigMarshall) trySeal(path string) *WorkerConfig {
	concurrency := w.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	if concurrency < 0 {
		panic(fmt.Errorf("%s.concurrency should be positive: %d", path, concurrency))
	}
	return &WorkerConfig{
		concurrency:       concurrency,
		visibilityTimeout: duration(w.VisibilityTimeout, 10*time.Minute, path+".visibilityTimeout"),
		retryAfter:        duration(w.RetryAfter, time.Minute, path+".retryAfter"),
	}
}

type MonitorScanConfigMarshall struct {
	Interval string `yaml:"interval,omitempty"`
}

func (m *MonitorScanConfigMarshall) trySeal(path string) *MonitorScanConfig {
	return &MonitorScanConfig{
		interval: duration(m.Interval, time.Minute, path+".interval"),
	}
}

type LLMConfigMarshall struct {
	BaseURL    string `yaml:"baseURL,omitempty"`
	APIKeyFile string `yaml:"apiKeyFile"`
	Model      string `yaml:"model,omitempty"`
}

func (l *LLMConfigMarshall) trySeal(path string) *LLMConfig {
	model := l.Model
	if model == "" {
		model = defaultModel
	}
	return &LLMConfig{
		baseURL:    l.BaseURL,
		apiKeyFile: required(l.APIKeyFile, path+".apiKeyFile"),
		model:      model,
	}
}

type APIConfigMarshall struct {
	Port     int32              `yaml:"port"`
	Database string             `yaml:"database"`
	Auth     *AuthConfigMarshall `yaml:"auth"`
	Model    string             `yaml:"model,omitempty"`
}

var _ Marshalled[*APIConfig] = &APIConfigMarshall{}

func (a *APIConfigMarshall) trySeal(path string) *APIConfig {
	model := a.Model
	if model == "" {
		model = defaultModel
	}
	return &APIConfig{
		port:     required(a.Port, path+".port"),
		database: required(a.Database, path+".database"),
		auth:     nonnil(a.Auth, path+".auth").trySeal(path + ".auth"),
		model:    model,
	}
}

type AuthConfigMarshall struct {
	Issuer      string `yaml:"issuer"`
	SignKeyFile string `yaml:"signKeyFile"`
}

func (a *AuthConfigMarshall) trySeal(path string) *AuthConfig {
	return &AuthConfig{
		issuer:      required(a.Issuer, path+".issuer"),
		signKeyFile: required(a.SignKeyFile, path+".signKeyFile"),
	}
}

func duration(v string, defaultValue time.Duration, path string) time.Duration {
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	if d <= 0 {
		panic(fmt.Errorf("%s should be positive: %s", path, v))
	}
	return d
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}
