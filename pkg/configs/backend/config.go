package backend

import "time"

// Configuration for cmd/loops.
//
// to get `LoopsConfig` instance, use `TrySeal(*LoopsConfigMarshall)` .
type LoopsConfig struct {
	database    string
	worker      *WorkerConfig
	monitorScan *MonitorScanConfig
	llm         *LLMConfig
}

// Connection string for database.
func (c *LoopsConfig) Database() string {
	return c.database
}

func (c *LoopsConfig) Worker() *WorkerConfig {
	return c.worker
}

func (c *LoopsConfig) MonitorScan() *MonitorScanConfig {
	return c.monitorScan
}

func (c *LoopsConfig) LLM() *LLMConfig {
	return c.llm
}

type WorkerConfig struct {
	concurrency       int
	visibilityTimeout time.Duration
	retryAfter        time.Duration
}

// How many tasks are run at once. default = 1
func (w *WorkerConfig) Concurrency() int {
	return w.concurrency
}

// How long a claimed task is hidden from other workers. default = 10m
func (w *WorkerConfig) VisibilityTimeout() time.Duration {
	return w.visibilityTimeout
}

// Delay before a failed task is retried. default = 1m
func (w *WorkerConfig) RetryAfter() time.Duration {
	return w.retryAfter
}

type MonitorScanConfig struct {
	interval time.Duration
}

// Interval between scans of monitors. default = 1m
func (m *MonitorScanConfig) Interval() time.Duration {
	return m.interval
}

type LLMConfig struct {
	baseURL    string
	apiKeyFile string
	model      string
}

// Base URL of OpenAI compatible API. Empty means OpenAI.
func (l *LLMConfig) BaseURL() string {
	return l.baseURL
}

// Path to a file containing the API key.
func (l *LLMConfig) APIKeyFile() string {
	return l.apiKeyFile
}

// Model whose tokenizer counts tokens. default = "gpt-4o"
func (l *LLMConfig) Model() string {
	return l.model
}

// Configuration for cmd/datasetd.
type APIConfig struct {
	port     int32
	database string
	auth     *AuthConfig
	model    string
}

func (c *APIConfig) Port() int32 {
	return c.port
}

// Connection string for database.
func (c *APIConfig) Database() string {
	return c.database
}

func (c *APIConfig) Auth() *AuthConfig {
	return c.auth
}

// Model whose tokenizer counts tokens. default = "gpt-4o"
func (c *APIConfig) Model() string {
	return c.model
}

type AuthConfig struct {
	issuer      string
	signKeyFile string
}

// Expected "iss" claim of bearer tokens.
func (a *AuthConfig) Issuer() string {
	return a.issuer
}

// Path to a file containing the HS256 key which signs bearer tokens.
func (a *AuthConfig) SignKeyFile() string {
	return a.signKeyFile
}
