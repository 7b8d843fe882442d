package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragterm/internal/domain"
	"ragterm/internal/retry"
)

// SourcesConfig controls which files are indexed.
type SourcesConfig struct {
	Roots          []string `yaml:"roots"`
	Extensions     []string `yaml:"extensions"`
	ExcludeDirs    []string `yaml:"exclude_dirs"`
	MaxFileBytes   int64    `yaml:"max_file_bytes"`
	FollowSymlinks bool     `yaml:"follow_symlinks"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type    string `yaml:"type"`
	Size    int    `yaml:"size"`
	Overlap int    `yaml:"overlap"`
}

// OllamaConfig points at an Ollama server.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// HashingConfig configures the offline feature-hashing embedder.
type HashingConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type              string         `yaml:"type"`
	BatchSize         int            `yaml:"batch_size"`
	Concurrency       int            `yaml:"concurrency"`
	RequestsPerSecond float64        `yaml:"requests_per_second"`
	CacheSize         int            `yaml:"cache_size"`
	Ollama            *OllamaConfig  `yaml:"ollama,omitempty"`
	OpenAI            *OpenAIConfig  `yaml:"openai,omitempty"`
	Hashing           *HashingConfig `yaml:"hashing,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	Distance   string `yaml:"distance"`
}

// HNSWConfig places the local graph index on disk.
type HNSWConfig struct {
	Path string `yaml:"path"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type        string        `yaml:"type"`
	UpsertBatch int           `yaml:"upsert_batch"`
	Qdrant      *QdrantConfig `yaml:"qdrant,omitempty"`
	HNSW        *HNSWConfig   `yaml:"hnsw,omitempty"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type        string        `yaml:"type"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Ollama      *OllamaConfig `yaml:"ollama,omitempty"`
	OpenAI      *OpenAIConfig `yaml:"openai,omitempty"`
}

// RetrieverConfig configures retrieval.
type RetrieverConfig struct {
	TopK int `yaml:"top_k"`
}

// PromptConfig configures prompt assembly.
type PromptConfig struct {
	System  string `yaml:"system"`
	MaxSize int    `yaml:"max_size"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
	Terms        int    `yaml:"terms"`
}

// RetryConfig bounds every remote call.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
	TimeoutSecs      int `yaml:"timeout_secs"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoffMs > 0 {
		p.Initial = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		p.Max = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.TimeoutSecs > 0 {
		p.AttemptTimeout = time.Duration(r.TimeoutSecs) * time.Second
	}
	return p
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Sources     SourcesConfig     `yaml:"sources"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Retry       RetryConfig       `yaml:"retry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoadEnvFile loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied on top in both cases.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewError(domain.KindConfig, "", "config.Load", fmt.Sprintf("parse %s", path), err)
		}
	}
	applyConfigDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./ragterm.yaml first, then ~/.config/ragterm/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragterm/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "ragterm.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations that cannot start.
func (c *AppConfig) Validate() error {
	if c.Chunker.Size <= 0 {
		return domain.ChunkConfigError(fmt.Sprintf("chunk size must be positive, got %d", c.Chunker.Size))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return domain.ChunkConfigError(fmt.Sprintf("chunk overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap))
	}
	if c.Retriever.TopK <= 0 {
		return configError(fmt.Sprintf("retriever.top_k must be positive, got %d", c.Retriever.TopK))
	}
	if len(c.Sources.Roots) == 0 {
		return configError("sources.roots is empty")
	}
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"chunker.type", c.Chunker.Type, []string{"window"}},
		{"embedder.type", c.Embedder.Type, []string{"ollama", "openai", "hashing"}},
		{"vector_store.type", c.VectorStore.Type, []string{"qdrant", "memory", "hnsw"}},
		{"generator.type", c.Generator.Type, []string{"ollama", "openai"}},
		{"summarizer.type", c.Summarizer.Type, []string{"frequency", "none"}},
	}
	for _, ch := range checks {
		if !contains(ch.allowed, ch.value) {
			return configError(fmt.Sprintf("unknown %s %q (want one of %s)", ch.field, ch.value, strings.Join(ch.allowed, ", ")))
		}
	}
	if c.VectorStore.Type == "qdrant" && (c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.Collection == "") {
		return configError("vector_store.qdrant.collection is empty")
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.Distance != "" {
		allowed := []string{"Cosine", "Dot", "Euclid", "Manhattan"}
		if !contains(allowed, c.VectorStore.Qdrant.Distance) {
			return configError(fmt.Sprintf("unknown vector_store.qdrant.distance %q (want one of %s)",
				c.VectorStore.Qdrant.Distance, strings.Join(allowed, ", ")))
		}
	}
	return nil
}

func configError(msg string) error {
	return domain.NewError(domain.KindConfig, "", "config.Validate", msg, nil)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragterm", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Sources: SourcesConfig{
			Roots:        []string{"./"},
			Extensions:   []string{".rs", ".go", ".md", ".txt", ".toml", ".json", ".yaml", ".yml", ".py", ".js", ".ts", ".tsx", ".html", ".css"},
			ExcludeDirs:  []string{".git", "target", "node_modules", ".idea", ".vscode", "dist", "build", "qdrant_storage", "vendor"},
			MaxFileBytes: 500_000,
		},
		Chunker:  ChunkerConfig{Type: "window", Size: 1200, Overlap: 200},
		Embedder: EmbedderConfig{Type: "ollama"},
		VectorStore: VectorStoreConfig{
			Type:   "qdrant",
			Qdrant: &QdrantConfig{},
		},
		Generator:  GeneratorConfig{Type: "ollama"},
		Retriever:  RetrieverConfig{TopK: 5},
		Prompt:     PromptConfig{MaxSize: 12000},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3, Terms: 8},
		Retry:      RetryConfig{MaxAttempts: 3, TimeoutSecs: 120},
		Logging:    LoggingConfig{Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "window"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Concurrency == 0 {
		cfg.Embedder.Concurrency = 2
	}
	if cfg.Embedder.CacheSize == 0 {
		cfg.Embedder.CacheSize = 256
	}
	switch cfg.Embedder.Type {
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaConfig{}
		}
		if cfg.Embedder.Ollama.BaseURL == "" {
			cfg.Embedder.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Embedder.Ollama.Model == "" {
			cfg.Embedder.Ollama.Model = "nomic-embed-text"
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small")
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 512
		}
	}

	if cfg.VectorStore.UpsertBatch == 0 {
		cfg.VectorStore.UpsertBatch = 64
	}
	switch cfg.VectorStore.Type {
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Distance == "" {
			q.Distance = "Cosine"
		}
		if q.Collection == "" {
			q.Collection = DefaultCollection()
		}
	case "hnsw":
		if cfg.VectorStore.HNSW == nil {
			cfg.VectorStore.HNSW = &HNSWConfig{}
		}
		if cfg.VectorStore.HNSW.Path == "" {
			cfg.VectorStore.HNSW.Path = filepath.Join(".ragterm", "index.hnsw")
		}
	}

	switch cfg.Generator.Type {
	case "ollama":
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaConfig{}
		}
		if cfg.Generator.Ollama.BaseURL == "" {
			cfg.Generator.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Generator.Ollama.Model == "" {
			cfg.Generator.Ollama.Model = "qwen2.5-coder:14b"
		}
	case "openai":
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Generator.OpenAI, "gpt-4o-mini")
	}

	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func openAIDefaults(c *OpenAIConfig, model string) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
}

// applyEnv lets RAG_*, OLLAMA_* and QDRANT_* variables override the file.
func applyEnv(cfg *AppConfig) error {
	if v, ok := lookup("RAG_SOURCE_DIR"); ok {
		cfg.Sources.Roots = splitList(v)
	}
	if v, ok := lookup("RAG_INCLUDE_EXTS"); ok {
		cfg.Sources.Extensions = splitList(v)
	}
	if v, ok := lookup("RAG_EXCLUDE_DIRS"); ok {
		cfg.Sources.ExcludeDirs = splitList(v)
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"RAG_CHUNK_SIZE", &cfg.Chunker.Size},
		{"RAG_CHUNK_OVERLAP", &cfg.Chunker.Overlap},
		{"RAG_TOP_K", &cfg.Retriever.TopK},
		{"RAG_MAX_PROMPT", &cfg.Prompt.MaxSize},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.NewError(domain.KindConfig, "", "config.Env", fmt.Sprintf("%s=%q is not an integer", e.name, v), err)
		}
		*e.dst = n
	}
	if v, ok := lookup("RAG_MAX_FILE_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.NewError(domain.KindConfig, "", "config.Env", fmt.Sprintf("RAG_MAX_FILE_BYTES=%q is not an integer", v), err)
		}
		cfg.Sources.MaxFileBytes = n
	}
	if v, ok := lookup("RAG_SYSTEM_PROMPT"); ok {
		cfg.Prompt.System = v
	}
	if v, ok := lookup("OLLAMA_URL"); ok {
		if cfg.Embedder.Ollama != nil {
			cfg.Embedder.Ollama.BaseURL = v
		}
		if cfg.Generator.Ollama != nil {
			cfg.Generator.Ollama.BaseURL = v
		}
	}
	if v, ok := lookup("OLLAMA_EMBED_MODEL"); ok && cfg.Embedder.Ollama != nil {
		cfg.Embedder.Ollama.Model = v
	}
	if v, ok := lookup("OLLAMA_CHAT_MODEL"); ok && cfg.Generator.Ollama != nil {
		cfg.Generator.Ollama.Model = v
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if v, ok := lookup("QDRANT_URL"); ok {
			q.URL = v
		}
		if v, ok := lookup("QDRANT_COLLECTION"); ok {
			q.Collection = v
		}
		if v, ok := lookup("QDRANT_DISTANCE"); ok {
			q.Distance = v
		}
		if v, ok := lookup("QDRANT_API_KEY"); ok {
			q.APIKey = v
		}
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultCollection names the Qdrant collection after the working directory.
func DefaultCollection() string {
	name := "default"
	if wd, err := os.Getwd(); err == nil {
		name = filepath.Base(wd)
	}
	return SanitizeCollection(name) + "_rag_chunks"
}

// SanitizeCollection keeps ASCII letters, digits, '_' and '-', maps
// whitespace and '.' to '_', and drops everything else.
func SanitizeCollection(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-'):
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '.':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
