package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"ragterm/internal/chunker"
	"ragterm/internal/config"
	"ragterm/internal/domain"
	"ragterm/internal/embedding"
	"ragterm/internal/embedding/hashing"
	ollamaembed "ragterm/internal/embedding/ollama"
	openaiembed "ragterm/internal/embedding/openai"
	ollamagen "ragterm/internal/generation/ollama"
	openaigen "ragterm/internal/generation/openai"
	"ragterm/internal/prompt"
	"ragterm/internal/retriever"
	"ragterm/internal/retry"
	"ragterm/internal/scanner"
	"ragterm/internal/service"
	"ragterm/internal/summarizer"
	"ragterm/internal/vectorstore"
	"ragterm/internal/vectorstore/hnsw"
	"ragterm/internal/vectorstore/memory"
	"ragterm/internal/vectorstore/qdrant"
)

// app is the assembled pipeline.
type app struct {
	orch   *service.Orchestrator
	banner string
}

// buildApp wires every component named by cfg. cfg must be validated.
func buildApp(cfg *config.AppConfig) (*app, error) {
	policy := cfg.Retry.Policy()

	ch, err := chunker.NewWindowChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg.Embedder, policy)
	if err != nil {
		return nil, err
	}

	store, where, err := newStore(cfg.VectorStore, policy)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg.Generator, policy)
	if err != nil {
		return nil, err
	}

	var digest service.Digester
	if cfg.Summarizer.Type == "frequency" {
		digest = summarizer.NewFrequencySummarizer()
	}

	src := scanner.New(scanner.Options{
		Roots:          cfg.Sources.Roots,
		Extensions:     cfg.Sources.Extensions,
		ExcludeDirs:    cfg.Sources.ExcludeDirs,
		MaxFileBytes:   cfg.Sources.MaxFileBytes,
		FollowSymlinks: cfg.Sources.FollowSymlinks,
	})

	orch := service.New(service.Deps{
		Source:  src,
		Chunker: ch,
		Embedder: embedding.NewBatcher(emb, embedding.BatchConfig{
			BatchSize:         cfg.Embedder.BatchSize,
			Concurrency:       cfg.Embedder.Concurrency,
			RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
		}),
		Store:     store,
		Retriever: retriever.New(embedding.NewCached(emb, cfg.Embedder.CacheSize), store),
		Prompt:    prompt.New(cfg.Prompt.System, cfg.Prompt.MaxSize),
		Generator: gen,
		Digest:    digest,
	}, service.Options{
		TopK:            cfg.Retriever.TopK,
		UpsertBatch:     cfg.VectorStore.UpsertBatch,
		DigestSentences: cfg.Summarizer.MaxSentences,
		DigestTerms:     cfg.Summarizer.Terms,
	})

	banner := fmt.Sprintf("embed %s · chat %s · %s %s · top %d",
		emb.Model(), gen.Model(), cfg.VectorStore.Type, where, cfg.Retriever.TopK)
	return &app{orch: orch, banner: banner}, nil
}

func newEmbedder(cfg config.EmbedderConfig, policy retry.Policy) (domain.Embedder, error) {
	switch cfg.Type {
	case "ollama":
		return ollamaembed.New(ollamaembed.Config{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Ollama.Model,
			Retry:   policy,
		}), nil
	case "openai":
		c, err := openaiembed.NewClient(openaiembed.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Retry:     policy,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "hashing":
		return hashing.New(cfg.Hashing.Dimension), nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
}

func newStore(cfg config.VectorStoreConfig, policy retry.Policy) (vectorstore.Storage, string, error) {
	switch cfg.Type {
	case "qdrant":
		q := cfg.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Distance:   q.Distance,
			Retry:      policy,
		}), q.Collection, nil
	case "memory":
		return memory.NewStorage(), "(in memory)", nil
	case "hnsw":
		if err := os.MkdirAll(filepath.Dir(cfg.HNSW.Path), 0o755); err != nil {
			return nil, "", err
		}
		s, err := hnsw.Open(cfg.HNSW.Path)
		if err != nil {
			return nil, "", err
		}
		return s, cfg.HNSW.Path, nil
	}
	return nil, "", fmt.Errorf("unknown vector store: %s", cfg.Type)
}

func newGenerator(cfg config.GeneratorConfig, policy retry.Policy) (domain.Generator, error) {
	switch cfg.Type {
	case "ollama":
		opts := map[string]any{"temperature": cfg.Temperature}
		if cfg.MaxTokens > 0 {
			opts["num_predict"] = cfg.MaxTokens
		}
		return ollamagen.New(ollamagen.Config{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Ollama.Model,
			Options: opts,
			Retry:   policy,
		}), nil
	case "openai":
		c, err := openaigen.NewClient(openaigen.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Retry:       policy,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
}
