package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docqa/internal/answer"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/embedding/openai"
	"docqa/internal/httpapi"
	"docqa/internal/keyword"
	"docqa/internal/mcpserver"
	"docqa/internal/retriever"
	"docqa/internal/service"
	"docqa/internal/summarizer"
	"docqa/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath string
		serve   bool
		mcpMode bool
		rebuild bool
		addr    string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/docqa/config.yaml if not provided)")
	flag.BoolVar(&serve, "serve", false, "Run the HTTP API instead of the terminal UI")
	flag.BoolVar(&mcpMode, "mcp", false, "Run as an MCP server over stdio")
	flag.BoolVar(&rebuild, "rebuild", false, "Rebuild a corrupted or mismatched index from the document store instead of failing")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: rag [--config=config.yaml] [--rebuild] [--serve | --mcp] [file1.txt file2.pdf ...]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if mcpMode {
		// stdout carries the protocol
		log.SetOutput(os.Stderr)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("✓ Config loaded from %s", cfgPath)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if rebuild {
		cfg.Storage.RebuildOnCorruption = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer cleanup()

	var summary string
	if inputs := flag.Args(); len(inputs) > 0 {
		report, err := svc.IngestFiles(ctx, inputs)
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		for _, s := range report.Skipped {
			log.Printf("Skipped %s", s)
		}
		summary = report.Summary
	}

	switch {
	case mcpMode:
		if err := mcpserver.Serve(ctx, svc); err != nil && ctx.Err() == nil {
			log.Fatalf("MCP server error: %v", err)
		}
	case serve:
		if err := httpapi.NewServer(svc).ListenAndServe(ctx, cfg.Server.Addr); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	default:
		if summary == "" {
			st, err := svc.Statistics(ctx)
			if err != nil {
				log.Fatalf("statistics failed: %v", err)
			}
			if st.Documents == 0 {
				flag.Usage()
				os.Exit(1)
			}
			summary = fmt.Sprintf("%d documents, %d chunks indexed", st.Documents, st.Chunks)
		}
		m := tui.New(ctx, svc, summary)
		if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	}
}

// build assembles the service from cfg. cleanup closes the stores.
func build(ctx context.Context, cfg *config.AppConfig) (*service.Service, func(), error) {
	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, nil, err
	}
	ch, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, nil, err
	}

	index, err := service.LoadIndex(cfg.Storage.IndexDir, emb.Dimension(), cfg.Storage.RebuildOnCorruption)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (start with --rebuild to rebuild it from the document store)", err)
	}
	r, err := retriever.New(ch, emb, index, retriever.WithWorkers(cfg.Retrieval.EmbedWorkers))
	if err != nil {
		return nil, nil, err
	}

	sum := summarizer.NewFrequencySummarizer()
	generators, err := newGenerators(cfg.Generator, sum)
	if err != nil {
		return nil, nil, err
	}
	orch, err := answer.New(r, generators, answer.Options{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.SimilarityThreshold,
	})
	if err != nil {
		return nil, nil, err
	}

	kw, err := keyword.New()
	if err != nil {
		return nil, nil, err
	}
	if dir := filepath.Dir(cfg.Storage.DocumentsDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			kw.Close()
			return nil, nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	docs, err := docstore.Open(cfg.Storage.DocumentsDB)
	if err != nil {
		kw.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := docs.Close(); err != nil {
			log.Printf("Error closing document store: %v", err)
		}
		if err := kw.Close(); err != nil {
			log.Printf("Error closing keyword index: %v", err)
		}
	}

	svc := service.New(r, orch, kw, docs, sum, emb.Name(), service.Options{
		IndexDir:            cfg.Storage.IndexDir,
		TopK:                cfg.Retrieval.TopK,
		Threshold:           cfg.Retrieval.SimilarityThreshold,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
	})
	if err := svc.Reconcile(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to reconcile index: %w", err)
	}
	log.Printf("✓ Ready: embedder=%s generators=%s", emb.Name(), strings.Join(orch.Generators(), ","))
	return svc, cleanup, nil
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{}
		}
		return openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Dimensions: cfg.Dimension,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, cfg.Type)
	}
}

// newGenerators builds the generator chain in the configured fallback order.
// A provider that cannot be created is skipped as long as another remains.
func newGenerators(cfg config.GeneratorConfig, sum *summarizer.FrequencySummarizer) ([]domain.Generator, error) {
	var out []domain.Generator
	for _, p := range cfg.Providers {
		switch p {
		case "openai":
			oc := cfg.OpenAI
			if oc == nil {
				oc = &config.OpenAIGeneratorConfig{}
			}
			g, err := answer.NewOpenAIGenerator(answer.OpenAIConfig{
				BaseURL:     oc.BaseURL,
				APIKeyEnv:   oc.APIKeyEnv,
				Model:       oc.Model,
				MaxTokens:   oc.MaxTokens,
				Temperature: oc.Temperature,
				Timeout:     time.Duration(oc.TimeoutSecs) * time.Second,
			})
			if err != nil {
				log.Printf("Warning: openai generator unavailable: %v", err)
				continue
			}
			out = append(out, g)
		case "extractive":
			out = append(out, answer.NewExtractiveGenerator(sum, cfg.MaxSentences))
		default:
			return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrConfiguration, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable generator configured", domain.ErrConfiguration)
	}
	return out, nil
}
