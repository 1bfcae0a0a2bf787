package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"screenpilot/internal/chromemdb"
	"screenpilot/internal/config"
	"screenpilot/internal/db"
	"screenpilot/internal/embedding"
	"screenpilot/internal/ingest"
	"screenpilot/internal/llmservice"
	"screenpilot/internal/rag"
	"screenpilot/internal/server"
	"screenpilot/internal/vectorstore"
	"screenpilot/internal/weaviatedb"
)

const (
	configFilePath  = "./configs/config.yaml"
	checkTimeout    = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	ingestPattern := flag.String("ingest", "", "Index files matching this glob at start-up, e.g. ./docs/**/*.pdf")
	watch := flag.Bool("watch", false, "Keep indexing files matching -ingest as they change")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *ingestPattern != "" {
		cfg.Ingest.Pattern = *ingestPattern
	}
	if *watch {
		cfg.Ingest.Watch = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Str("store", store.Name()).Msg("Error closing vector store")
		}
	}()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s: %w", store.Name(), err)
	}
	log.Info().Str("store", store.Name()).Msg("Vector store ready")

	embedder, err := embedding.NewFromConfig(cfg, &http.Client{Timeout: cfg.Friendli.Timeout})
	if err != nil {
		return fmt.Errorf("error initializing embedder: %w", err)
	}

	client, err := llmservice.NewClient(ctx, cfg, &http.Client{Timeout: checkTimeout})
	if err != nil {
		return err
	}
	log.Info().Str("base_url", client.BaseURL()).Bool("gemini", client.HasGemini()).Msg("Completion client ready")

	service := rag.NewRAG(store, embedder, client, cfg.RAG.ChunkSize, cfg.RAG.TopK)
	if err := startIngest(ctx, cfg.Ingest, service); err != nil {
		return err
	}
	srv := server.New(cfg.Server, service).HTTPServer(cfg.Server.Addr)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ScreenPilot backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case config.StoreWeaviate:
		return weaviatedb.Connect(vs.Weaviate)
	case config.StorePgvector:
		return db.Open(&vs.Database)
	case config.StoreChromem:
		m, err := chromemdb.NewVectorDBManager(vs.Chromem)
		if err != nil {
			return nil, err
		}
		// in-memory collections are exported on Close when a key is set
		if vs.Chromem.InMemory && vs.Chromem.EncryptionKey != "" {
			if err := m.Import(ctx); err != nil {
				log.Warn().Err(err).Msg("No previous export imported")
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", vs.Type)
	}
}

// startIngest indexes the configured files and, with Watch, keeps a watcher
// running until ctx is done.
func startIngest(ctx context.Context, cfg config.IngestConfig, up ingest.Uploader) error {
	if cfg.Pattern == "" {
		return nil
	}
	if _, err := ingest.Run(ctx, up, cfg.Pattern); err != nil {
		return fmt.Errorf("error ingesting %s: %w", cfg.Pattern, err)
	}
	if !cfg.Watch {
		return nil
	}
	w, err := ingest.NewWatcher(up, cfg.Pattern)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("File watcher stopped")
		}
	}()
	log.Info().Str("pattern", cfg.Pattern).Msg("Watching for new files")
	return nil
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
