package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/himeshgonnade/chronosscan/internal/application"
	"github.com/himeshgonnade/chronosscan/internal/application/pipeline"
	"github.com/himeshgonnade/chronosscan/internal/application/tasks"
	"github.com/himeshgonnade/chronosscan/internal/config"
	"github.com/himeshgonnade/chronosscan/internal/domain/analysis"
	"github.com/himeshgonnade/chronosscan/internal/domain/reports"
	"github.com/himeshgonnade/chronosscan/internal/domain/scanerrors"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
	analysishttp "github.com/himeshgonnade/chronosscan/internal/infra/analysis/httpclient"
	aiclient "github.com/himeshgonnade/chronosscan/internal/infra/ai/openai"
	mysqlp "github.com/himeshgonnade/chronosscan/internal/infra/db/mysql"
	postgresp "github.com/himeshgonnade/chronosscan/internal/infra/db/postgres"
	"github.com/himeshgonnade/chronosscan/internal/infra/httpserver"
	ragindex "github.com/himeshgonnade/chronosscan/internal/infra/rag"
	minioStore "github.com/himeshgonnade/chronosscan/internal/infra/storage"
	"github.com/himeshgonnade/chronosscan/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect database (mysql default, postgres alternate)
	var db *sql.DB
	var scanRepo scans.Repository
	var reportRepo reports.Repository
	var errorRepo scanerrors.Repository
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		scanRepo = postgresp.NewScanRepository(db)
		reportRepo = postgresp.NewReportRepository(db)
		errorRepo = postgresp.NewScanErrorRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		scanRepo = mysqlp.NewScanRepository(db)
		reportRepo = mysqlp.NewReportRepository(db)
		errorRepo = mysqlp.NewScanErrorRepository(db)
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init downstream clients
	var analyzer analysis.Client = analysishttp.NewClient(cfg.Analysis.BaseURL, cfg.AnalysisTimeout())
	ai := aiclient.NewClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.EmbeddingModel)

	if !cfg.Pipeline.RecordFailures {
		errorRepo = nil
	}

	// init service
	svc := &pipeline.Service{
		Scans:             scanRepo,
		Reports:           reportRepo,
		ScanErrors:        errorRepo,
		Analyzer:          analyzer,
		Ranker:            &ragindex.Ranker{Embedder: ai, TopK: cfg.Pipeline.ContextTopK},
		Generator:         ai,
		Tasks:             tasks.GoRunner{},
		Clock:             application.SystemClock{},
		AnalysisTimeout:   cfg.AnalysisTimeout(),
		GenerationTimeout: cfg.AITimeout(),
		DefaultQuery:      cfg.Pipeline.DefaultQuery,
	}

	// init router
	mux := chi.NewRouter()
	mux.Get("/health/db", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}))
	mux.Mount("/", httpserver.NewRouter(svc, store))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
