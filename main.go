package main

import (
	"context"
	"log"
	"os"
	"time"

	"videoscope/internal/api"
	"videoscope/internal/config"
	"videoscope/internal/progress"
	"videoscope/internal/redis"
	"videoscope/internal/service/analysis"
	"videoscope/internal/service/document"
	"videoscope/internal/service/media"
	"videoscope/internal/service/scope"
	"videoscope/internal/service/transcribe"
	"videoscope/internal/storage"
	"videoscope/internal/upload"
	"videoscope/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("VIDEOSCOPE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("VIDEOSCOPE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	analysisService, err := analysis.NewService(db)
	if err != nil {
		log.Fatalf("init analysis service: %v", err)
	}

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	documentsDir := cfg.BasicConfig.DocumentsDir
	if documentsDir == "" {
		documentsDir = "./data/documents"
	}

	sessionTTL := time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute
	if sessionTTL <= 0 {
		sessionTTL = upload.DefaultSessionTTL
	}
	uploads := upload.NewManager(upload.NewRedisStore(rdb), fileBase, sessionTTL)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sweepInterval := time.Duration(cfg.BasicConfig.SessionSweepInterval) * time.Minute
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	uploads.StartSweeper(sweepCtx, sweepInterval)

	transcriber, err := transcribe.NewService(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.TranscribeModel)
	if err != nil {
		log.Fatalf("init transcriber: %v", err)
	}
	parser, err := scope.NewService(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.ParseModel)
	if err != nil {
		log.Fatalf("init scope parser: %v", err)
	}
	renderer, err := document.NewService(documentsDir, scope.CostCodeMapping)
	if err != nil {
		log.Fatalf("init document renderer: %v", err)
	}

	store := progress.NewRedisStore(rdb)
	jobs := worker.NewManager(store, analysisService, worker.Collaborators{
		Convert:    media.NewService(),
		Transcribe: transcriber,
		Parse:      parser,
		Render:     renderer,
	}, worker.Config{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		MaxUploadMB:       cfg.OpenAI.MaxUploadMB,
		CostCodes:         scope.CostCodeMapping,
	})

	pingInterval := time.Duration(cfg.BasicConfig.PingInterval) * time.Second
	handlers := api.NewHandler(uploads, store, jobs, analysisService, api.PingerFunc(db.PingContext), rdb, pingInterval)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
