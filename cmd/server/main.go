// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"om-smart-go/internal/chunker"
	"om-smart-go/internal/config"
	"om-smart-go/internal/extractor"
	"om-smart-go/internal/handler"
	"om-smart-go/internal/index"
	"om-smart-go/internal/middleware"
	"om-smart-go/internal/pipeline"
	"om-smart-go/internal/render"
	"om-smart-go/internal/repository"
	"om-smart-go/internal/resolver"
	"om-smart-go/internal/service"
	"om-smart-go/pkg/database"
	"om-smart-go/pkg/embedding"
	"om-smart-go/pkg/es"
	"om-smart-go/pkg/kafka"
	"om-smart-go/pkg/llm"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/pgvector"
	"om-smart-go/pkg/storage"
	"om-smart-go/pkg/tika"
	"om-smart-go/pkg/token"
	"om-smart-go/pkg/tokenizer"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库、Redis 和对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	store, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatal("对象存储初始化失败", err)
	}

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	templateRepo := repository.NewTemplateRepository(database.DB)
	genRepo := repository.NewGenerationRepository(database.DB)
	jobRepo := repository.NewJobRepository(database.DB)
	listingRepo := repository.NewListingRepository(database.DB)

	// 5. 初始化模型客户端
	embeddingClient, err := embedding.NewClient(ctx, cfg.Embedding)
	if err != nil {
		log.Fatal("embedding 客户端初始化失败", err)
	}
	generator, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}
	var vision extractor.VisionModel
	if cfg.Vision.APIKey != "" {
		geminiVision, err := llm.NewGeminiVision(ctx, cfg.Vision)
		if err != nil {
			log.Fatal("多模态模型初始化失败", err)
		}
		defer geminiVision.Close()
		vision = geminiVision
	} else {
		log.Warnf("未配置 vision.api_key, 扫描件和图片将无法抽取")
	}

	// 6. 组装抽取、索引、解析和渲染组件
	vectorStore, closeVectors, err := newVectorStore(ctx, cfg, chunkRepo)
	if err != nil {
		log.Fatal("向量检索后端初始化失败", err)
	}
	defer closeVectors()

	var textLayer extractor.TextLayer = extractor.DocconvTextLayer{}
	if cfg.Extractor.PDFBackend == "tika" {
		textLayer = tika.NewClient(cfg.Tika)
	}
	ex := extractor.New(textLayer, vision,
		extractor.WithMinTextChars(cfg.Vision.MinTextChars),
		extractor.WithVisionTimeout(cfg.Vision.Timeout),
	)

	ix := index.New(
		chunker.New(chunker.WithChunkTokens(cfg.Chunker.ChunkTokens), chunker.WithOverlapTokens(cfg.Chunker.OverlapTokens)),
		embeddingClient,
		chunkRepo,
		vectorStore,
		index.WithBatchSize(cfg.Embedding.BatchSize),
		index.WithTimeout(cfg.Embedding.Timeout),
	)

	resolverOpts := []resolver.Option{
		resolver.WithTopK(cfg.Resolver.TopK),
		resolver.WithMaxSnippets(cfg.Resolver.MaxSnippets),
		resolver.WithMaxContextTokens(cfg.Resolver.MaxContextTokens),
		resolver.WithConcurrency(cfg.Resolver.Concurrency),
		resolver.WithTokenCounter(tokenizer.New(cfg.LLM.Model)),
		resolver.WithGeneration(cfg.LLM.Generation.Temperature, cfg.LLM.Generation.MaxTokens),
		resolver.WithTimeout(cfg.LLM.Timeout),
	}
	if cfg.Resolver.AttachFullDocuments {
		resolverOpts = append(resolverOpts, resolver.WithFullDocuments(docRepo, cfg.Resolver.FullDocumentChars))
	}
	res := resolver.New(ix, generator, resolverOpts...)
	renderer := render.New(cfg.Render.PageSize, cfg.Render.MarginMM)

	// 7. 初始化两条队列上的处理器并启动消费者
	extraction := pipeline.NewExtractionProcessor(docRepo, jobRepo, store, ex, ix)
	generation := pipeline.NewGenerationProcessor(genRepo, templateRepo, listingRepo, jobRepo, res, renderer, store, cfg.Render.Banner)

	runnerOpts := []kafka.RunnerOption{
		kafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		kafka.WithBackoff(cfg.Kafka.Backoff),
		kafka.WithLocker(kafka.NewRedisLocker(database.RDB)),
		kafka.WithLockTTL(cfg.Pipeline.LockTTL),
	}
	lanes := []struct {
		topic  string
		runner *kafka.Runner
	}{
		{cfg.Kafka.ExtractionTopic, kafka.NewRunner(extraction, jobRepo, runnerOpts...)},
		{cfg.Kafka.GenerationTopic, kafka.NewRunner(generation, jobRepo, runnerOpts...)},
	}
	var consumers sync.WaitGroup
	for _, lane := range lanes {
		consumers.Add(1)
		go func(topic string, runner *kafka.Runner) {
			defer consumers.Done()
			kafka.StartConsumer(ctx, cfg.Kafka, topic, runner)
		}(lane.topic, lane.runner)
	}

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 8. 初始化 Service
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	documentService := service.NewDocumentService(docRepo, jobRepo, ix, store, producer)
	generationService := service.NewGenerationService(genRepo, docRepo, templateRepo, jobRepo, store, producer)
	templateService := service.NewTemplateService(templateRepo)
	searchService := service.NewSearchService(ix, cfg.Vector.TopK)

	if cfg.Pipeline.RecoverOnStart {
		if _, err := service.RecoverJobs(ctx, jobRepo, producer); err != nil {
			log.Errorf("恢复未完成任务失败: %v", err)
		}
	}
	go service.RunRecoveryLoop(ctx, jobRepo, producer, cfg.Pipeline.RecoverInterval, cfg.Pipeline.StaleAfter)
	go seedDocuments(ctx, "initfile", documentService)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	documentHandler := handler.NewDocumentHandler(documentService, cfg.Server.MaxUploadMB)
	generationHandler := handler.NewGenerationHandler(generationService, jwtManager)
	templateHandler := handler.NewTemplateHandler(templateService)
	searchHandler := handler.NewSearchHandler(searchService)
	canWrite := middleware.RequireRoles(cfg.JWT.WriteRoles...)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		listings := apiV1.Group("/listings/:listingId")
		{
			listings.POST("/documents", canWrite, documentHandler.Submit)
			listings.GET("/documents", documentHandler.ListByListing)
			listings.POST("/generations", canWrite, generationHandler.Request)
			listings.GET("/generations", generationHandler.ListByListing)
			listings.GET("/search", searchHandler.Search)
		}

		documents := apiV1.Group("/documents")
		{
			documents.GET("/supported-types", documentHandler.SupportedTypes)
			documents.GET("/:id", documentHandler.GetStatus)
			documents.POST("/:id/resubmit", canWrite, documentHandler.Resubmit)
			documents.DELETE("/:id", canWrite, documentHandler.Delete)
		}

		generations := apiV1.Group("/generations")
		{
			generations.GET("/:id", generationHandler.GetStatus)
			generations.POST("/:id/regenerate", canWrite, generationHandler.Regenerate)
			generations.GET("/:id/artifacts/:format", generationHandler.Download)
		}

		templates := apiV1.Group("/templates")
		{
			templates.POST("", canWrite, templateHandler.Create)
			templates.GET("", templateHandler.List)
			templates.GET("/:id", templateHandler.Get)
		}
	}
	// WebSocket 无法携带 Authorization 头，token 走查询参数，由 handler 自行校验
	r.GET("/api/v1/generations/:id/watch", generationHandler.Watch)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 正在处理的任务保持 processing，下次启动时由恢复流程重新投递
	stop()
	consumers.Wait()
	log.Info("服务已优雅关闭")
}

// newVectorStore 按 vector.backend 创建检索后端，返回的 close 函数总是非 nil。
func newVectorStore(ctx context.Context, cfg config.Config, chunks repository.ChunkRepository) (index.VectorStore, func(), error) {
	switch cfg.Vector.Backend {
	case "", "database":
		return index.NewDatabaseStore(chunks), func() {}, nil
	case "elasticsearch", "es":
		s, err := es.NewChunkStore(cfg.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() {}, nil
	case "pgvector":
		s, err := pgvector.NewStore(ctx, cfg.PGVector, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, func() {}, err
		}
		return s, s.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("未知的向量后端: %s", cfg.Vector.Backend)
	}
}

// seedDocuments 导入 dir/<listingId>/ 下的文件，走标准提交流程。
// 同一 listing 下已存在同名文档时跳过，重复启动不会重复导入。
func seedDocuments(ctx context.Context, dir string, docs service.DocumentService) {
	listings, err := os.ReadDir(dir)
	if err != nil {
		log.Infof("seedDocuments: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}
	for _, l := range listings {
		if !l.IsDir() {
			continue
		}
		listingID := l.Name()
		existing, err := docs.ListByListing(ctx, listingID)
		if err != nil {
			log.Warnf("seedDocuments: 查询 listing %s 失败: %v", listingID, err)
			continue
		}
		seen := make(map[string]bool, len(existing))
		for _, d := range existing {
			seen[d.FileName] = true
		}

		files, err := os.ReadDir(filepath.Join(dir, listingID))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || seen[f.Name()] {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, listingID, f.Name()))
			if err != nil {
				log.Warnf("seedDocuments: 读取文件失败: %s, err=%v", f.Name(), err)
				continue
			}
			if _, err := docs.Submit(ctx, service.SubmitRequest{ListingID: listingID, FileName: f.Name(), Data: data}); err != nil {
				log.Warnf("seedDocuments: 提交失败: %s/%s, err=%v", listingID, f.Name(), err)
				continue
			}
			log.Infof("seedDocuments: 已导入 %s/%s", listingID, f.Name())
		}
	}
}
