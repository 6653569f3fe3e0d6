package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smartpop/popup-analytics/internal/config"
	"github.com/smartpop/popup-analytics/internal/handler"
	"github.com/smartpop/popup-analytics/internal/middleware"
	"github.com/smartpop/popup-analytics/internal/migration"
	"github.com/smartpop/popup-analytics/internal/repository"
	"github.com/smartpop/popup-analytics/internal/routes"
	"github.com/smartpop/popup-analytics/internal/scheduler"
	"github.com/smartpop/popup-analytics/internal/service"
	"github.com/smartpop/popup-analytics/pkg/cache"
	pkglogger "github.com/smartpop/popup-analytics/pkg/logger"
	pkgredis "github.com/smartpop/popup-analytics/pkg/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// @title           Popup Analytics API
// @version         1.0
// @description     Popup event ingestion, attribution and dashboard metrics
//
// @host            localhost:8080
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Admin token using the Bearer scheme. Example: "Bearer {token}"

// getConfigPath returns config file path based on APP_ENV environment variable
func getConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

func main() {
	dotenvFiles := config.LoadDotEnv()

	// 로거 초기화
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v", env, dotenvFiles)

	// 설정 로드
	configPath := getConfigPath()
	pkglogger.Info("Loading config from: %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	pkglogger.SetLevel(cfg.Server.LogLevel)
	config.LogResolved(cfg)

	// MySQL 연결 (이벤트 로그가 DB 에 있으므로 필수)
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	pkglogger.Info("Connected to MySQL")
	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Redis 연결 (선택)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
		)
		if err != nil {
			pkglogger.Warn("Failed to connect to Redis: %v (continuing without Redis)", err)
			redisClient = nil
		} else {
			pkglogger.Info("Connected to Redis")
		}
	}

	// Cache Store
	store := cache.NewStore(durableBackend(cfg, db, redisClient))

	// Repositories
	eventRepo := repository.NewEventRepository(db)
	journeyRepo := repository.NewJourneyRepository(db)
	conversionRepo := repository.NewConversionRepository(db)
	bucketRepo := repository.NewAggregationRepository(db)
	behaviorRepo := repository.NewBehaviorRepository(db)

	// Services
	metricsService := service.NewMetricsService(eventRepo, bucketRepo, conversionRepo, store)
	attributionService := service.NewAttributionService(eventRepo, journeyRepo, conversionRepo, behaviorRepo)
	aggregationService := service.NewAggregationService(eventRepo, bucketRepo, store, metricsService, cfg.Pipeline.WarmAfterRollup)
	validator := service.NewEventValidator(service.MetadataLimits{
		MaxDepth: cfg.Pipeline.MetadataMaxDepth,
		MaxBytes: cfg.Pipeline.MetadataMaxBytes,
		MaxKeys:  cfg.Pipeline.MetadataMaxKeys,
	})
	ingestService := service.NewIngestService(eventRepo, attributionService, aggregationService, store, validator, service.IngestConfig{
		DefaultBatchSize:  cfg.Pipeline.DefaultBatchSize,
		MaxBatchSize:      cfg.Pipeline.MaxBatchSize,
		AttributionWindow: cfg.Pipeline.AttributionWindow,
	})

	// Background tasks
	sched := scheduler.New()
	scheduler.RegisterPipelineTasks(sched, store, aggregationService, cfg.Cache.CleanupInterval, cfg.Pipeline.RollupInterval)

	// Handlers
	ingestHandler := handler.NewIngestHandler(ingestService)
	metricsHandler := handler.NewMetricsHandler(metricsService, attributionService)
	auditLogger := middleware.NewAuditLogger(db)
	adminHandler := handler.NewAdminHandler(aggregationService, store, sched).WithAuditLog(auditLogger)

	// Gin 라우터 생성
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 설정
	allowOrigins := cfg.CORS.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000"
	}

	corsConfig := cors.Config{
		AllowOrigins:  splitAndTrim(allowOrigins, ","),
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token", "X-Request-ID"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		ExposeHeaders: []string{"X-Request-ID", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}
	if allowOrigins == "*" {
		// 위젯은 임의의 상점 도메인에서 호출된다
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// Middleware
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	router.GET("/health", func(c *gin.Context) {
		stats := sqlDB.Stats()
		middleware.SetDBConnectionsActive(float64(stats.InUse))

		status, code := "ok", http.StatusOK
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "popup-analytics",
			"time":    time.Now().Unix(),
			"cache":   store.Stats(),
		})
	})

	// Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.Setup(router, ingestHandler, metricsHandler, adminHandler, cfg, limiterClient(cfg, redisClient), auditLogger)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	// 서버 시작
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		pkglogger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	pkglogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		pkglogger.Error("Server shutdown: %v", err)
	}
	sched.Stop()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = sqlDB.Close()
}

// durableBackend picks the second cache tier from cache.durable
func durableBackend(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) cache.Backend {
	switch cfg.Cache.Durable {
	case "database":
		return repository.NewCacheRepository(db)
	case "redis":
		if redisClient == nil {
			pkglogger.Warn("cache.durable=redis but Redis is unavailable; memory tier only")
			return nil
		}
		return cache.NewRedisBackend(redisClient, cfg.Cache.RedisNamespace)
	default:
		return nil
	}
}

// limiterClient 개발 환경에서는 rate limit 을 끈다
func limiterClient(cfg *config.Config, redisClient *redis.Client) *redis.Client {
	if cfg.IsDevelopment() {
		return nil
	}
	return redisClient
}

// splitAndTrim splits a string by delimiter and trims spaces
func splitAndTrim(s string, delimiter string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, delimiter) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// initDB MySQL 연결 초기화
func initDB(cfg *config.Config) (*gorm.DB, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("DSN 파싱 실패: %w", err)
	}
	if mysqlCfg.Params == nil {
		mysqlCfg.Params = map[string]string{}
	}
	// 버킷 경계는 UTC 기준
	mysqlCfg.Params["time_zone"] = "'+00:00'"

	logLevel := gormlogger.Warn
	if cfg.IsDevelopment() {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	db.Exec("SET NAMES utf8mb4")

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	return db, nil
}
