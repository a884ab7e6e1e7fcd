package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"

	"insight-engine-backend/config"
	"insight-engine-backend/internal/cache"
	"insight-engine-backend/internal/controller"
	"insight-engine-backend/internal/executor"
	"insight-engine-backend/internal/guard"
	"insight-engine-backend/internal/kafka"
	"insight-engine-backend/internal/knowledge"
	"insight-engine-backend/internal/probe"
	"insight-engine-backend/internal/registry"
	"insight-engine-backend/internal/repository"
	"insight-engine-backend/internal/rewrite"
	"insight-engine-backend/internal/scheduler"
	"insight-engine-backend/internal/service"
	"insight-engine-backend/internal/store"
)

// @title           Insight Engine API
// @version         1.0
// @description     Ask natural-language questions about registered datasets and get back executed SQL results with chart recommendations, or a clarifying question when the intent is ambiguous.

// @contact.name   API Support Team
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /
// @schemes   http https

// @tag.name         query
// @tag.description  Natural language query operations

func main() {
	var wg sync.WaitGroup

	app := fx.New(
		// Core Dependencies
		fx.Provide(
			NewConfig,
		),
		// Infrastructure Dependencies
		fx.Provide(
			NewGinEngine,
			repository.NewDB,
			repository.NewDatasetRepository,
			repository.NewHistoryRepository,
			cache.ProvideBadger,
			cache.NewBadgerKV,
			cache.NewSemanticCache,
			knowledge.NewESRetriever,
			kafka.NewAuditProducer,
			kafka.NewDatasetEventConsumer,
			registry.NewRegistry,
			executor.NewEngine,
			NewGuard,
			probe.NewResolver,
			NewRewriter,
			service.NewGeminiLLMService,
			service.NewQueryService,
			service.NewInvalidationService,
			store.NewInMemoryConversationStore,
			controller.NewQueryController,
		),
		fx.Invoke(
			RegisterAPIRoutes,
			RegisterScheduler,
			func(lc fx.Lifecycle, invalidationSvc service.InvalidationService) {
				startInvalidationConsumer(lc, &wg, invalidationSvc)
			},
		),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	<-app.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	log.Info().Msg("Shutting down application...")
	if err := app.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown due to error or timeout")
	}

	log.Info().Msg("Waiting for background goroutines to finish...")
	wg.Wait()
	log.Info().Msg("All background processes finished. Exiting.")
}

func NewConfig() (*config.Config, error) {
	return config.NewConfig()
}

func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// Configure CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // Add your frontend URLs
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Add swagger route
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// --- Factory Functions ---

func NewGuard(cfg *config.Config) *guard.Guard {
	return guard.New(cfg.Engine.RowCeiling)
}

func NewRewriter(llm service.LLMService) *rewrite.Rewriter {
	return rewrite.NewRewriter(llm)
}

// --- Invoker Functions ---

func RegisterAPIRoutes(
	lifecycle fx.Lifecycle,
	router *gin.Engine,
	cfg *config.Config,
	queryController *controller.QueryController,
) {
	if queryController != nil {
		controller.RegisterQueryRoutes(router, queryController)
	} else {
		log.Warn().Msg("QueryController not provided, skipping query API routes.")
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msgf("Starting HTTP server on port %s", cfg.Server.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("HTTP server ListenAndServe error")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}

func RegisterScheduler(lc fx.Lifecycle, cfg *config.Config, db *badger.DB) {
	scheduler.NewScheduler(lc, cfg, db)
}

// startInvalidationConsumer runs the dataset-event consumer loop in a
// goroutine managed by the fx lifecycle.
func startInvalidationConsumer(lc fx.Lifecycle, wg *sync.WaitGroup, invalidationSvc service.InvalidationService) {
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info().Msg("Starting invalidation consumer goroutine")
			go invalidationSvc.Run(ctx, wg)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info().Msg("Signaling invalidation consumer goroutine to stop...")
			cancel()
			return nil
		},
	})
}
