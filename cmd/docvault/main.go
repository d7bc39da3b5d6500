// Точка входа DocVault — сервис анкеровки гражданских документов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт клиентов ledger / blob / precheck, сервисный слой и API handlers,
// запускает HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/docvault/internal/api/handlers"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/blobclient"
	"github.com/bigkaa/docvault/internal/config"
	"github.com/bigkaa/docvault/internal/database"
	"github.com/bigkaa/docvault/internal/ledgerclient"
	"github.com/bigkaa/docvault/internal/precheckclient"
	"github.com/bigkaa/docvault/internal/repository"
	"github.com/bigkaa/docvault/internal/server"
	"github.com/bigkaa/docvault/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("DocVault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Клиенты внешних сервисов
	ledgerClient, err := ledgerclient.New(cfg.LedgerURL, cfg.CACertPath, cfg.LedgerTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания ledger-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	blobClient, err := blobclient.New(cfg.BlobURL, cfg.CACertPath, cfg.BlobTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания blob-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	precheckClient, err := precheckclient.New(cfg.PrecheckURL, cfg.CACertPath, cfg.PrecheckTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания precheck-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repository и кэш
	docRepo := repository.NewDocumentRepository(pool)
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)

	// 7. Сервисный слой
	uploadSvc := service.NewUploadService(cfg, docRepo, ledgerClient, blobClient, precheckClient, cache, logger)
	approvalSvc := service.NewApprovalService(cfg, docRepo, ledgerClient, cache, logger)
	verifySvc := service.NewVerifyService(docRepo, ledgerClient, logger)
	auditSvc := service.NewAuditService(ledgerClient, logger)
	registrySvc := service.NewRegistryService(docRepo, cfg.CacheTTL, logger)
	documentSvc := service.NewDocumentService(docRepo, blobClient, cache, logger)

	// 8. Health handler с checkers PostgreSQL и ledger
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		ledgerclient.NewReadinessChecker(ledgerClient),
	)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		uploadSvc,
		approvalSvc,
		verifySvc,
		auditSvc,
		registrySvc,
		documentSvc,
		logger,
	)

	// 10. JWT middleware через JWKS Keycloak
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		CACertPath:      cfg.CACertPath,
		Issuer:          cfg.JWTIssuer,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. HTTP-сервер.
	// Публичный контур (health, metrics, verify, registry) — без JWT.
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(),
			"/health/",
			"/metrics",
			"/api/v1/verify/",
			"/api/v1/registry/",
		),
	)

	// 12. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("DocVault остановлен")
}
