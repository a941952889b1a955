// Package app はコマンドごとの依存関係のワイヤリングと起動処理を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/hwledger/internal/auth"
	"github.com/hitoshi/hwledger/internal/config"
	"github.com/hitoshi/hwledger/internal/database"
	"github.com/hitoshi/hwledger/internal/handler"
	"github.com/hitoshi/hwledger/internal/hwset"
	"github.com/hitoshi/hwledger/internal/logger"
	"github.com/hitoshi/hwledger/internal/membership"
	"github.com/hitoshi/hwledger/internal/metrics"
	"github.com/hitoshi/hwledger/internal/middleware"
	"github.com/hitoshi/hwledger/internal/notify"
	"github.com/hitoshi/hwledger/internal/project"
	"github.com/hitoshi/hwledger/internal/repository"
	"github.com/hitoshi/hwledger/internal/reservation"
	"github.com/hitoshi/hwledger/internal/security"
	"github.com/hitoshi/hwledger/internal/seed"
	"github.com/hitoshi/hwledger/internal/worker/cleanup"
)

const (
	dbPingTimeout    = 5 * time.Second
	shutdownTimeout  = 30 * time.Second
	eventBufferSize  = 256
	healthcheckLimit = 5 * time.Second
)

// dotEnvFile はローカル開発用の環境変数ファイル。
const dotEnvFile = ".env"

// Init はアプリケーションの初期化を行う。
// カレントディレクトリに .env があれば読み込んだうえで環境変数からConfigを読み込み、
// LOG_LEVELに従ったJSON構造化ログをセットアップする。
// 既に設定されている環境変数は .env で上書きしない。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .env の読み込み（存在しない場合は何もしない）
	if err := godotenv.Load(dotEnvFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
		}
	} else {
		slog.Info("loaded environment file", slog.String("path", dotEnvFile))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// stores はストレージドライバーごとのリポジトリ群。
type stores struct {
	db       *sql.DB // インメモリ構成ではnil
	hwsets   repository.HardwareSetRepository
	projects repository.ProjectRepository
	users    repository.UserRepository
	revoked  repository.RevokedTokenRepository
}

func (s *stores) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// openStores は設定されたドライバーでリポジトリを構築する。
// PostgreSQLの場合は接続を確認してから返す。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if !cfg.UsesPostgres() {
		hwRepo := repository.NewMemoryHardwareSetRepo()
		slog.Info("using in-memory storage")
		return &stores{
			hwsets:   hwRepo,
			projects: repository.NewMemoryProjectRepo(hwRepo),
			users:    repository.NewMemoryUserRepo(),
			revoked:  repository.NewMemoryRevokedTokenRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	return &stores{
		db:       db,
		hwsets:   repository.NewPostgresHardwareSetRepo(db),
		projects: repository.NewPostgresProjectRepo(db),
		users:    repository.NewPostgresUserRepo(db),
		revoked:  repository.NewPostgresRevokedTokenRepo(db),
	}, nil
}

// services はHTTP・シード投入で共有するドメインサービス群。
type services struct {
	auth        *auth.Service
	hwsets      *hwset.Service
	projects    *project.Service
	memberships *membership.Service
	engine      *reservation.Engine
}

func newServices(cfg *config.Config, st *stores, publisher notify.Publisher, m metrics.MetricsCollector) (*services, error) {
	issuer, err := auth.NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure token issuer: %w", err)
	}

	hwsets := hwset.NewService(st.hwsets, publisher, m)
	projects := project.NewService(st.projects, hwsets, security.NewTextSanitizer())

	return &services{
		auth:        auth.NewService(issuer, auth.NewBcryptHasher(0), st.users, st.revoked),
		hwsets:      hwsets,
		projects:    projects,
		memberships: membership.NewService(projects, publisher, m),
		engine:      reservation.NewEngine(projects, hwsets, publisher, m),
	}, nil
}

func (s *services) seeder() *seed.Seeder {
	return seed.NewSeeder(s.hwsets, s.projects, s.auth, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// ctx がキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 台帳イベントの配信
	broker := notify.NewBroker(slog.Default())
	defer broker.Close()

	svc, err := newServices(cfg, st, broker, collector)
	if err != nil {
		return err
	}

	// インメモリ構成は起動のたびに空になるため初期データを投入する
	if !cfg.UsesPostgres() {
		if err := applySeed(ctx, cfg, svc); err != nil {
			return err
		}
	}

	generalRate, generalBurst := middleware.RateLimitPerMinute(cfg.RateLimitGeneral)
	mutationRate, mutationBurst := middleware.RateLimitPerMinute(cfg.RateLimitMutation)
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate, rateLimiterCfg.GeneralBurst = generalRate, generalBurst
	rateLimiterCfg.MutationRate, rateLimiterCfg.MutationBurst = mutationRate, mutationBurst
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:              slog.Default(),
		Authenticator:       svc.auth,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimiter:         rateLimiter,
		Metrics:             collector,
		MetricsHandler:      metrics.Handler(reg),
		AdminUsers:          cfg.AdminUsers,
		AuthService:         svc.auth,
		ProjectService:      svc.projects,
		MembershipService:   svc.memberships,
		ReservationEngine:   svc.engine,
		HardwareSetService:  svc.hwsets,
		DefaultInitialStock: cfg.HardwareSetInitialStock,
	}
	if st.db != nil {
		deps.Pinger = st.db
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.WebhookURLs) > 0 {
		guard := security.NewWebhookGuard()
		if err := security.ValidateURLs(guard, cfg.WebhookURLs); err != nil {
			return err
		}
		dispatcher := notify.NewWebhookDispatcher(guard.NewSafeClient(cfg.WebhookTimeout), notify.WebhookConfig{
			URLs:          cfg.WebhookURLs,
			MaxConcurrent: cfg.WebhookMaxConcurrent,
			MaxAttempts:   cfg.WebhookMaxAttempts,
		}, slog.Default(), collector)
		events, unsubscribe := broker.Subscribe(eventBufferSize)
		defer unsubscribe()
		g.Go(func() error {
			dispatcher.Run(gctx, events)
			return nil
		})
	}

	// インメモリ構成では別プロセスのworkerから失効トークンを消せないため同じプロセスで実行する
	if !cfg.UsesPostgres() {
		scheduler, err := cleanup.NewScheduler(cleanup.NewCleanupJob(st.revoked, slog.Default()), cfg.CleanupSchedule, slog.Default())
		if err != nil {
			return err
		}
		g.Go(func() error {
			scheduler.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("storage", cfg.StorageDriver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 失効トークンのクリーンアップをcronスケジュールで実行し、ctx がキャンセルされると停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if !cfg.UsesPostgres() {
		return errors.New("worker requires STORAGE_DRIVER=postgres; the in-memory driver runs cleanup inside serve")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	scheduler, err := cleanup.NewScheduler(cleanup.NewCleanupJob(st.revoked, slog.Default()), cfg.CleanupSchedule, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting", slog.String("cleanup_schedule", cfg.CleanupSchedule))
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// migrateDirection はmigrateコマンドの実行内容。
type migrateDirection string

const (
	migrateUp      migrateDirection = "up"
	migrateDown    migrateDirection = "down"
	migrateVersion migrateDirection = "version"
)

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, direction migrateDirection, out io.Writer) error {
	if !cfg.UsesPostgres() {
		return errors.New("migrate requires STORAGE_DRIVER=postgres")
	}

	slog.Info("running database migrations",
		slog.String("direction", string(direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case migrateUp:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case migrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case migrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は初期データを投入する。
func runSeed(ctx context.Context, cfg *config.Config) error {
	if !cfg.UsesPostgres() {
		return errors.New("seed requires STORAGE_DRIVER=postgres; the in-memory driver seeds on serve")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newServices(cfg, st, nil, nil)
	if err != nil {
		return err
	}
	return applySeed(ctx, cfg, svc)
}

func applySeed(ctx context.Context, cfg *config.Config, svc *services) error {
	f, err := seed.Load(cfg.SeedFile)
	if err != nil {
		return err
	}
	if _, err := svc.seeder().Apply(ctx, f); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	ctx, cancel := context.WithTimeout(ctx, healthcheckLimit)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://localhost:%s/health", port), nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
