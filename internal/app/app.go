// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/secureops/internal/auth"
	"github.com/hitoshi/secureops/internal/config"
	"github.com/hitoshi/secureops/internal/database"
	"github.com/hitoshi/secureops/internal/directory"
	"github.com/hitoshi/secureops/internal/endpoint"
	"github.com/hitoshi/secureops/internal/export"
	"github.com/hitoshi/secureops/internal/handler"
	"github.com/hitoshi/secureops/internal/logger"
	"github.com/hitoshi/secureops/internal/metrics"
	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/repository"
	"github.com/hitoshi/secureops/internal/security"
	"github.com/hitoshi/secureops/internal/snapshot"
	"github.com/hitoshi/secureops/internal/source"
	"github.com/hitoshi/secureops/internal/upstream"
	"github.com/hitoshi/secureops/internal/worker/cleanup"
)

// stdout はsyncコマンドがCSVを書き出す先。テストで差し替える。
var stdout io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("data_source", cfg.DataSource),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandSync:
		return runSync(cfg, stdout)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// sourceRecorder はデータソース構築時に必要なメトリクス記録インターフェース。
type sourceRecorder interface {
	directory.PhotoRecorder
	source.FallbackRecorder
}

// buildSources はDATA_SOURCEに応じてユーザーとデバイスの取得元を構築する。
// graphの場合、STATIC_FALLBACKが有効なら上流障害時に静的データで代替する。
func buildSources(ctx context.Context, cfg *config.Config, log *slog.Logger, recorder sourceRecorder) (source.DirectorySource, source.DeviceSource, error) {
	var static *source.StaticSource
	if cfg.DataSource == config.DataSourceStatic || cfg.StaticFallback {
		s, err := source.NewStaticSource()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load static fixtures: %w", err)
		}
		static = s
	}

	if cfg.DataSource == config.DataSourceStatic {
		return static, static, nil
	}

	tokenCfg := upstream.TokenConfig{
		TenantID:     cfg.AzureTenantID,
		ClientID:     cfg.AzureClientID,
		ClientSecret: cfg.AzureClientSecret,
		AuthorityURL: cfg.AzureAuthorityURL,
	}

	skus := cfg.LicenseSKUIDs
	if skus == nil {
		skus = directory.DefaultLicenseSKUs
	}

	graphClient := upstream.NewTokenClient(ctx, tokenCfg, upstream.GraphScope, cfg.UpstreamTimeout)
	var dir source.DirectorySource = directory.NewClient(
		upstream.NewRequester(graphClient, directory.SourceName, log),
		log,
		directory.Config{
			BaseURL:          cfg.GraphBaseURL,
			LicenseSKUs:      skus,
			AdminEmails:      cfg.AdminEmails,
			PhotoConcurrency: cfg.PhotoMaxConcurrent,
			FetchPhotos:      cfg.FetchPhotos,
		},
		recorder,
	)

	defenderClient := upstream.NewTokenClient(ctx, tokenCfg, upstream.DefenderScope, cfg.UpstreamTimeout)
	var dev source.DeviceSource = endpoint.NewClient(
		upstream.NewRequester(defenderClient, endpoint.SourceName, log),
		log,
		endpoint.Config{
			BaseURL:       cfg.DefenderBaseURL,
			PageSize:      cfg.DefenderPageSize,
			RatePerMinute: cfg.DefenderRatePerMinute,
		},
	)

	if cfg.StaticFallback {
		dir = &source.FallbackDirectory{Primary: dir, Secondary: static, Logger: log, Recorder: recorder}
		dev = &source.FallbackDevices{Primary: dev, Secondary: static, Logger: log, Recorder: recorder}
	}

	return dir, dev, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、同期スケジューラとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := slog.Default()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	syncRunRepo := repository.NewPostgresSyncRunRepo(db)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. データソースとスナップショット
	dir, dev, err := buildSources(ctx, cfg, log, collector)
	if err != nil {
		return err
	}
	snapshots := snapshot.NewService(dir, dev, syncRunRepo, collector, log)

	// 5. 認証
	cookies := auth.NewCookieCodec(auth.CookieConfig{
		Secret: cfg.SessionSecret,
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})
	authService := auth.NewService(snapshots, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})

	// 6. バックグラウンドジョブ
	go snapshot.NewScheduler(snapshots, log).Start(ctx, cfg.SyncInterval)

	cleanupJob := cleanup.NewCleanupJob(db, log)
	cleanupJob.RetentionDays = cfg.SyncHistoryRetentionDays
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitRefresh),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		Cookies:     cookies,

		Snapshots: snapshots,
		Refresher: snapshots,
		SyncRuns:  syncRunRepo,
		Sanitizer: security.NewTextSanitizer(),

		DB:             db,
		DataSource:     cfg.DataSource,
		MetricsHandler: metrics.Handler(reg),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// 手動同期は上流の取得を待つため、書き込みタイムアウトを長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	// スケジューラとクリーンアップジョブを停止
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSync は1回だけ同期し、照合済みの全デバイスのCSVをoutに書き出す。
// DBに接続できない場合は同期履歴を記録せずに続行する。
func runSync(cfg *config.Config, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := slog.Default()

	var runs repository.SyncRunRepository
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		slog.Warn("sync history will not be recorded", slog.String("error", err.Error()))
	} else {
		defer db.Close()
		runs = repository.NewPostgresSyncRunRepo(db)
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())
	dir, dev, err := buildSources(ctx, cfg, log, collector)
	if err != nil {
		return err
	}

	snap, err := snapshot.NewService(dir, dev, runs, collector, log).Refresh(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	rows, err := export.WriteCSV(out, snap.Users, snap.Devices)
	if err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	slog.Info("sync completed",
		slog.Int("user_count", len(snap.Users)),
		slog.Int("device_count", len(snap.Devices)),
		slog.Int("direct", snap.Summary.Direct),
		slog.Int("tag", snap.Summary.Tag),
		slog.Int("unresolved", snap.Summary.Unresolved),
		slog.Int("csv_rows", rows),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
