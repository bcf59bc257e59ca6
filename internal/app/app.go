package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/auth"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/config"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/database"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/handler"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/logger"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/metrics"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/middleware"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository/memory"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/repository/mongostore"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/session"
	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルし、各モードを終了させる。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、ctxがキャンセルされるまで対応するモードで動作する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(healthcheckPort())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStore はストアを開いて疎通を確認し、バックエンドに応じたリポジトリを返す。
// MongoDBの場合は一意インデックスとTTLインデックスを作成する。
func openStore(ctx context.Context, cfg *config.Config) (*database.Store, repository.Repositories, error) {
	store, err := database.Open(ctx, database.Options{
		URL:            cfg.DatabaseURL,
		DatabaseName:   cfg.DatabaseName,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		return nil, repository.Repositories{}, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		closeStore(store)
		return nil, repository.Repositories{}, fmt.Errorf("failed to connect to database: %w", err)
	}

	var repos repository.Repositories
	switch store.Kind {
	case database.KindPostgres:
		repos = repository.NewPostgresRepositories(store.SQL)
	case database.KindMongo:
		if err := mongostore.EnsureIndexes(pingCtx, store.Mongo); err != nil {
			closeStore(store)
			return nil, repository.Repositories{}, fmt.Errorf("failed to ensure indexes: %w", err)
		}
		repos = mongostore.NewRepositories(store.Mongo)
	default:
		slog.Warn("using in-memory store; data is lost on restart")
		repos = memory.NewRepositories()
	}

	slog.Info("database connection established", slog.String("store", string(store.Kind)))
	return store, repos, nil
}

func closeStore(store *database.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
}

// runServe はWebサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア
	store, repos, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// 2. HTTPハンドラーの構築
	router, limiter, err := buildRouter(cfg, store, repos)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// リスナーのgoroutineの終了を待つ
	<-errCh

	slog.Info("web server stopped gracefully")
	return nil
}

// buildRouter は設定とリポジトリからルーターを構築する。
// 戻り値のRateLimiterは呼び出し側で停止すること。
func buildRouter(cfg *config.Config, store *database.Store, repos repository.Repositories) (http.Handler, *middleware.RateLimiter, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	renderer, err := handler.NewRenderer()
	if err != nil {
		return nil, nil, err
	}

	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
	})
	authService := auth.NewService(provider, repos.Principals, repos.Sessions, recorder, auth.ServiceConfig{
		SessionTTL: cfg.SessionTTL(),
	})

	cookies := session.NewCookies(session.NewCodec(cfg.SessionSecret, cfg.SessionTTL()), session.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionTTL(),
	})

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:      repos.Sessions,
		Principals:    repos.Principals,
		Projects:      repos.Projects,
		HealthChecker: store,

		AuthService: authService,
		Serializer:  auth.NewSerializer(repos.Principals),
		Logout:      auth.NewLogoutSequencer(repos.Sessions, recorder),
		Cookies:     cookies,

		RateLimiter: limiter,
		Metrics:     recorder,
		MetricsPath: metrics.Handler(registry),
		Renderer:    renderer,
		Logger:      slog.Default(),

		Config: handler.RouterConfig{
			CookieSecure: cfg.CookieSecure,
			Development:  cfg.IsDevelopment(),
			SessionTTL:   cfg.SessionTTL(),
			StoreKind:    string(store.Kind),
		},
	})

	return router, limiter, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションを定期的に削除する。ctxがキャンセルされると終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if kind, err := database.KindFromURL(cfg.DatabaseURL); err == nil && kind == database.KindMemory {
		return fmt.Errorf("worker requires a shared store, got %s", kind)
	}

	store, repos, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// ワーカーはメトリクスを公開しないため、カウンターはプロセス内でのみ集計する
	recorder := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(repos.Sessions, slog.Default(), recorder)
	job.Interval = cfg.SessionCleanupInterval

	slog.Info("worker starting", slog.Duration("cleanup_interval", job.Interval))

	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。MongoDBとインメモリストアでは何もしない。
func runMigrate(cfg *config.Config) error {
	kind, err := database.KindFromURL(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if kind != database.KindPostgres {
		slog.Info("no migrations required", slog.String("store", string(kind)))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// healthcheckPort はヘルスチェック対象のポートを環境変数から決める。
func healthcheckPort() string {
	for _, key := range []string{"SERVER_PORT", "PORT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "8080"
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	// url.User("***")はString()でパーセントエンコードされるため、後から差し込む
	hasUser := u.User != nil
	u.User = nil
	u.RawQuery = ""
	masked := u.String()
	if hasUser {
		masked = strings.Replace(masked, "://", "://***@", 1)
	}
	return masked
}
