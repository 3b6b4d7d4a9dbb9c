// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"crypto/tls"
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

	"github.com/hitoshi/campushub/internal/auth"
	"github.com/hitoshi/campushub/internal/config"
	"github.com/hitoshi/campushub/internal/database"
	"github.com/hitoshi/campushub/internal/handler"
	"github.com/hitoshi/campushub/internal/logger"
	"github.com/hitoshi/campushub/internal/metrics"
	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/note"
	"github.com/hitoshi/campushub/internal/repository"
	"github.com/hitoshi/campushub/internal/session"
	"github.com/hitoshi/campushub/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// logLevel はグローバルロガーのレベル。設定読み込み後にLOG_LEVELで上書きする。
var logLevel = new(slog.LevelVar)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logLevel.Set(slog.LevelInfo)
	logger.SetupDefault(w, logLevel)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logLevel.Set(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(os.Getenv("SERVER_PORT"), os.Getenv("TLS_CERT_FILE") != "")
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("database_driver", string(cfg.DatabaseDriver)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// repositories はドライバーに応じたリポジトリ実装の組。
type repositories struct {
	users    repository.UserRepository
	notes    repository.NoteRepository
	sessions repository.SessionRepository
}

func newRepositories(driver database.Driver, db *sql.DB) repositories {
	if driver == database.DriverSQLite {
		return repositories{
			users:    repository.NewSQLiteUserRepo(db),
			notes:    repository.NewSQLiteNoteRepo(db),
			sessions: repository.NewSQLiteSessionRepo(db),
		}
	}
	return repositories{
		users:    repository.NewPostgresUserRepo(db),
		notes:    repository.NewPostgresNoteRepo(db),
		sessions: repository.NewPostgresSessionRepo(db),
	}
}

// openDatabase はDB接続を開いて疎通を確認する。
// SQLiteの場合は単一プロセスで完結するため、先にマイグレーションを適用する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.DatabaseDriver == database.DriverSQLite {
		if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとセッションストアの初期化
	repos := newRepositories(cfg.DatabaseDriver, db)

	store, err := session.NewStore(repos.sessions, cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. IdP（ディスカバリは起動時に1回だけ行う）
	// JWKSの取得にもこのctxが使われるため、リクエスト単位のctxを渡してはならない。
	provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	// 5. ドメインサービスの初期化
	authService := auth.NewService(provider, repos.users, store, collector)
	noteService := note.NewService(repos.notes, collector)

	// 6. ルーターの構築
	rlConfig := middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite)
	rlConfig.TrustProxy = cfg.TrustProxy
	rateLimiter := middleware.NewRateLimiter(rlConfig)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Sessions:          store,
		Cookie:            session.NewCookie(cfg.BaseURL, cfg.CookieDomain, store.MaxAge()),
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.TLSEnabled(),

		HTTPRecorder:   collector,
		CSRFRecorder:   collector,
		MetricsHandler: metrics.Handler(reg),

		HealthChecker: db,

		AuthService: authService,
		BaseURL:     cfg.BaseURL,

		NoteService: noteService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("tls", cfg.TLSEnabled()),
		)
		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup は期限切れセッションを削除する。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := newRepositories(cfg.DatabaseDriver, db)
	store, err := session.NewStore(repos.sessions, cfg.SessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	if _, err := cleanup.NewCleanupJob(store, slog.Default()).Run(ctx); err != nil {
		return err
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string, useTLS bool) error {
	if port == "" {
		port = "3000"
	}

	scheme := "http"
	transport := http.DefaultTransport
	if useTLS {
		scheme = "https"
		// 証明書は公開ホスト名向けのため、localhost宛ての検証は行わない
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	}

	client := &http.Client{Timeout: 5 * time.Second, Transport: transport}

	resp, err := client.Get(fmt.Sprintf("%s://localhost:%s/health", scheme, port))
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
// URL形式でない場合（SQLiteのファイルパス）はそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return raw
	}
	return u.Redacted()
}
