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

	"github.com/hitoshi/vendsite/internal/auth"
	"github.com/hitoshi/vendsite/internal/catalog"
	"github.com/hitoshi/vendsite/internal/config"
	"github.com/hitoshi/vendsite/internal/database"
	"github.com/hitoshi/vendsite/internal/handler"
	"github.com/hitoshi/vendsite/internal/lead"
	"github.com/hitoshi/vendsite/internal/logger"
	"github.com/hitoshi/vendsite/internal/machine"
	"github.com/hitoshi/vendsite/internal/metrics"
	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/repository"
	"github.com/hitoshi/vendsite/internal/security"
	"github.com/hitoshi/vendsite/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// errDatabaseRequired はストアが必須のサブコマンドでDATABASE_URLが未設定の場合に返す。
var errDatabaseRequired = errors.New("DATABASE_URL is required for this command")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
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
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("database_enabled", cfg.DatabaseEnabled()),
		slog.Bool("google_enabled", cfg.GoogleEnabled()),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandProvisionAdmin:
		return runProvisionAdmin(cfg, args[1:], w)
	default:
		return runServe(cfg)
	}
}

// server はHTTPハンドラーと、シャットダウン時に解放するリソースをまとめる。
type server struct {
	handler http.Handler
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// dbがnilの場合はカタログ専用モードとなり、管理APIと問い合わせ受付はマウントしない。
func buildServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*server, error) {
	log := slog.Default()
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewContentSanitizer()

	snapshot, err := catalog.LoadSnapshot()
	if err != nil {
		return nil, err
	}

	policy := catalog.FallbackOnErrorOnly
	if cfg.CatalogFallbackOnEmpty {
		policy = catalog.FallbackOnEmptyOrError
	}

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitLogin, cfg.RateLimitLeads))
	srv := &server{closers: []func(){limiter.Stop}}

	csrfConfig := middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, CookieDomain: cfg.CookieDomain}
	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		RateLimiter:       limiter,
		CSRFConfig:        csrfConfig,
		HTTPMetrics:       collector,
		TrustedProxies:    trusted,
		MetricsHandler:    metrics.Handler(reg),
	}

	// カタログのストアはDB設定時のみ。未設定なら常にスナップショットを返す。
	var store catalog.MachineStore
	if db != nil {
		machineRepo := repository.NewPostgresMachineRepo(db)
		store = machineRepo

		authService, err := newAuthService(cfg, db, collector, log)
		if err != nil {
			srv.close()
			return nil, err
		}
		srv.closers = append(srv.closers, authService.Close)

		deps.HealthChecker = db
		deps.AuthService = authService
		deps.AdminVerifier = authService
		deps.AuthConfig = handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		}
		deps.Machines = machine.NewService(machineRepo, sanitizer, authService)
		deps.Leads = lead.NewService(repository.NewPostgresLeadRepo(db), sanitizer, collector, log)
	}

	deps.Catalog = catalog.NewResolver(store, snapshot, catalog.Config{
		Policy:  policy,
		Logger:  log,
		Metrics: collector,
	})

	srv.handler = handler.NewRouter(deps)
	return srv, nil
}

// newAuthService は認証サービスを構築する。Google OAuthは設定されている場合のみ有効にする。
func newAuthService(cfg *config.Config, db *sql.DB, collector auth.Metrics, log *slog.Logger) (*auth.Service, error) {
	mode, err := auth.ParseDegradedMode(cfg.AuthDegradedMode)
	if err != nil {
		return nil, err
	}

	userRepo := repository.NewPostgresAdminUserRepo(db)
	verifier, err := auth.NewPasswordVerifier(userRepo, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	var oauthProvider auth.OAuthProvider
	if cfg.GoogleEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		})
	}

	tokens := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	})

	return auth.NewService(
		tokens, userRepo, repository.NewPostgresActivityLogRepo(db), verifier, oauthProvider,
		auth.ServiceConfig{DegradedMode: mode, Logger: log, Metrics: collector},
	), nil
}

// openDatabase はDB接続を開いて疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（任意）
	// 起動時に到達できなくても、カタログはスナップショットで応答し続ける。
	var db *sql.DB
	if cfg.DatabaseEnabled() {
		var err error
		db, err = database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
			slog.Warn("database unreachable at startup; catalog will serve the bundled snapshot until it recovers",
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("database connection established")
		}
	} else {
		slog.Warn("DATABASE_URL is not set; running in catalog-only mode")
	}

	// 2. 依存関係のワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := buildServer(cfg, db, reg)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.close()

	// 3. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 操作ログの保持期間クリーンアップを起動直後と以後24時間ごとに実行する。
func runWorker(cfg *config.Config) error {
	if !cfg.DatabaseEnabled() {
		return errDatabaseRequired
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresActivityLogRepo(db), slog.Default(), cfg.LogRetentionDays)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Int("retention_days", job.RetentionDays),
		slog.Duration("interval", cleanupInterval),
	)
	job.Schedule(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.DatabaseEnabled() {
		return errDatabaseRequired
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runProvisionAdmin は管理者アカウントを事前登録する。
func runProvisionAdmin(cfg *config.Config, args []string, w io.Writer) error {
	opts, err := ParseProvisionArgs(args, w)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if !cfg.DatabaseEnabled() {
		return errDatabaseRequired
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := provisionAdmin(context.Background(), repository.NewPostgresAdminUserRepo(db), opts, cfg.BcryptCost, time.Now().UTC())
	if err != nil {
		return err
	}

	slog.Info("admin provisioned",
		slog.String("admin_id", user.ID),
		slog.String("email", user.Email),
		slog.String("role", string(user.Role)),
		slog.Bool("password_login", opts.Password != ""),
		slog.Bool("google_login", opts.GoogleSubject != ""),
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
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.Redacted()
}
