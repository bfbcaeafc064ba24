package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/driveman/internal/auth"
	"github.com/hitoshi/driveman/internal/config"
	"github.com/hitoshi/driveman/internal/database"
	"github.com/hitoshi/driveman/internal/drive"
	"github.com/hitoshi/driveman/internal/handler"
	"github.com/hitoshi/driveman/internal/logger"
	"github.com/hitoshi/driveman/internal/metrics"
	"github.com/hitoshi/driveman/internal/middleware"
	"github.com/hitoshi/driveman/internal/repository"
	"github.com/hitoshi/driveman/internal/security"
	"github.com/hitoshi/driveman/internal/token"
	"github.com/hitoshi/driveman/internal/worker/cleanup"
)

// googleProductionEndpoints は外向き通信ガードの許可リスト。
// エンドポイントのオーバーライドが未設定の場合に使用する。
var googleProductionEndpoints = []string{
	"https://accounts.google.com/o/oauth2/auth",
	"https://oauth2.googleapis.com/token",
	"https://www.googleapis.com/oauth2/v3/userinfo",
	"https://www.googleapis.com/drive/v3",
	"https://www.googleapis.com/upload/drive/v3/files",
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)

	// 3. 外向きHTTPクライアントの構築
	httpClient, err := buildOutboundClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build outbound HTTP client: %w", err)
	}

	// 4. メトリクスの初期化（ドメインサービスがDriveステータスを記録する）
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		UserInfoURL:  cfg.GoogleUserInfoURL,
	}, httpClient)

	tokenCodec := token.NewCodec()
	tokenCodec.TTL = cfg.SessionTTL
	authService := auth.NewService(oauthProvider, userRepo, tokenCodec, cfg.SessionSecret)

	if err := os.MkdirAll(cfg.DownloadDir, 0o700); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	driveClient := drive.NewClient(drive.ClientConfig{
		APIURL:      cfg.DriveAPIURL,
		UploadURL:   cfg.DriveUploadURL,
		DownloadDir: cfg.DownloadDir,
	}, httpClient, collector)
	driveService := drive.NewService(userRepo, driveClient)

	// 6. 一時ファイルのクリーンアップジョブをバックグラウンドで起動
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()

	cleanupJob := cleanup.NewCleanupJob(cfg.DownloadDir, slog.Default())
	cleanupJob.Retention = cfg.TmpRetention
	go cleanupJob.Start(cleanupCtx, 10*time.Minute)

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレート設定はreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.UploadRate = rate.Limit(float64(cfg.RateLimitUpload) / 60.0)
	rateLimiterCfg.UploadBurst = cfg.RateLimitUpload

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenCodec:        tokenCodec,
		SessionSecret:     cfg.SessionSecret,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		FileService: driveService,
		FileConfig: handler.FileHandlerConfig{
			UploadMaxSize: cfg.UploadMaxSize,
			TmpDir:        cfg.DownloadDir,
		},

		Metrics:       collector,
		Gatherer:      registry,
		HealthChecker: db,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildOutboundClient はGoogleへの外向きHTTPクライアントを構築する。
// エンドポイントのオーバーライドが未設定の場合は、本番Googleホストのみを
// 許可するEgressGuard付きクライアントを使用する。
// オーバーライドが設定されている場合（開発・テスト環境）は形式検証のみ行い、
// ガードなしのクライアントにフォールバックする。
func buildOutboundClient(cfg *config.Config) (*http.Client, error) {
	overrides := []string{
		cfg.GoogleAuthURL,
		cfg.GoogleTokenURL,
		cfg.GoogleUserInfoURL,
		cfg.DriveAPIURL,
		cfg.DriveUploadURL,
	}

	hasOverride := false
	for _, u := range overrides {
		if u == "" {
			continue
		}
		if err := security.ValidateEndpointURL(u); err != nil {
			return nil, fmt.Errorf("invalid endpoint override %q: %w", u, err)
		}
		hasOverride = true
	}

	if hasOverride {
		slog.Warn("endpoint overrides are set; egress guard is disabled")
		return &http.Client{Timeout: cfg.DriveTimeout}, nil
	}

	guard, err := security.NewEgressGuard(googleProductionEndpoints...)
	if err != nil {
		return nil, err
	}

	slog.Info("egress guard enabled",
		slog.String("allowed_hosts", strings.Join(guard.AllowedHosts(), ",")),
	)
	return guard.NewSafeClient(cfg.DriveTimeout), nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
