package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/quizpot/quizpot/engine/pkg/archive"
	"github.com/quizpot/quizpot/engine/pkg/audit"
	"github.com/quizpot/quizpot/engine/pkg/metrics"
	"github.com/quizpot/quizpot/engine/pkg/pg"
	"github.com/quizpot/quizpot/engine/pkg/round"
	"github.com/quizpot/quizpot/engine/pkg/server"
	"github.com/quizpot/quizpot/engine/pkg/solrpc"
	"github.com/quizpot/quizpot/utils/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; flags and env vars still apply.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set ENGINE_LISTEN_ADDR env var)")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins (or set ENGINE_ALLOWED_ORIGINS env var, comma-separated)")

	// Postgres configuration
	pgHostFlag := flag.String("pg-host", "localhost", "Postgres host (or set PG_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "Postgres port (or set PG_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "quizpot", "Postgres database name (or set PG_DATABASE env var)")
	pgUsernameFlag := flag.String("pg-username", "quizpot", "Postgres username (or set PG_USERNAME env var)")
	pgPasswordFlag := flag.String("pg-password", "", "Postgres password (or set PG_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "Postgres sslmode (or set PG_SSLMODE env var)")
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before serving")

	// Vault audit configuration
	solanaRPCURLFlag := flag.String("solana-rpc-url", "", "Solana RPC URL for the vault audit loop (or set SOLANA_RPC_URL env var)")
	escrowAccountFlag := flag.String("escrow-account", "", "On-chain escrow account audited against custodial vault balances (or set ESCROW_ACCOUNT env var)")
	auditIntervalFlag := flag.Duration("audit-interval", 5*time.Minute, "Interval between vault audits")

	// Settlement receipt archive configuration
	archiveBucketFlag := flag.String("archive-bucket", "", "S3 bucket for settlement receipt archives (or set ARCHIVE_BUCKET env var)")
	archivePrefixFlag := flag.String("archive-prefix", "", "Key prefix for archived receipts (or set ARCHIVE_PREFIX env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("ENGINE_LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	if env := os.Getenv("PG_HOST"); env != "" {
		*pgHostFlag = env
	}
	if env := os.Getenv("PG_PORT"); env != "" {
		*pgPortFlag = env
	}
	if env := os.Getenv("PG_DATABASE"); env != "" {
		*pgDatabaseFlag = env
	}
	if env := os.Getenv("PG_USERNAME"); env != "" {
		*pgUsernameFlag = env
	}
	if env := os.Getenv("PG_PASSWORD"); env != "" {
		*pgPasswordFlag = env
	}
	if env := os.Getenv("PG_SSLMODE"); env != "" {
		*pgSSLModeFlag = env
	}
	if env := os.Getenv("SOLANA_RPC_URL"); env != "" {
		*solanaRPCURLFlag = env
	}
	if env := os.Getenv("ESCROW_ACCOUNT"); env != "" {
		*escrowAccountFlag = env
	}
	if env := os.Getenv("ARCHIVE_BUCKET"); env != "" {
		*archiveBucketFlag = env
	}
	if env := os.Getenv("ARCHIVE_PREFIX"); env != "" {
		*archivePrefixFlag = env
	}
	if env := os.Getenv("ENGINE_ALLOWED_ORIGINS"); env != "" {
		if err := flag.CommandLine.Set("allowed-origins", env); err != nil {
			return fmt.Errorf("failed to parse ENGINE_ALLOWED_ORIGINS: %w", err)
		}
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("SENTRY_ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCfg := pg.Config{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	if err := pgCfg.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}

	if *migrateFlag {
		if err := pg.RunMigrations(log, pgCfg.ConnStr()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pool, err := pg.Connect(ctx, log, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	svc, err := round.New(round.Config{
		Logger: log,
		Pool:   pool,
	})
	if err != nil {
		return fmt.Errorf("failed to create round service: %w", err)
	}

	if *escrowAccountFlag != "" {
		escrow, err := solana.PublicKeyFromBase58(*escrowAccountFlag)
		if err != nil {
			return fmt.Errorf("malformed escrow account: %w", err)
		}
		auditor, err := audit.New(audit.Config{
			Logger:        log,
			Pool:          pool,
			RPC:           solrpc.New(*solanaRPCURLFlag),
			EscrowAccount: escrow,
			Interval:      *auditIntervalFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create vault auditor: %w", err)
		}
		auditor.Start(ctx)
	} else {
		log.Info("main: vault audit disabled, no escrow account configured")
	}

	var archiver *archive.Archiver
	if *archiveBucketFlag != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		archiver, err = archive.New(archive.Config{
			Logger: log,
			Client: s3.NewFromConfig(awsCfg),
			Bucket: *archiveBucketFlag,
			Prefix: *archivePrefixFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create receipt archiver: %w", err)
		}
	} else {
		log.Info("main: settlement receipt archive disabled, no bucket configured")
	}

	srv, err := server.New(server.Config{
		Logger:         log,
		ListenAddr:     *listenAddrFlag,
		AllowedOrigins: *allowedOriginsFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		Service:  svc,
		Pool:     pool,
		Archiver: archiver,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}
