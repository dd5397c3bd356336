package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/MemberVault/app/repository"
	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
	"github.com/ManuelReschke/MemberVault/internal/pkg/config"
	"github.com/ManuelReschke/MemberVault/internal/pkg/database"
	"github.com/ManuelReschke/MemberVault/internal/pkg/env"
)

var (
	Version = "dev"

	configFile string
	verbose    bool
	timeout    time.Duration
)

// runtime holds the connections a command needs. Commands receive it from
// connect so the database is only opened for commands that run.
type runtime struct {
	cfg   *config.Config
	svc   *billing.Service
	repos *repository.Repositories
}

func main() {
	if err := newRootCmd(connect).Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

type connectFunc func() (*runtime, error)

func newRootCmd(connect connectFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the MemberVault billing mirror",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")

	root.AddCommand(syncCatalogCmd(connect))
	root.AddCommand(reconcileCmd(connect))
	root.AddCommand(syncUserCmd(connect))
	root.AddCommand(subscriptionsCmd(connect))
	root.AddCommand(seedAdminCmd(connect))
	root.AddCommand(tokensCmd(connect))
	root.AddCommand(createUserCmd(connect))
	root.AddCommand(apiKeyCmd(connect))

	return root
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func connect() (*runtime, error) {
	if envFile := env.SetupEnvFile(); envFile != "" {
		log.Debug().Str("file", envFile).Msg("loaded environment")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	// Schema changes belong to cmd/migrate.
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	if err := database.SetupDatabase(dbCfg, verbose); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db := database.GetDB()
	repository.InitializeFactory(db)

	svc := billing.NewServiceFromDB(db, billing.NewStripeProvider(cfg.Stripe.SecretKey),
		billing.WithConfig(cfg.BillingService()))

	return &runtime{
		cfg:   cfg,
		svc:   svc,
		repos: repository.GetGlobalRepositories(),
	}, nil
}
