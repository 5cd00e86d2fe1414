package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/decency/contentfilter/internal/cache"
	"github.com/decency/contentfilter/internal/config"
	"github.com/decency/contentfilter/internal/disposition"
	"github.com/decency/contentfilter/internal/modfactory"
	"github.com/decency/contentfilter/internal/pipeline"
	"github.com/decency/contentfilter/internal/reinject"
	"github.com/decency/contentfilter/internal/smtpfrontend"
	"github.com/decency/contentfilter/internal/verify"
)

var (
	daemonConfigFile string
	daemonDebug      bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the content filter SMTP daemon",
	Long: `Start the Decency content filter: an SMTP listener that accepts a
fully-received message from the MTA, spools it, correlates it with any
prior Policy-stage scoring via the shared queue cache, runs it through the
configured filter module chain, and re-injects, bounces, quarantines,
deletes, or tags it per the disposition policy.

Example usage:
  # Start with default config.yaml
  decency daemon

  # Start with a specific config file
  decency daemon --config /etc/decency/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(daemonConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if daemonDebug {
			cfg.Logging.Level = "debug"
		}

		log, err := newLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}

		if err := os.MkdirAll(cfg.Spool.Dir, 0700); err != nil {
			return fmt.Errorf("failed to create spool dir: %w", err)
		}

		store, err := buildCacheStore(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to initialize queue cache: %w", err)
		}
		defer store.Close()
		queueCache := cache.New(store)

		var verifier *verify.Verifier
		if cfg.Scoring.AcceptScoring {
			verifier, err = verify.LoadPublicKey(cfg.Scoring.PublicKeyPath)
			if err != nil {
				return fmt.Errorf("failed to load scoring verify key: %w", err)
			}
		}

		modules, err := modfactory.Build(cfg.Modules, queueCache)
		if err != nil {
			return fmt.Errorf("failed to build filter module chain: %w", err)
		}

		engine := &pipeline.Engine{
			Modules:       modules,
			Behavior:      pipeline.SpamBehavior(cfg.Disposition.Spam.Behavior),
			Threshold:     cfg.Disposition.Spam.Threshold,
			Log:           log,
			Cache:         queueCache,
			Verifier:      verifier,
			AcceptScoring: cfg.Scoring.AcceptScoring,
		}

		dispositionEngine := &disposition.Engine{
			Policy:     cfg.Disposition,
			Spool:      cfg.Spool,
			Reinjector: reinject.New(cfg.Reinject),
		}

		backend := &smtpfrontend.Backend{
			Spool:       cfg.Spool,
			Pipeline:    engine,
			Disposition: dispositionEngine,
			Log:         log,
		}
		server := smtpfrontend.NewServer(cfg.SMTP, backend)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		serverErr := make(chan error, 1)
		go func() {
			log.WithFields(logrus.Fields{
				"address": cfg.SMTP.Address,
				"modules": len(modules),
			}).Info("content filter daemon listening")
			serverErr <- server.ListenAndServe()
		}()

		select {
		case <-sigChan:
			log.Info("shutdown signal received, stopping daemon")
			if err := server.Close(); err != nil {
				log.WithError(err).Warn("error closing SMTP listener")
			}
			select {
			case <-serverErr:
			case <-time.After(10 * time.Second):
				log.Warn("shutdown timeout exceeded, forcing stop")
			}
		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("daemon: SMTP server error: %w", err)
			}
		}

		return nil
	},
}

// buildCacheStore selects the QueueCache backend: an in-process map for a
// single host, or Redis for correlation across a distributed deployment.
func buildCacheStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisStore(cache.RedisConfig{
			URL:         cfg.Redis.URL,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DatabaseNum: cfg.Redis.DatabaseNum,
		})
	default:
		return cache.NewLocalStore(), nil
	}
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonConfigFile, "config", "c", "config.yaml", "Configuration file path")
	daemonCmd.Flags().BoolVarP(&daemonDebug, "debug", "d", false, "Enable debug logging")
}
