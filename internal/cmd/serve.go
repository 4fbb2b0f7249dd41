package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AIDEN1973/SAAS-sub009/internal/audit"
	"github.com/AIDEN1973/SAAS-sub009/internal/classifier"
	"github.com/AIDEN1973/SAAS-sub009/internal/config"
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/engine"
	"github.com/AIDEN1973/SAAS-sub009/internal/handlers"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/messaging"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
	"github.com/AIDEN1973/SAAS-sub009/internal/ratelimit"
	"github.com/AIDEN1973/SAAS-sub009/internal/secrets"
	"github.com/AIDEN1973/SAAS-sub009/internal/server"
	"github.com/AIDEN1973/SAAS-sub009/internal/taskcard"
)

var (
	serveAddr       string
	servePolicySeed string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant API server with the approval-expiry sweeper",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&servePolicySeed, "policy-seed", "", "YAML file of per-tenant policy settings to load on startup")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> tenant_id from ASSIST_API_KEYS
// (comma-separated; each entry key or key:tenant_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenantID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			tenantID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = tenantID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	db, err := sql.Open("sqlite3", cfg.DBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	policyStore, err := policy.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing policy store: %w", err)
	}
	gate, err := policy.NewGate(ctx)
	if err != nil {
		return fmt.Errorf("initializing policy gate: %w", err)
	}
	if servePolicySeed != "" {
		n, err := policyStore.LoadSeed(ctx, servePolicySeed, ".")
		if err != nil {
			return fmt.Errorf("loading policy seed: %w", err)
		}
		log.Info().Int("settings", n).Str("file", servePolicySeed).Msg("policy_seed_loaded")
	}

	domainStore, err := domain.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing domain store: %w", err)
	}
	planStore, err := plan.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing plan store: %w", err)
	}
	cardStore, err := taskcard.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing taskcard store: %w", err)
	}
	auditStore, err := audit.NewStore(db, cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	vault, err := secrets.NewVault(db, cfg.SecretsKey)
	if err != nil {
		return fmt.Errorf("initializing secrets vault: %w", err)
	}

	var sender messaging.Sender
	if cfg.MessagingBaseURL != "" {
		sender = messaging.NewProviderSender(cfg.MessagingBaseURL, vault)
	} else {
		log.Warn().Msg("ASSIST_MESSAGING_BASE_URL not set; outbound events are logged, not delivered")
		sender = &messaging.LogSender{}
	}

	builder, err := plan.NewBuilder(domainStore, policyStore, gate, planStore)
	if err != nil {
		return fmt.Errorf("initializing plan builder: %w", err)
	}

	// Startup sweep covers registry, catalog, and handler consistency.
	// The catalog↔policy direction depends on seeded tenant data and runs
	// in the check command instead, so a fresh install can still boot.
	registry := handlers.BuildRegistry()
	if report := verifyRegistry(registry, nil); len(report) > 0 {
		for _, problem := range report {
			log.Error().Err(problem).Msg("registry_inconsistency")
		}
		return fmt.Errorf("intent registry failed consistency checks (%d problems)", len(report))
	}

	dispatcher := dispatch.NewDispatcher(planStore, registry, policyStore, gate, domainStore, sender, auditStore)
	limiter := ratelimit.New(cfg.RatePerSecond, cfg.RateBurst, cfg.RateMaxWait)

	var primary classifier.Classifier
	if cfg.OpenAIAPIKey != "" {
		primary = classifier.NewOpenAIClassifier(cfg.OpenAIAPIKey, cfg.ClassifierModel, intentKeyStrings())
	} else {
		log.Warn().Msg("ASSIST_OPENAI_API_KEY not set; classification uses keyword matching only")
	}

	eng := engine.New(limiter, primary, builder, planStore, cardStore, dispatcher)

	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.ExpireCronSpec, func() {
		n, err := eng.ExpireStale(context.Background(), cfg.ApprovalHorizon)
		if err != nil {
			log.Error().Err(err).Msg("expiry_sweep_failed")
			return
		}
		if n > 0 {
			log.Info().Int("expired", n).Msg("expiry_sweep")
		}
	})
	if err != nil {
		return fmt.Errorf("registering expiry sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	apiKeys := parseAPIKeys(os.Getenv("ASSIST_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("ASSIST_API_KEYS not set; all API endpoints will return 401. Set for production.")
	}

	srv := server.NewServer(eng, planStore, cardStore, auditStore, policyStore, apiKeys)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", resolvedVersion()).
			Msg("server_listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func intentKeyStrings() []string {
	keys := intent.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k))
	}
	return out
}

// verifyRegistry runs the closed-world consistency sweep against the live
// handler registry. hasPolicyEntry may be nil to skip the catalog↔policy
// direction.
func verifyRegistry(registry *dispatch.Registry, hasPolicyEntry func(actionKey string) bool) []error {
	return intent.Verify(intent.VerifyInput{
		HasHandler: func(key intent.Key) bool {
			_, ok := registry.Get(key)
			return ok
		},
		HandlerKeys:    registry.Keys,
		HasPolicyEntry: hasPolicyEntry,
	})
}
