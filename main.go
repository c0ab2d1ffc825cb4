package main

import (
	"context"
	"database/sql"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	alertevents "coldchain-cloud/internal/alerts/application/events"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "coldchain-cloud/internal/alerts/interfaces/http"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	escalationapp "coldchain-cloud/internal/escalation/application"
	"coldchain-cloud/internal/escalation/infrastructure/policyfile"
	escalationrepo "coldchain-cloud/internal/escalation/infrastructure/postgres"
	"coldchain-cloud/internal/eventing"
	eventingrepo "coldchain-cloud/internal/eventing/infrastructure/postgres"
	"coldchain-cloud/internal/logger"
	"coldchain-cloud/internal/notify"
	"coldchain-cloud/internal/observability/metrics"
	orgrepo "coldchain-cloud/internal/org/infrastructure/postgres"
	readingevents "coldchain-cloud/internal/readings/application/events"
	readingrepo "coldchain-cloud/internal/readings/infrastructure/postgres"
	"coldchain-cloud/internal/readings/interfaces/lorawan"
	rulesapp "coldchain-cloud/internal/rules/application"
	rulesrepo "coldchain-cloud/internal/rules/infrastructure/postgres"
	unitapp "coldchain-cloud/internal/units/application"
	unitrepo "coldchain-cloud/internal/units/infrastructure/postgres"
	unithttp "coldchain-cloud/internal/units/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := loadConfig()
	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	unitChecker := auth.NewUnitChecker(db)
	auditRepo := audit.NewRepository(db)

	unitDirectory := orgrepo.NewUnitRepository(db)
	stateRepo := unitrepo.NewStateRepository(db)
	readingRepo := readingrepo.NewReadingRepository(db)
	overrideRepo := rulesrepo.NewOverrideRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	dispatchRepo := escalationrepo.NewDispatchRepository(db)

	resolver, err := rulesapp.NewResolver(overrideRepo)
	if err != nil {
		log.Fatal("rules resolver error", zap.Error(err))
	}

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(readingevents.ReadingReceived{}, alertevents.AlertStateChanged{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.OrganizationID, baseBus)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[alertevents.AlertStateChanged](), "alerts.log", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertStateChanged)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		log.Info("alert state changed",
			zap.String("alert_id", evt.AlertID),
			zap.String("unit_id", evt.UnitID),
			zap.String("transition", evt.Transition))
		return nil
	}, processedStore)

	broker := alerthttp.NewSSEBroker()
	notifiers := []alertapp.Notifier{broker, alertevents.NewOutboxNotifier(publisher, log)}
	if cfg.AlertWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			log.Fatal("alert webhook error", zap.Error(err))
		}
		tpl, err := notify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			log.Fatal("alert template error", zap.Error(err))
		}
		webhookNotifier, err := notify.NewNotifier(unitDirectory, channel, "push", tpl,
			notify.WithCooldown(cfg.AlertNotifyCooldown),
			notify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow))
		if err != nil {
			log.Fatal("alert notifier error", zap.Error(err))
		}
		notifiers = append(notifiers, webhookNotifier)
	}

	lifecycle, err := alertapp.NewLifecycle(alertRepo, log,
		alertapp.WithNotifier(notify.NewMultiNotifier(notifiers...)),
		alertapp.WithAuditor(auditRepo))
	if err != nil {
		log.Fatal("alert lifecycle error", zap.Error(err))
	}

	pool := unitapp.NewPool(cfg.Workers, cfg.QueueDepth, log)
	pool.Start(ctx)
	defer pool.Close()

	service, err := unitapp.NewService(stateRepo, readingRepo, unitDirectory, resolver, lifecycle, pool, log,
		unitapp.WithWindowSpan(cfg.WindowSpan))
	if err != nil {
		log.Fatal("unit service error", zap.Error(err))
	}

	sweeper, err := unitapp.NewSweeper(service, cfg.SweepInterval, log)
	if err != nil {
		log.Fatal("sweeper error", zap.Error(err))
	}
	go sweeper.Run(ctx)

	policies, err := policyfile.Load(cfg.EscalationPolicyPath)
	if err != nil {
		log.Fatal("escalation policy error", zap.Error(err))
	}
	channels := notify.NewRegistry()
	for name, url := range map[string]string{
		"push":  cfg.PushWebhookURL,
		"sms":   cfg.SMSWebhookURL,
		"voice": cfg.VoiceWebhookURL,
	} {
		if url == "" {
			continue
		}
		channel, err := notify.NewWebhookChannel(url)
		if err != nil {
			log.Fatal("escalation channel error", zap.String("channel", name), zap.Error(err))
		}
		channels.Register(name, channel)
	}
	scheduler, err := escalationapp.NewScheduler(lifecycle, policies, channels, dispatchRepo, log,
		escalationapp.WithInterval(cfg.EscalationInterval))
	if err != nil {
		log.Fatal("escalation scheduler error", zap.Error(err))
	}
	go scheduler.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.OutboxInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dispatcher.Dispatch(ctx, 50); err != nil {
					log.Warn("outbox dispatch error", zap.Error(err))
				}
			}
		}
	}()

	sink, err := readingevents.NewPublishingSink(service, publisher, log)
	if err != nil {
		log.Fatal("publishing sink error", zap.Error(err))
	}
	ingestHandler, err := lorawan.NewIngestHandler(sink, unitDirectory, log)
	if err != nil {
		log.Fatal("ingest handler error", zap.Error(err))
	}
	alertHandler, err := alerthttp.NewHandler(lifecycle, unitChecker)
	if err != nil {
		log.Fatal("alert handler error", zap.Error(err))
	}
	exportHandler, err := alerthttp.NewExportHandler(lifecycle)
	if err != nil {
		log.Fatal("export handler error", zap.Error(err))
	}
	unitHandler, err := unithttp.NewHandler(unitDirectory, stateRepo)
	if err != nil {
		log.Fatal("unit handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/lorawan/uplink", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/units", unitHandler)
	mux.Handle("/api/v1/units/", unitHandler)
	mux.Handle("/api/v1/exports/alerts.csv", exportHandler)
	mux.Handle("/api/v1/exports/alerts.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/alerts.pdf", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), log)}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}
}

type config struct {
	DatabaseURL             string
	HTTPAddr                string
	LogLevel                string
	OrganizationID          string
	Workers                 int
	QueueDepth              int
	WindowSpan              time.Duration
	SweepInterval           time.Duration
	EscalationInterval      time.Duration
	EscalationPolicyPath    string
	OutboxInterval          time.Duration
	AlertWebhookURL         string
	AlertNotifyTemplate     string
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	PushWebhookURL          string
	SMSWebhookURL           string
	VoiceWebhookURL         string
	JWTSecret               string
	IngestSecret            string
	IngestSkewSeconds       int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:                getenvDefault("LOG_LEVEL", "info"),
		OrganizationID:          getenvDefault("ORGANIZATION_ID", "org-demo"),
		Workers:                 getenvIntDefault("EVAL_WORKERS", 4),
		QueueDepth:              getenvIntDefault("EVAL_QUEUE_DEPTH", 64),
		WindowSpan:              getenvDuration("EVAL_WINDOW_SPAN", 90*time.Minute),
		SweepInterval:           getenvDuration("SWEEP_INTERVAL", time.Minute),
		EscalationInterval:      getenvDuration("ESCALATION_INTERVAL", time.Minute),
		EscalationPolicyPath:    getenvDefault("ESCALATION_POLICY_PATH", ""),
		OutboxInterval:          getenvDuration("OUTBOX_INTERVAL", 5*time.Second),
		AlertWebhookURL:         getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:     getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertNotifyCooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyDedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		PushWebhookURL:          getenvDefault("PUSH_WEBHOOK_URL", getenvDefault("ALERT_WEBHOOK_URL", "")),
		SMSWebhookURL:           getenvDefault("SMS_WEBHOOK_URL", ""),
		VoiceWebhookURL:         getenvDefault("VOICE_WEBHOOK_URL", ""),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:            getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:       getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		stdlog.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		stdlog.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
