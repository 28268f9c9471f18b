package main

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/valoratec/backoffice/auth"
	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/broker"
	"github.com/valoratec/backoffice/cashflow"
	"github.com/valoratec/backoffice/company"
	"github.com/valoratec/backoffice/db"
	"github.com/valoratec/backoffice/external"
	"github.com/valoratec/backoffice/plan"
	"github.com/valoratec/backoffice/subscription"
	"github.com/valoratec/backoffice/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	billingMode := billing.ModeSimulated
	if os.Getenv("BILLING_MODE") == string(billing.ModeLive) {
		billingMode = billing.ModeLive
	}

	taxRate, err := decimal.NewFromString(os.Getenv("TAX_RATE"))
	if err != nil {
		taxRate = decimal.NewFromFloat(0.21)
	}

	db, err := db.New(logger, os.Getenv("POSTGRES_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authManager, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		LinkOption: auth.LinkOption{
			SiteName: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/login/%s/%s", os.Getenv("SITE_URL"), uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize AuthManager",
			zap.Error(err),
		)
	}

	companyManager, err := company.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize CompanyManager",
			zap.Error(err),
		)
	}

	planManager, err := plan.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize PlanManager",
			zap.Error(err),
		)
	}

	movementManager, err := billing.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize MovementManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(logger, db, planManager)
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	var checkout external.CheckoutClient
	if billingMode == billing.ModeLive {
		checkout = external.NewStripeCheckout(os.Getenv("STRIPE_KEY"))
	}

	orchestrator, err := subscription.NewOrchestrator(subscription.OrchestratorOptions{
		Mode:                billingMode,
		SubscriptionManager: subscriptionManager,
		PlanManager:         planManager,
		MovementManager:     movementManager,
		Checkout:            checkout,
		Broker:              amqpBroker,
		Logger:              logger,
		TaxRate:             taxRate,
		CheckoutSuccessURL:  os.Getenv("SITE_URL") + "/pagos/ok",
		CheckoutCancelURL:   os.Getenv("SITE_URL") + "/pagos/cancelado",
	})
	if err != nil {
		logger.Fatal("Cannot initialize Orchestrator",
			zap.Error(err),
		)
	}

	simulator, err := billing.NewSimulator(billing.SimulatorOptions{
		Mode:            billingMode,
		MovementManager: movementManager,
		PlanManager:     planManager,
		CompanyManager:  companyManager,
		Assignments:     subscriptionManager,
		Broker:          amqpBroker,
		TaxRate:         taxRate,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Simulator",
			zap.Error(err),
		)
	}

	webhookStore, err := webhook.NewStore(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize webhook Store",
			zap.Error(err),
		)
	}

	processor, err := webhook.NewProcessor(webhook.ProcessorOptions{
		Events:              webhookStore,
		SubscriptionManager: subscriptionManager,
		MovementManager:     movementManager,
		PlanManager:         planManager,
		Broker:              amqpBroker,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook Processor",
			zap.Error(err),
		)
	}

	cashflowManager, err := cashflow.NewManager(cashflow.ManagerOptions{
		DB:                  db,
		CompanyManager:      companyManager,
		PlanManager:         planManager,
		SubscriptionManager: subscriptionManager,
		MovementManager:     movementManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize CashflowManager",
			zap.Error(err),
		)
	}

	identity := &auth.Identity{
		Lookup: companyManager,
	}

	loginRouter, err := auth.NewService(auth.ServiceOptions{
		Auth:          authManager,
		Lookup:        companyManager,
		Logger:        logger,
		AdminEmails:   splitEmails(os.Getenv("ADMIN_EMAILS")),
		SupportEmails: splitEmails(os.Getenv("SUPPORT_EMAILS")),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Login Service Router",
			zap.Error(err),
		)
	}

	companyRouter, err := company.NewService(company.Options{
		Auth:           authManager,
		CompanyManager: companyManager,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Company Service Router",
			zap.Error(err),
		)
	}

	planRouter, err := plan.NewService(plan.Options{
		Auth:        authManager,
		PlanManager: planManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Plan Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Auth:                authManager,
		Identity:            identity,
		SubscriptionManager: subscriptionManager,
		Orchestrator:        orchestrator,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	billingRouter, err := billing.NewService(billing.ServiceOptions{
		Auth:            authManager,
		Identity:        identity,
		MovementManager: movementManager,
		Simulator:       simulator,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Processor: processor,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	cashflowRouter, err := cashflow.NewService(cashflow.ServiceOptions{
		Auth:    authManager,
		Manager: cashflowManager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Cashflow Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(os.Getenv("CORS_ORIGINS"), ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	rootRouter.Mount("/login", loginRouter.Router())
	rootRouter.Mount("/companies", companyRouter.Router())
	rootRouter.Mount("/plans", planRouter.Router())
	rootRouter.Mount("/subscriptions", subscriptionRouter.Router())
	rootRouter.Mount("/billing", billingRouter.Router())
	rootRouter.Mount("/webhooks", webhookRouter.Router())
	rootRouter.Mount("/cashflow", cashflowRouter.Router())

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	addr := os.Getenv("API_ADDR")
	if len(addr) == 0 {
		addr = ":42069"
	}

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    addr,
	}

	logger.Info("Starting API server",
		zap.String("Addr", addr),
		zap.String("BillingMode", string(billingMode)),
	)

	log.Fatalln(srv.ListenAndServe())
}

func splitEmails(list string) []string {
	parts := strings.Split(list, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); len(trimmed) > 0 {
			emails = append(emails, trimmed)
		}
	}
	return emails
}
