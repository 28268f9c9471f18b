package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/valoratec/backoffice/billing"
	"github.com/valoratec/backoffice/broker"
	"github.com/valoratec/backoffice/company"
	"github.com/valoratec/backoffice/db"
	"github.com/valoratec/backoffice/plan"
	"github.com/valoratec/backoffice/subscription"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

// The ticker is the periodic billing job: it applies scheduled downgrades that
// came due and, in simulated mode, materializes the ledger for a date range.
func main() {
	var (
		fromFlag      = flag.String("from", "", "start date (2006-01-02), defaults to the first day of the current month")
		toFlag        = flag.String("to", "", "end date (2006-01-02), defaults to today")
		companyFlag   = flag.String("company", "", "restrict the run to one company")
		overwriteFlag = flag.Bool("overwrite", false, "regenerate simulated movements for the range")
	)
	flag.Parse()

	var logger *zap.Logger
	var dotFile string
	var err error

	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Environment: env,
		Debug:       env != "production",
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "ticker",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	if len(*fromFlag) > 0 {
		from, err = time.Parse("2006-01-02", *fromFlag)
		if err != nil {
			logger.Fatal("Invalid -from date",
				zap.Error(err),
			)
		}
	}
	if len(*toFlag) > 0 {
		to, err = time.Parse("2006-01-02", *toFlag)
		if err != nil {
			logger.Fatal("Invalid -to date",
				zap.Error(err),
			)
		}
	}

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

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

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

	ctx := context.Background()

	applied, err := subscriptionManager.ApplyDueDowngrades(ctx, now, movementManager)
	if err != nil {
		logger.Fatal("Cannot apply scheduled downgrades",
			zap.Error(err),
		)
	}
	logger.Info("Applied scheduled downgrades",
		zap.Int("Count", applied),
	)

	if billingMode == billing.ModeLive {
		logger.Info("Live billing mode, skipping period simulation")
		return
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

	result, err := simulator.SimulatePeriod(ctx, billing.SimulateOptions{
		From:      from,
		To:        to,
		CompanyID: *companyFlag,
		Overwrite: *overwriteFlag,
	})
	if err != nil {
		logger.Fatal("Cannot simulate period",
			zap.Error(err),
		)
	}

	logger.Info("Period simulation finished",
		zap.Strings("Periods", result.Periods),
		zap.Int("Inserted", result.Inserted),
		zap.Int("Skipped", result.Skipped),
		zap.Int("Overwritten", result.Overwritten),
	)
}
