// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"restaurantbot/internal/config"
	httptransport "restaurantbot/internal/http"
	"restaurantbot/internal/infra"
	"restaurantbot/internal/modules/customer"
	"restaurantbot/internal/modules/events"
	"restaurantbot/internal/modules/ledger"
	"restaurantbot/internal/modules/notify"
	"restaurantbot/internal/modules/order"
	"restaurantbot/internal/modules/payment"
	"restaurantbot/internal/modules/refund"
	"restaurantbot/internal/modules/retention"
	"restaurantbot/internal/modules/stats"
)

const (
	notifyDedupeTTL  = 24 * time.Hour
	refundRunTimeout = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer dbPool.Close()
	if cfg.DB.Migrate {
		if err := infra.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer redisClient.Close()

	gateway := payment.NewRazorpay(payment.RazorpayConfig{
		BaseURL:       cfg.Payment.BaseURL,
		KeyID:         cfg.Payment.KeyID,
		KeySecret:     cfg.Payment.KeySecret,
		WebhookSecret: cfg.Payment.WebhookSecret,
	}, &http.Client{Timeout: 20 * time.Second})
	refunder := payment.NewRefunder(gateway, payment.RefundPolicy{
		MinSettlementAge:  cfg.Payment.MinSettlementAge,
		MaxSettlementWait: cfg.Payment.MaxSettlementWait,
		RetryDelay:        cfg.Payment.RetryDelay,
		TimingRetryDelay:  cfg.Payment.TimingRetryDelay,
		MaxRetries:        cfg.Payment.MaxRetries,
		MaxWindow:         cfg.Payment.MaxRetryWindow,
	}, logger)

	router := notify.NewRouter(notify.DefaultTemplates(), logger)
	if cfg.Notify.SMTP.Host != "" {
		router.Register(notify.ChannelEmail, notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			User:     cfg.Notify.SMTP.User,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
		}))
	}
	if cfg.Notify.WhatsApp.Token != "" {
		router.Register(notify.ChannelWhatsApp, notify.NewWhatsApp(notify.WhatsAppConfig{
			BaseURL:       cfg.Notify.WhatsApp.BaseURL,
			PhoneNumberID: cfg.Notify.WhatsApp.PhoneNumberID,
			Token:         cfg.Notify.WhatsApp.Token,
		}, &http.Client{Timeout: 10 * time.Second}))
	}

	var verifier infra.TokenVerifier
	if cfg.Notify.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Notify.Firebase.ProjectID, cfg.Notify.Firebase.CredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("firebase init")
		}
		msgClient, err := infra.NewMessagingClient(ctx, app)
		if err != nil {
			logger.Fatal().Err(err).Msg("firebase messaging")
		}
		router.Register(notify.ChannelPush, notify.NewFCM(msgClient))
		if !cfg.Auth.Disabled {
			verifier, err = infra.NewFirebaseVerifier(ctx, app)
			if err != nil {
				logger.Fatal().Err(err).Msg("firebase auth")
			}
		}
	}
	if verifier == nil && !cfg.Auth.Disabled {
		logger.Fatal().Msg("RB_FIREBASE_PROJECT_ID is required unless RB_AUTH_DISABLED is set")
	}

	orderStore := order.NewStore(dbPool)
	customerStore := customer.NewStore(dbPool)
	statsSvc := stats.NewService(stats.NewStore(dbPool), orderStore, cfg.Business.Location, logger)
	bus := events.NewBus(redisClient, logger)

	// The ledger syncer reloads orders through the service, so it is bound after the service exists.
	var ledgerBackend ledger.Ledger = ledger.NewMemory()
	if cfg.Ledger.SpreadsheetID != "" {
		sheetsSvc, err := infra.NewSheets(ctx, cfg.Ledger.CredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("sheets init")
		}
		ledgerBackend = ledger.NewSheets(sheetsSvc, ledger.SheetsConfig{
			SpreadsheetID: cfg.Ledger.SpreadsheetID,
			Tabs:          cfg.Ledger.Tabs,
			RatePerSecond: cfg.Ledger.RatePerSecond,
			Burst:         cfg.Ledger.Burst,
		}, logger)
	} else {
		logger.Warn().Msg("RB_LEDGER_SPREADSHEET_ID not set, ledger kept in memory")
	}
	loader := &lateLoader{}
	syncer := ledger.NewSyncer(ledgerBackend, loader, cfg.Business.Location, logger)

	dispatcher := order.NewDispatcher(order.DispatcherDeps{
		Ledger:   syncer,
		Notifier: router,
		Deduper:  notify.NewRedisDeduper(redisClient, notifyDedupeTTL),
		Stats:    statsSvc,
		Events:   bus,
		Logger:   logger,
	})
	orderSvc := order.NewService(orderStore, order.NewEngine(cfg.Business.Location, cfg.Refund.Delay, cfg.Notify.AdminTopic), order.Deps{
		Gateway:    gateway,
		Refunder:   refunder,
		Customers:  customerStore,
		Stats:      statsSvc,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	loader.svc = orderSvc

	scheduler := refund.NewScheduler(orderSvc, refund.NewRedisDueStore(redisClient), logger, refundRunTimeout)
	dispatcher.SetRefunds(scheduler)
	if n, err := scheduler.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("recover scheduled refunds")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("re-armed scheduled refunds")
	}

	retentionSvc := retention.NewService(orderStore, statsSvc, customerStore, txFunc(dbPool), cfg.Retention, logger)
	runner := retention.NewRunner(retentionSvc, syncer, cfg.Retention, logger)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Orders:    orderSvc,
		Webhooks:  orderSvc,
		Admin:     orderSvc,
		Gateway:   gateway,
		Ledger:    syncer,
		Refunds:   scheduler,
		Stats:     statsSvc,
		Events:    bus,
		Customers: customerStore,
		NewCust:   statsSvc,
		Verifier:  verifier,
		AdminRole: cfg.Auth.AdminRole,
		Logger:    logger,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, handler, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	err = g.Wait()

	scheduler.Close()
	dispatcher.Wait()
	if err != nil {
		logger.Fatal().Err(err).Msg("shutdown with error")
	}
	logger.Info().Msg("bye")
}

// lateLoader breaks the construction cycle between the ledger syncer and the order service.
type lateLoader struct {
	svc *order.Service
}

func (l *lateLoader) Get(ctx context.Context, code string) (*order.Order, error) {
	return l.svc.Get(ctx, code)
}

func (l *lateLoader) ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return l.svc.ListByStatus(ctx, status)
}

func txFunc(pool *pgxpool.Pool) retention.TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return infra.WithTx(ctx, pool, fn)
	}
}
