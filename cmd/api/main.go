package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/infra/cache"
	"storefront/internal/infra/db"
	"storefront/internal/infra/events"
	"storefront/internal/infra/memory"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/observability"
	"storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// storage は起動方式ごとの Repository 一式
type storage struct {
	tx        repository.TransactionManager
	addresses repository.AddressRepository
	users     repository.UserRepository
	close     func() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(observability.LoggerOptions{Env: cfg.GoEnv, Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//トレース
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTelEndpoint, !cfg.IsProd())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	//DB / メモリ
	st, err := openStorage(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warn("storage close failed", zap.Error(err))
		}
	}()

	//キャッシュ（REDIS_URL が無ければ無し）
	var c usecase.Cache = usecase.NopCache{}
	if cfg.RedisURL != "" {
		client, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		rc := cache.NewRedisCache(client, log)
		defer func() {
			rc.Close()
			_ = client.Close()
		}()
		c = rc
		log.Info("redis cache enabled")
	}

	//イベント送信（KAFKA_BROKERS が無ければ無し）
	var pub usecase.EventPublisher = usecase.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		w := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic, func(err error) {
			log.Warn("kafka delivery failed", zap.String("topic", cfg.KafkaOrderTopic), zap.Error(err))
		})
		kp := events.NewKafkaPublisher(w)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn("kafka writer close failed", zap.Error(err))
			}
		}()
		pub = kp
		log.Info("kafka publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	notify := usecase.NewNotifier(c, cfg.CacheTTL, pub, usecase.UUIDGenerator{}, usecase.SystemClock{}, log)

	//Usecase生成
	orderUC := usecase.NewOrderUsecase(st.tx, st.addresses, validator.NewOrderValidator(), notify)
	adminOrderUC := usecase.NewAdminOrderUsecase(st.tx, notify)
	paymentUC := usecase.NewPaymentUsecase(st.tx, notify)
	voucherUC := usecase.NewVoucherUsecase(st.tx, validator.NewVoucherValidator(), notify)
	inventoryUC := usecase.NewInventoryUsecase(st.tx, notify)

	//Handler生成
	e := server.New(log)
	server.RegisterRoutes(e, cfg, st.users, server.Handlers{
		Orders:         handler.NewOrderHandler(orderUC),
		AdminOrders:    handler.NewAdminOrderHandler(adminOrderUC),
		Vouchers:       handler.NewVoucherHandler(voucherUC),
		Payments:       handler.NewPaymentHandler(paymentUC),
		Stock:          handler.NewStockHandler(inventoryUC),
		AdminInventory: handler.NewAdminInventoryHandler(inventoryUC),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, e, server.Addr(cfg.Port), cfg.ShutdownTimeout, log)
	})

	//決済結果の購読
	if len(cfg.KafkaBrokers) > 0 {
		reader := events.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaPaymentTopic, cfg.KafkaGroupID)
		consumer := events.NewPaymentConsumer(reader, paymentUC, log)
		g.Go(func() error {
			defer func() { _ = reader.Close() }()
			return consumer.Run(gctx)
		})
	}

	err = g.Wait()
	log.Info("stopped", zap.Error(err))
	return err
}

func openStorage(cfg config.Config, log *zap.Logger) (storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		s := memory.NewStore()
		s.SeedDemo(time.Now().UTC())
		log.Info("using in-memory storage with demo data")
		return storage{
			tx:        s,
			addresses: s.Addresses(),
			users:     s.Users(),
			close:     func() error { return nil },
		}, nil
	}

	gdb, err := db.Connect(cfg.DSN(), log)
	if err != nil {
		return storage{}, err
	}
	if err := db.Migrate(gdb); err != nil {
		return storage{}, fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return storage{}, err
	}

	return storage{
		tx:        infraRepo.NewTxManagerGorm(gdb),
		addresses: infraRepo.NewAddressGormRepository(gdb),
		users:     infraRepo.NewUserGormRepository(gdb),
		close:     sqlDB.Close,
	}, nil
}
