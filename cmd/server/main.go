package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/gateway"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/handler"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/handler/keyrpc"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/lock"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/messaging"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/adapter/storage"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/config"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/domain"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/core/service"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/logging"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/port"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/provision"
	"github.com/AFRIENDLYHACKER/shadow.cc-website/internal/worker"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty, cfg.Service)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	// MySQL
	var ledger *storage.MySQLLedger
	if cfg.MySQL.DSN != "" {
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping mysql: %w", err)
		}
		ledger = storage.NewMySQLLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info().Msg("connected to mysql, claim ledger enabled")
	}

	catalog := provision.Catalog(cfg.Catalog)
	inventory, err := buildInventory(ctx, cfg, catalog, rdb, ledger, log)
	if err != nil {
		return err
	}

	payments, payer := buildGateway(cfg, rdb)
	locker := buildLocker(cfg, rdb, log)

	// Services
	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	claims := service.NewClaimService(inventory, payments, locker, catalog, metrics, log, cfg.Workers.QueueSize)
	stock := service.NewStockService(inventory, metrics)
	checkout := service.NewCheckoutService(payments, catalog, log)

	// Claim recorder
	var publisher *messaging.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("claim events enabled")
	}
	recorder := worker.NewRecorder(ledgerOrNil(ledger), publisherOrNil(publisher), worker.Options{
		Workers:    cfg.Workers.Count,
		Retries:    cfg.Workers.Retries,
		RetryDelay: cfg.Workers.RetryDelay,
	}, log)
	recorder.Start(claims.Events())

	// HTTP
	httpHandler := handler.NewHTTPHandler(claims, stock, checkout, log)
	if ledger != nil {
		httpHandler.EnableLedgerLookup(ledger)
	}
	if payer != nil {
		httpHandler.EnableDevPayments(payer)
		log.Warn().Str("gateway", cfg.Gateway.Backend).Msg("dev payment route enabled")
	}
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httpHandler.Routes(promhttp.Handler()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// gRPC
	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpc.NewServer()
		keyrpc.RegisterKeyServiceServer(grpcServer, handler.NewGRPCHandler(claims, stock, log))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			log.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown")
		}
		log.Info().Msg("HTTP server stopped")

		if grpcServer != nil {
			grpcServer.GracefulStop()
			log.Info().Msg("gRPC server stopped")
		}
		return nil
	})

	err = g.Wait()

	// handlers can outlive a timed-out Shutdown; Close waits for their claims
	claims.Close()
	recorder.Wait()
	log.Info().Msg("claim recorder drained")

	return err
}

func buildInventory(ctx context.Context, cfg *config.Config, catalog *domain.Catalog, rdb *redis.Client, ledger *storage.MySQLLedger, log zerolog.Logger) (port.InventoryStore, error) {
	pools, err := provision.Build(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("provision pools: %w", err)
	}

	if ledger != nil {
		if err := ledger.SeedKeys(ctx, pools); err != nil {
			return nil, err
		}
		if pools, err = ledger.LoadPools(ctx, catalog.IDs()); err != nil {
			return nil, err
		}
	}

	for _, p := range pools {
		log.Info().Str("product_id", p.ProductID).Int("unclaimed", len(p.Unclaimed)).
			Int("initial", p.InitialStock()).Msg("key pool provisioned")
	}

	switch cfg.Inventory.Backend {
	case "redis":
		inv := storage.NewRedisInventory(rdb)
		if err := inv.Provision(ctx, pools); err != nil {
			return nil, err
		}
		return inv, nil
	default:
		if ledger == nil {
			log.Warn().Msg("in-memory inventory without a ledger: a restart restores sold keys")
		}
		inv, err := storage.NewMemoryInventory(pools)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
}

func buildGateway(cfg *config.Config, rdb *redis.Client) (port.PaymentGateway, handler.SessionPayer) {
	switch cfg.Gateway.Backend {
	case "stripe":
		s := cfg.Gateway.Stripe
		return gateway.NewStripeClient(gateway.StripeConfig{
			BaseURL:   s.BaseURL,
			SecretKey: s.SecretKey,
			ReturnURL: s.ReturnURL,
			Currency:  s.Currency,
			Timeout:   s.Timeout,
		}), nil
	case "redis":
		store := storage.NewRedisSessionStore(rdb)
		return store, store
	default:
		g := gateway.NewMemoryGateway()
		return g, g
	}
}

func buildLocker(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) port.SessionLocker {
	if cfg.Lock.Backend == "redis" {
		return lock.NewRedisLocker(rdb, lock.Options{
			Expiry:     cfg.Lock.Expiry,
			Tries:      cfg.Lock.Tries,
			RetryDelay: cfg.Lock.RetryDelay,
		}, log)
	}
	return lock.NewLocalLocker()
}

// keep typed nils out of the recorder's interfaces
func ledgerOrNil(l *storage.MySQLLedger) port.ClaimLedger {
	if l == nil {
		return nil
	}
	return l
}

func publisherOrNil(p *messaging.KafkaPublisher) port.ClaimPublisher {
	if p == nil {
		return nil
	}
	return p
}
