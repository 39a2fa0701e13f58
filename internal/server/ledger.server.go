package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ledger-core-service/internal/config"
	publisher "ledger-core-service/internal/pub"
	"ledger-core-service/internal/repository"
	"ledger-core-service/internal/router"
	"ledger-core-service/internal/usecase/balance"
	"ledger-core-service/internal/usecase/referral"
	"ledger-core-service/internal/usecase/reservation"
	"ledger-core-service/pkg/id"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	db         *pgxpool.Pool
	rdb        *redis.Client
	kafka      *kafka.Writer
	sweeper    *reservation.Sweeper
	logger     *zap.Logger
}

func New(cfg config.AppConfig) (*Server, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := config.ConnectDB(config.LoadDB())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	// Refuse to serve money movements on a backend that cannot roll back.
	if err := config.AssertAtomicCommit(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})

	kafkaWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        publisher.LedgerEventsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	sf, err := id.NewSnowflake(cfg.NodeID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init snowflake: %w", err)
	}
	ids := id.NewGenerator(sf)

	events := publisher.NewLedgerEventPublisher(rdb, kafkaWriter, logger)

	balanceRepo := repository.NewBalanceRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	referralRepo := repository.NewReferralRepo(db)

	balanceUC := balance.New(balanceRepo, auditRepo, rdb, events, ids, logger)
	reservationUC := reservation.New(reservationRepo, events, ids, logger, cfg.ReservationTTL)
	referralUC := referral.New(referralRepo, balanceUC, referralConfig(cfg, logger), rdb, events, ids, logger)

	if err := reservationUC.EnsurePools(ctx, cfg.SupportedCurrencies); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure pools: %w", err)
	}

	sweeper := reservation.NewSweeper(reservationUC, cfg.SweepInterval, logger)
	sweeper.Start()

	r := router.New(balanceUC, reservationUC, referralUC)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		db:      db,
		rdb:     rdb,
		kafka:   kafkaWriter,
		sweeper: sweeper,
		logger:  logger,
	}, nil
}

func referralConfig(cfg config.AppConfig, logger *zap.Logger) referral.Config {
	rc := referral.DefaultConfig()
	if cfg.ReferralMode != "" {
		rc.Mode = cfg.ReferralMode
	}
	rates := make([]decimal.Decimal, 0, len(cfg.ReferralLevelRates))
	for _, raw := range cfg.ReferralLevelRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			logger.Warn("invalid referral rate, keeping defaults",
				zap.String("rate", raw), zap.Error(err))
			return rc
		}
		rates = append(rates, rate)
	}
	if len(rates) > 0 {
		rc.LevelRates = rates
		rc.MaxDepth = len(rates)
	}
	return rc
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.sweeper.Stop()
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.kafka.Close(); cerr != nil {
		s.logger.Warn("kafka writer close", zap.Error(cerr))
	}
	if cerr := s.rdb.Close(); cerr != nil {
		s.logger.Warn("redis close", zap.Error(cerr))
	}
	s.db.Close()
	_ = s.logger.Sync()
	return err
}
