package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/audit"
	"github.com/ndjobi-platform/emergency-access/internal/connectors"
	"github.com/ndjobi-platform/emergency-access/internal/emergency"
	"github.com/ndjobi-platform/emergency-access/internal/gate"
	"github.com/ndjobi-platform/emergency-access/internal/infra"
	"github.com/ndjobi-platform/emergency-access/internal/infra/auth"
	"github.com/ndjobi-platform/emergency-access/internal/keys"
	"github.com/ndjobi-platform/emergency-access/internal/lookup"
	"github.com/ndjobi-platform/emergency-access/internal/notifier"
	"github.com/ndjobi-platform/emergency-access/internal/repository/postgres"
	"github.com/ndjobi-platform/emergency-access/internal/server"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	fragments := keys.Fragments{
		One:   cfg.Emergency.Fragment1,
		Two:   cfg.Emergency.Fragment2,
		Three: cfg.Emergency.Fragment3,
	}
	if !fragments.Valid() {
		logger.Fatal("key fragments not provisioned")
	}
	if len(cfg.Emergency.TOTPSecret) == 0 {
		logger.Fatal("second factor secret not provisioned")
	}

	// Контекст жизненного цикла фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	repo, err := postgres.NewRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.Ping(appCtx); err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("perimeter public key invalid", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := emergency.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// 3. Уведомления органов + журнал аудита.
	// Notifier — это и транспорт уведомлений, и эскалатор для Ledger
	transport := notifier.NewRedisTransport(rdb)
	notif := notifier.NewNotifier(cfg.Emergency.Authorities, transport, repo, logger)
	go notif.StartAckListener(appCtx, rdb)

	ledger := audit.NewLedger(repo, notif, logger)
	ledger.SetObserver(
		func(kind audit.EventKind) { metrics.AuditEventsTotal.WithLabelValues(string(kind)).Inc() },
		metrics.EscalationsTotal.Inc,
	)
	if err := ledger.Init(appCtx); err != nil {
		logger.Fatal("audit chain restore failed", zap.Error(err))
	}

	// 4. Authorization Gate (роль -> секрет -> 2FA -> судебное разрешение)
	identity := connectors.NewIdentityClient(cfg.Lookup.IdentityURL, cfg.Lookup.Timeout)
	secondFactor := gate.NewSecondFactor(cfg.Emergency.TOTPSecret)
	authGate := gate.NewGate(identity, repo, secondFactor, ledger, logger)

	// 5. Ядро: менеджер активаций, декодер, аудиомонитор
	broadcaster := emergency.NewRedisBroadcaster(rdb, logger)
	manager := emergency.NewManager(
		authGate, repo, ledger, notif, broadcaster,
		fragments, metrics, logger, cfg.Emergency.MaxWindow,
	)

	// Восстанавливаем незакрытое окно после рестарта (вывод ключа детерминирован)
	if err := manager.Resume(appCtx); err != nil {
		logger.Fatal("failed to resume emergency window", zap.Error(err))
	}

	geo := lookup.NewGeoClient(cfg.Lookup.GeocoderURL, cfg.Lookup.Timeout, logger)
	network := lookup.NewNetworkClassifier(cfg.Lookup.NetworkURL, cfg.Lookup.Timeout, logger)
	decoder := emergency.NewDecoder(manager, repo, geo, network, ledger, metrics, logger, cfg.Lookup.Timeout)

	capture := connectors.NewMediaGateway(cfg.Lookup.MediaURL)
	monitor := emergency.NewMonitor(manager, capture, repo, ledger, metrics, logger, cfg.Emergency.AudioCap)

	// 6. HTTP Server
	emergencyH := server.NewEmergencyHandler(manager, decoder, monitor, logger)
	auditH := server.NewAuditHandler(repo)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewServer(logger, validator, emergencyH, auditH),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("emergency access subsystem started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("emergency access subsystem stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Дожидаемся фоновых сеансов и уведомлений, затем гасим слушателей
	monitor.Drain()
	notif.Drain()
	cancel()

	logger.Info("emergency access subsystem exited properly")
}
