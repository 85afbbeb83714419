// cmd/coupon-service/main.go
package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"nexus-coupon/internal/pkg/bootstrap"
	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/pkg/mq"
	"nexus-coupon/internal/pkg/redis"
	"nexus-coupon/internal/pkg/zookeeper"
	"nexus-coupon/internal/service/coupon/application"
	"nexus-coupon/internal/service/coupon/infrastructure"
	"nexus-coupon/internal/service/coupon/infrastructure/adapter"
	"nexus-coupon/internal/service/coupon/infrastructure/rule"
	"nexus-coupon/internal/service/coupon/interfaces"
	"nexus-coupon/internal/service/coupon/port"
)

const serviceName = "coupon-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.Init()
	log := logger.L()
	tracer := otel.Tracer(serviceName)

	var (
		runners  []func(ctx context.Context) error
		cleanups []func(ctx context.Context) error
	)

	// 1. 数据库
	db, err := infrastructure.OpenDatabase(cfg.Infra.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if sqlDB, err := db.DB(); err == nil {
		cleanups = append(cleanups, func(context.Context) error { return sqlDB.Close() })
	}

	// 2. Redis：限流和锁共用一个客户端
	var rdb *redis.Client
	if cfg.RateLimit.Backend == "redis" || cfg.Locker.Backend == "redis" {
		rdb, err = redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		cleanups = append(cleanups, func(context.Context) error { return rdb.Close() })
	}

	var limiter port.RateLimiter
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter, err = infrastructure.NewRedisRateLimiter(rdb, cfg.RateLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis rate limiter")
		}
	default:
		limiter = infrastructure.NewMemoryRateLimiter(cfg.RateLimit)
	}

	// 3. 发券锁（可选）
	var locker port.Locker
	switch cfg.Locker.Backend {
	case "redis":
		locker, err = infrastructure.NewRedisLocker(rdb, cfg.Locker.TTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis locker")
		}
	case "zookeeper":
		conn, err := zookeeper.Connect(strings.Split(cfg.Infra.Zookeeper.Servers, ","), cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		cleanups = append(cleanups, func(context.Context) error { conn.Close(); return nil })
		locker = infrastructure.NewZookeeperLocker(conn, cfg.Locker.TTL)
	}

	// 4. 事件：管理后台实时推送，以及可选的 Kafka
	hub := adapter.NewEventHub()
	runners = append(runners, hub.Run)
	publishers := adapter.MultiPublisher{hub}
	if cfg.Infra.Kafka.Enabled {
		writer := mq.NewKafkaWriter(strings.Split(cfg.Infra.Kafka.Brokers, ","), cfg.Infra.Kafka.Topic)
		kafkaAdapter := adapter.NewEventKafkaAdapter(writer)
		publishers = append(publishers, kafkaAdapter)
		cleanups = append(cleanups, func(context.Context) error { return kafkaAdapter.Close() })
	}

	rules, err := rule.NewCELRuleEngineAdapter()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize rule engine")
	}
	trustedProxies, err := interfaces.ParseTrustedProxies(cfg.App.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trusted proxies")
	}
	policy, err := application.ParseDuplicateCheckPolicy(cfg.App.OnDuplicateCheckFailure)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid duplicate check policy")
	}

	// 5. 应用服务
	tenants := application.NewTenantService(infrastructure.NewGormTenantRepository(db), tracer)
	definitions := infrastructure.NewGormCouponDefinitionRepository(db)
	coupons := application.NewCouponService(application.Deps{
		Tenants:     tenants,
		Definitions: definitions,
		Issued:      infrastructure.NewGormIssuedCouponRepository(db),
		Limiter:     limiter,
		Locker:      locker,
		Publisher:   publishers,
		Rules:       rules,
		Metrics:     application.NewMetrics(prometheus.DefaultRegisterer),
		Tracer:      tracer,
	}, application.Options{
		CodePrefix:              cfg.App.CodePrefix,
		MaxCodeAttempts:         cfg.App.MaxCodeAttempts,
		OnDuplicateCheckFailure: policy,
	})
	catalog := application.NewCatalogService(tenants, definitions, rules, tracer, cfg.App.DefaultMaxRedemptions)
	survey := application.NewSurveyService(tenants,
		infrastructure.NewGormQuestionRepository(db),
		infrastructure.NewGormResponseRepository(db),
		tracer)

	handler := interfaces.NewHandler(interfaces.HandlerDeps{
		Coupons: coupons,
		Catalog: catalog,
		Survey:  survey,
		Tenants: tenants,
		Hub:     hub,
		Auth:    interfaces.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	})

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			r := appCtx.Router
			r.Use(middleware.RequestID, interfaces.ClientIP(trustedProxies), interfaces.Tracing(tracer), interfaces.AccessLog, interfaces.Recover)
			r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			r.Handle("/metrics", promhttp.Handler())
			handler.RegisterRoutes(r)
		},
		Runners:  runners,
		Cleanups: cleanups,
	})
}
