package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"driver-service/auth"
	"driver-service/background"
	"driver-service/controller"
	"driver-service/infra"
	authMiddleware "driver-service/middleware"
	"driver-service/model"
	"driver-service/repository"
	"driver-service/repository/memory"
	"driver-service/service"
	"driver-service/service/interfaces"
	"driver-service/utils"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Port   int    `help:"服務監聽端口" short:"p" default:"8090"`
	Config string `help:"設定檔路徑，未指定時使用 CONFIG_PATH 或 config.yml"`
	Memory bool   `help:"使用記憶體 adapter，不連線 MongoDB/Redis/RabbitMQ"`
}

// AppServices 外部連線與儲存層
type AppServices struct {
	MongoDB  *infra.MongoDB
	Redis    *infra.Redis
	RabbitMQ *infra.RabbitMQ
	Payment  *infra.PaymentClient
	MQTT     *infra.MQTTClient

	Drivers    interfaces.DriverRepository
	Stats      interfaces.DailyStatsRepository
	Presence   interfaces.PresenceStore
	Publisher  interfaces.EventPublisher
	Onboarding interfaces.OnboardingChecker
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		if err := infra.LoadConfig(options.Config); err != nil {
			log.Fatal().
				Err(err).
				Msg("讀取設定檔失敗")
		}
		cfg := &infra.AppConfig

		// 初始化 logger（在載入配置後）
		infra.InitLogger()

		utils.SetReferenceLocation(utils.LoadReferenceLocation(cfg.App.Timezone))

		otelConfig := authMiddleware.OtelConfig{
			ServiceName:     infra.ServiceName,
			ServiceVersion:  cfg.App.AppVersion,
			Environment:     cfg.Otel.Environment,
			OTLPEndpoint:    cfg.Otel.OTLPEndpoint,
			Enabled:         cfg.Otel.Enabled,
			TracesEnabled:   cfg.Otel.TracesEnabled,
			MetricsEnabled:  cfg.Otel.MetricsEnabled,
			DevelopmentMode: cfg.Otel.DevelopmentMode,
		}

		// Prometheus registry 需先建立，otel exporter 會註冊到同一個 registry
		if err := authMiddleware.InitPrometheusMetrics(log.Logger); err != nil {
			log.Error().
				Err(err).
				Msg("Prometheus metrics 初始化失敗，將繼續運行")
		}

		otelCleanup, err := authMiddleware.InitOpenTelemetry(otelConfig, log.Logger)
		if err != nil {
			log.Fatal().
				Err(err).
				Msg("OpenTelemetry 初始化失敗")
		}
		infra.InitTracer()

		log.Info().
			Int("port", options.Port).
			Bool("memory", options.Memory).
			Str("timezone", utils.GetReferenceLocation().String()).
			Msg("啟動司機上線服務")

		services, err := initializeServices(cfg, options)
		if err != nil {
			log.Fatal().
				Err(err).
				Msg("初始化服務失敗")
		}

		// 服務層
		accountant := service.NewSessionAccountant(log.Logger, services.Stats, services.Drivers, utils.GetReferenceLocation())
		presenceService := service.NewPresenceService(log.Logger, services.Drivers, services.Presence, accountant, services.Onboarding, service.PresenceConfig{
			HeartbeatTTL:        cfg.HeartbeatTTL(),
			CommissionThreshold: cfg.Presence.CommissionThreshold,
		})
		expiryService := service.NewDocumentExpiryService(log.Logger, services.Drivers, services.Publisher)
		driverEventService := service.NewDriverEventService(log.Logger, accountant, services.Drivers)

		expiryScheduler := background.NewDocumentExpiryScheduler(log.Logger, expiryService, background.ScheduleConfig{
			Hour:     cfg.ExpiryJob.Hour,
			Minute:   cfg.ExpiryJob.Minute,
			Location: utils.GetReferenceLocation(),
			Params: service.ExpiryScanParams{
				ThresholdDays:               cfg.ExpiryJob.ThresholdDays,
				MinNotificationIntervalDays: cfg.ExpiryJob.MinNotificationIntervalDays,
			},
		})

		if options.Memory {
			seedMemoryDriver(cfg, services)
		}

		router := chi.NewRouter()
		router.Use(middleware.Logger)
		router.Use(middleware.Recoverer)
		router.Use(middleware.RequestID)
		router.Use(middleware.Heartbeat("/ping"))

		// CORS 設定 - 允許所有來源
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		apiConfig := huma.DefaultConfig("Driver Service API", cfg.App.AppVersion)
		apiConfig.Info.Description = "司機上下線、心跳與每日統計"
		serverURL := fmt.Sprintf("http://localhost:%d", options.Port)
		apiConfig.Servers = []*huma.Server{
			{URL: serverURL},
		}

		// 配置 JWT Bearer 認證
		apiConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
			"bearerAuth": {
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT Bearer Token 認證",
			},
		}

		api := humachi.New(router, apiConfig)
		api.UseMiddleware(authMiddleware.OpenTelemetryMiddleware(otelConfig, log.Logger))
		api.UseMiddleware(authMiddleware.PrometheusMiddleware(log.Logger))

		driverAuth := authMiddleware.NewDriverAuthMiddleware(services.Drivers, cfg.JWT.SecretKey)
		adminAuth := authMiddleware.NewAdminAuthMiddleware(cfg.JWT.SecretKey)

		controller.NewDriverController(log.Logger, presenceService, accountant, driverAuth).RegisterRoutes(api)
		controller.NewAdminController(log.Logger, presenceService, expiryScheduler, adminAuth).RegisterRoutes(api)

		wsController := controller.NewWebSocketController(log.Logger, presenceService, services.Drivers, cfg.JWT.SecretKey)
		router.Get("/ws/drivers/heartbeat", wsController.GetWebSocketHandler())
		router.Handle("/metrics", authMiddleware.GetStandardPrometheusHandler())

		huma.Register(api, huma.Operation{
			OperationID: "health-check",
			Method:      "GET",
			Path:        "/health",
			Summary:     "健康檢查",
			Tags:        []string{"system"},
		}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
			return checkHealth(ctx, services), nil
		})

		// 背景工作
		bgCtx, cancelBackground := context.WithCancel(context.Background())
		group, groupCtx := errgroup.WithContext(bgCtx)

		if services.Redis != nil {
			source := infra.NewKeyspaceExpirySubscription(services.Redis, log.Logger)
			listener := background.NewHeartbeatExpiryListener(log.Logger, source, presenceService, cfg.Presence.ReconcileWorkers)
			group.Go(func() error {
				listener.Start(groupCtx)
				return nil
			})
		}

		sweeper := background.NewPresenceSweeper(log.Logger, presenceService, cfg.SweepInterval())
		group.Go(func() error {
			sweeper.Start(groupCtx)
			return nil
		})

		if cfg.ExpiryJob.Enabled {
			group.Go(func() error {
				expiryScheduler.Start(groupCtx)
				return nil
			})
		} else {
			log.Info().Msg("文件到期每日排程未啟用，僅能手動觸發")
		}

		if services.RabbitMQ != nil {
			consumer := background.NewDriverEventConsumer(log.Logger, services.RabbitMQ, driverEventService)
			group.Go(func() error {
				consumer.Start(groupCtx)
				return nil
			})
		}

		if services.MQTT != nil {
			subscriber := background.NewMQTTHeartbeatSubscriber(log.Logger, services.MQTT, presenceService)
			group.Go(func() error {
				subscriber.Start(groupCtx)
				return nil
			})
		}

		group.Go(func() error {
			runMetricsUpdater(groupCtx, services, presenceService)
			return nil
		})

		hooks.OnStart(func() {
			log.Info().
				Int("port", options.Port).
				Str("docs_url", fmt.Sprintf("%s/docs", serverURL)).
				Msg("API文檔已啟用")
			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", options.Port),
				Handler: router,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().
						Err(err).
						Msg("服務器啟動失敗")
				}
			}()
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info().Msg("正在關閉服務器...")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Error().
					Err(err).
					Msg("服務器關閉錯誤")
			}

			log.Info().Msg("正在停止背景工作...")
			cancelBackground()
			_ = group.Wait()

			if otelCleanup != nil {
				log.Info().Msg("正在關閉 OpenTelemetry...")
				otelCleanup()
			}
			cleanupServices(services)
			log.Info().Msg("服務器已關閉")
		})
	})
	cli.Run()
}

func initializeServices(cfg *infra.Config, options *Options) (*AppServices, error) {
	if options.Memory {
		log.Warn().Msg("使用記憶體 adapter，資料不會保留")
		return &AppServices{
			Drivers:    memory.NewDriverRepo(),
			Stats:      memory.NewDailyStatsRepo(),
			Presence:   memory.NewPresenceStore(),
			Publisher:  memory.NewPublisher(),
			Onboarding: memory.NewOnboardingChecker(),
		}, nil
	}

	mongoDB, err := infra.NewMongoDB(infra.MongoConfig{
		URI:      cfg.MongoDB.URI,
		Database: cfg.MongoDB.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("MongoDB初始化失敗: %w", err)
	}

	redisClient, err := infra.NewRedis(infra.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("Redis初始化失敗: %w", err)
	}
	if cfg.Redis.EnableKeyspaceNotifications {
		if err := redisClient.EnableKeyspaceNotifications(context.Background()); err != nil {
			log.Warn().
				Err(err).
				Msg("無法開啟 key 過期通知，僅依靠定期巡檢")
		}
	}

	rabbitMQ, err := infra.NewRabbitMQ(infra.RabbitMQConfig{URL: cfg.RabbitMQ.URL}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQ初始化失敗: %w", err)
	}

	payment, err := infra.NewPaymentClient(infra.PaymentConfig{
		Addr:    cfg.Payment.GRPCAddr,
		Timeout: cfg.PaymentTimeout(),
	}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("金流服務初始化失敗: %w", err)
	}

	var mqttClient *infra.MQTTClient
	if cfg.MQTT.Enabled {
		mqttClient, err = infra.NewMQTTClient(infra.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		}, log.Logger)
		if err != nil {
			log.Error().
				Err(err).
				Msg("MQTT連接失敗 (繼續運行)")
			mqttClient = nil
		}
	}

	return &AppServices{
		MongoDB:    mongoDB,
		Redis:      redisClient,
		RabbitMQ:   rabbitMQ,
		Payment:    payment,
		MQTT:       mqttClient,
		Drivers:    repository.NewDriverRepository(mongoDB),
		Stats:      repository.NewDailyStatsRepository(mongoDB),
		Presence:   infra.NewRedisPresenceStore(redisClient.Client, log.Logger),
		Publisher:  rabbitMQ,
		Onboarding: payment,
	}, nil
}

// seedMemoryDriver 記憶體模式下建立一位示範司機並印出 token
func seedMemoryDriver(cfg *infra.Config, services *AppServices) {
	repo, ok := services.Drivers.(*memory.DriverRepo)
	if !ok {
		return
	}
	validity := time.Now().AddDate(1, 0, 0)
	driver := model.Driver{
		ID:                 primitive.NewObjectID(),
		Mobile:             "0912345678",
		Name:               "示範司機",
		OnboardingComplete: true,
		License:            model.License{Validity: &validity},
		VehicleDetails:     model.VehicleDetails{VehicleNumber: "DEMO-0001", Model: "Toyota Prius"},
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	repo.Put(driver)

	ttl := time.Duration(cfg.JWT.ExpiresHours) * time.Hour
	driverToken, err := auth.IssueToken(cfg.JWT.SecretKey, model.TokenTypeDriver, driver.HexID(), ttl)
	if err != nil {
		log.Error().Err(err).Msg("簽發示範司機 token 失敗")
		return
	}
	adminToken, err := auth.IssueToken(cfg.JWT.SecretKey, model.TokenTypeAdmin, "demo-admin", ttl)
	if err != nil {
		log.Error().Err(err).Msg("簽發示範管理員 token 失敗")
		return
	}
	log.Info().
		Str("driver_id", driver.HexID()).
		Str("driver_token", driverToken).
		Str("admin_token", adminToken).
		Msg("已建立示範司機")
}

// runMetricsUpdater 定期更新在線司機數與基礎設施健康狀態
func runMetricsUpdater(ctx context.Context, services *AppServices, presence *service.PresenceService) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log.Info().Msg("Metrics 更新器已啟動")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if count, err := services.Drivers.CountOnline(ctx); err == nil {
			authMiddleware.UpdateOnlineDrivers("database", count)
		} else {
			log.Warn().Err(err).Msg("統計在線司機數失敗")
		}
		if ids, err := presence.ListPresentDriverIDs(ctx); err == nil {
			authMiddleware.UpdateOnlineDrivers("presence", int64(len(ids)))
		}

		for _, c := range probeComponents(ctx, services) {
			authMiddleware.UpdateInfrastructureHealth(c.Service, c.Name, c.Healthy, c.LatencyMs)
		}
	}
}

type HealthResponse struct {
	Body struct {
		Status     string            `json:"status" example:"ok"`
		Components []ComponentHealth `json:"components"`
	}
}

type ComponentHealth struct {
	Name      string  `json:"name" example:"redis"`
	Service   string  `json:"service" example:"cache"`
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms" example:"0.45"`
	Message   string  `json:"message,omitempty"`
}

func probe(name, svc string, fn func() error) ComponentHealth {
	start := time.Now()
	err := fn()
	c := ComponentHealth{
		Name:      name,
		Service:   svc,
		Healthy:   err == nil,
		LatencyMs: float64(time.Since(start).Nanoseconds()) / 1e6,
	}
	if err != nil {
		c.Message = err.Error()
	}
	return c
}

func probeComponents(ctx context.Context, services *AppServices) []ComponentHealth {
	var components []ComponentHealth
	if services.MongoDB != nil {
		components = append(components, probe("mongodb", "database", func() error {
			return services.MongoDB.Ping(ctx)
		}))
	}
	if services.Redis != nil {
		components = append(components, probe("redis", "cache", func() error {
			return services.Redis.Ping(ctx)
		}))
	}
	if services.RabbitMQ != nil {
		components = append(components, probe("rabbitmq", "queue", func() error {
			if !services.RabbitMQ.IsConnected() {
				return fmt.Errorf("RabbitMQ 連接已關閉")
			}
			return nil
		}))
	}
	if services.MQTT != nil {
		components = append(components, probe("mqtt", "broker", func() error {
			if !services.MQTT.IsConnected() {
				return fmt.Errorf("MQTT 未連線")
			}
			return nil
		}))
	}
	return components
}

func checkHealth(ctx context.Context, services *AppServices) *HealthResponse {
	resp := &HealthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Components = probeComponents(ctx, services)
	for _, c := range resp.Body.Components {
		if !c.Healthy {
			resp.Body.Status = "degraded"
		}
	}
	if resp.Body.Components == nil {
		resp.Body.Components = []ComponentHealth{}
	}
	return resp
}

func cleanupServices(services *AppServices) {
	if services.MQTT != nil {
		services.MQTT.Close()
	}

	if services.RabbitMQ != nil {
		if err := services.RabbitMQ.Close(); err != nil {
			log.Error().
				Err(err).
				Msg("RabbitMQ關閉錯誤")
		}
	}

	if services.Payment != nil {
		if err := services.Payment.Close(); err != nil {
			log.Error().
				Err(err).
				Msg("金流服務連線關閉錯誤")
		}
	}

	if services.Redis != nil {
		if err := services.Redis.Close(); err != nil {
			log.Error().
				Err(err).
				Msg("Redis關閉錯誤")
		}
	}

	if services.MongoDB != nil {
		if err := services.MongoDB.Close(context.Background()); err != nil {
			log.Error().
				Err(err).
				Msg("MongoDB關閉錯誤")
		}
	}
}
