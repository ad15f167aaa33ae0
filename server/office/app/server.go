package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "office_server/server/common/auth"
	"office_server/server/common/infra/cache"
	"office_server/server/common/infra/db"
	"office_server/server/common/infra/mq"
	"office_server/server/common/infra/object"
	commonlog "office_server/server/common/log"
	"office_server/server/common/metrics"
	"office_server/server/office/api"
	"office_server/server/office/floorplan"
	"office_server/server/office/repository"
	"office_server/server/office/service"
)

type Server struct {
	HTTPServer *http.Server
	Office     *service.Office
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.Publisher
	DB         *pgxpool.Pool

	outbox       *service.Outbox
	cancelOutbox context.CancelFunc
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := floorplan.Load(cfg.FloorplanPath)
	if err != nil {
		return nil, fmt.Errorf("load floorplan: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	s := &Server{}
	fail := func(err error) (*Server, error) {
		s.closeInfra()
		return nil, err
	}

	var (
		sinks   []service.OutboxSink
		dedupe  service.Deduper
		archive service.HistoryArchive
		repo    *repository.ChatRepository
	)
	if cfg.RedisAddr != "" {
		s.Redis = cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		sinks = append(sinks, service.NewRedisMirror(s.Redis))
		dedupe = service.NewRedisDeduper(s.Redis, service.DedupeTTL)
	}
	if cfg.LavinMQURL != "" {
		s.MQConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return fail(fmt.Errorf("initialize lavinmq: %w", err))
		}
		s.Publisher, err = mq.NewPublisher(s.MQConn, mq.ExchangeOfficeEvents)
		if err != nil {
			return fail(fmt.Errorf("initialize amqp publisher: %w", err))
		}
		sinks = append(sinks, service.NewAMQPSink(s.Publisher))
	}
	if cfg.PostgresDSN != "" {
		s.DB, err = db.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("initialize postgres: %w", err))
		}
		repo = repository.NewChatRepository(s.DB)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		archive = repo
	}

	var attachments *service.AttachmentService
	if cfg.MinioEndpoint != "" {
		client, err := object.NewClient(object.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fail(fmt.Errorf("initialize minio: %w", err))
		}
		if err := object.EnsureBucket(ctx, client, cfg.MinioBucket); err != nil {
			return fail(fmt.Errorf("ensure bucket: %w", err))
		}
		attachments = service.NewAttachmentService(client, cfg.MinioBucket)
	}

	s.outbox = service.NewOutbox(cfg.OutboxSize, m, sinks...)
	s.Office = service.NewOffice(service.Options{
		OrganizationID:     cfg.OrganizationID,
		Stage:              plan.Stage,
		Spaces:             plan.BuildSpaces(),
		ProximityThreshold: cfg.ProximityThreshold,
		GracePeriod:        cfg.GracePeriod,
		MaxObjects:         cfg.MaxObjects,
		ChatTail:           cfg.ChatTail,
		Metrics:            m,
		Mirror:             s.outbox,
		Dedupe:             dedupe,
		Archive:            archive,
	})
	if repo != nil {
		threads, err := repo.ListThreads(ctx, cfg.OrganizationID)
		if err != nil {
			return fail(fmt.Errorf("restore threads: %w", err))
		}
		s.Office.RestoreThreads(threads)
		commonlog.Infof("event=office_server action=restore_threads status=ok org_id=%s count=%d", cfg.OrganizationID, len(threads))
	}

	outboxCtx, cancelOutbox := context.WithCancel(context.Background())
	s.cancelOutbox = cancelOutbox
	go s.outbox.Run(outboxCtx)

	h := api.NewHandler(api.Options{
		Office:             s.Office,
		Auth:               commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes),
		Attachments:        attachments,
		Metrics:            m,
		IntegrationKeyHash: cfg.IntegrationKeyHash,
		Ready:              s.ready,
	})
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r)

	s.HTTPServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	commonlog.Infof("event=office_server action=init status=ok org_id=%s spaces=%d outbox_sinks=%d archive=%t attachments=%t", cfg.OrganizationID, len(plan.Spaces), len(sinks), archive != nil, attachments != nil)
	return s, nil
}

func (s *Server) ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if s.Redis != nil {
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}
	return nil
}

// Shutdown stops accepting connections, closes every session and flushes
// the outbox before releasing infrastructure clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.Office.Close()
	s.cancelOutbox()
	select {
	case <-s.outbox.Done():
	case <-ctx.Done():
		commonlog.Warnf("event=office_server action=shutdown status=outbox_timeout")
	}
	s.closeInfra()
	return err
}

func (s *Server) closeInfra() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
