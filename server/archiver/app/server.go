package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"

	archiverservice "office_server/server/archiver/service"
	"office_server/server/common/infra/db"
	"office_server/server/common/infra/mq"
	commonlog "office_server/server/common/log"
	"office_server/server/common/transport/httpresp"
	"office_server/server/office/repository"
)

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	MQConn     *amqp.Connection
	Channel    *amqp.Channel

	archiver   *archiverservice.Archiver
	deliveries <-chan amqp.Delivery
	workers    int
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}
	repo := repository.NewChatRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	conn, err := mq.NewConnection(cfg.LavinMQURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize lavinmq: %w", err)
	}
	ch, deliveries, err := mq.Consume(conn, mq.ExchangeOfficeEvents, cfg.Queue, cfg.Prefetch, cfg.Patterns...)
	if err != nil {
		_ = conn.Close()
		pool.Close()
		return nil, fmt.Errorf("consume %s: %w", cfg.Queue, err)
	}

	commonlog.Infof("event=archiver action=consume status=ok queue=%s patterns=%s", cfg.Queue, strings.Join(cfg.Patterns, ","))

	reg := prometheus.NewRegistry()
	archiver := archiverservice.NewArchiver(repo, reg)

	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil || conn.IsClosed() {
			c.JSON(http.StatusServiceUnavailable, httpresp.NewHealthResponse("degraded"))
			return
		}
		c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok"))
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{
		HTTPServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DB:         pool,
		MQConn:     conn,
		Channel:    ch,
		archiver:   archiver,
		deliveries: deliveries,
		workers:    cfg.Workers,
	}, nil
}

// Run archives deliveries until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	commonlog.Infof("event=archiver action=run status=ok workers=%d", s.workers)
	return s.archiver.Run(ctx, s.deliveries, s.workers)
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.Channel != nil {
		_ = s.Channel.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return err
}
