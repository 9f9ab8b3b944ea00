package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"accounthub/internal/api/middleware"
	"accounthub/internal/config"
	"accounthub/internal/pkg/docstore"
	"accounthub/internal/pkg/eventstream"
	"accounthub/internal/pkg/metrics"
	"accounthub/internal/pkg/notify"
	"accounthub/internal/pkg/queue"
	"accounthub/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 封装 API 服务所需的依赖和路由处理。
//
// 它持有账户文档存储、事件发布端、通知队列以及 Gin 路由引擎。
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       docstore.Store
	redisStore  *docstore.Redis
	events      *eventstream.Publisher
	mailer      notify.CodeSender
	sms         notify.CodeSender
	notifyQueue *queue.Queue
	limiter     *ratelimit.RateLimiter
	router      *gin.Engine
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 Redis 文档存储
// 2. 初始化事件流发布端与限流器
// 3. 启动通知投递队列
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := docstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password)
	if err != nil {
		return nil, err
	}

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	notifyQueue := queue.NewQueue(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	notifyQueue.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		redisStore:  store,
		events:      eventstream.NewPublisher(store.Client(), logger, cfg.App.EventStream),
		mailer:      notify.NewEmailNotifier(&cfg.Email, logger),
		sms:         notify.NewSMSNotifier(logger),
		notifyQueue: notifyQueue,
		limiter: ratelimit.NewRedisRateLimiter(store.Client(), logger,
			"accounthub:ratelimit:auth", cfg.App.RateLimit, cfg.App.RateBurst),
		router: r,
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭通知队列与存储连接。
func (s *Server) Close() error {
	if s.notifyQueue != nil {
		s.notifyQueue.Shutdown()
	}
	if s.redisStore != nil {
		return s.redisStore.Close()
	}
	return nil
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/register", s.withRateLimit(s.handleRegister))
	s.router.POST("/login", s.withRateLimit(s.handleLogin))
	s.router.POST("/code", s.withRateLimit(s.handleNewCode))
	s.router.POST("/code/activate", s.withRateLimit(s.handleActivateCode))

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.GET("/me/plan", s.handlePlan)
	authed.POST("/me/invitations", s.handleNewInvitation)
	authed.POST("/invitations/accept", s.handleAcceptInvitation)
	authed.POST("/me/delete", s.handleDeleteAccount)
}

// withRateLimit 给认证接口套上令牌桶限流。
func (s *Server) withRateLimit(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait, err := s.limiter.Allow(c.Request.Context())
		if err != nil {
			s.logger.Warn("rate limit check failed", slog.String("error", err.Error()))
			// 限流器故障时放行，避免 Redis 抖动拖垮登录
			h(c)
			return
		}
		if !allowed {
			c.Header("Retry-After", wait.Round(time.Second).String())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		h(c)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.redisStore != nil {
		if err := s.redisStore.Client().Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
