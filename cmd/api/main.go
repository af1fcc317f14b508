package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gymaccess/internal/attendance"
	"gymaccess/internal/cloudinary"
	"gymaccess/internal/config"
	"gymaccess/internal/gymapi"
	"gymaccess/internal/handler"
	"gymaccess/internal/history"
	"gymaccess/internal/httpmiddleware"
	"gymaccess/internal/livecount"
	"gymaccess/internal/metrics"
	"gymaccess/internal/occupancy"
	"gymaccess/internal/queue"
	"gymaccess/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	liveMetrics := metrics.NewLiveCount(prometheus.DefaultRegisterer)
	aggMetrics := metrics.NewAggregation(prometheus.DefaultRegisterer)

	checks := map[string]func(context.Context) bool{}

	// History database is optional for the api; the worker requires it.
	var hist handler.History
	var repo *history.Repository
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, history disabled: %v", err)
	} else {
		repo = history.NewRepository(db.Client)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Printf("warning: history schema: %v", err)
			repo = nil
		} else {
			hist = repo
		}
		checks["db"] = db.Healthy
	}
	defer func() { _ = db.Close() }()

	var redisClient *store.Redis
	if cfg.QueueBackend == queue.BackendRedis {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Client.Close()
		checks["redis"] = redisClient.Healthy
	}

	// The api only publishes to shared backends; the worker consumes them.
	// With the memory backend the recorder runs in-process instead.
	qopts := queue.Options{
		Backend:      cfg.QueueBackend,
		RedisKey:     cfg.QueueKey,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		MemorySize:   64,
	}
	if redisClient != nil {
		qopts.Redis = redisClient.Client
	}
	q, closeQueue, err := queue.Open(qopts)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeQueue(); err != nil {
			log.Printf("queue close: %v", err)
		}
	}()

	// background tracks goroutines that publish to the queue or write to
	// the database; they must stop before the deferred closes run.
	var background sync.WaitGroup
	defer func() {
		cancel()
		background.Wait()
	}()

	var sinks []occupancy.Sink
	switch {
	case cfg.QueueBackend != "" && cfg.QueueBackend != queue.BackendMemory:
		sinks = append(sinks, queue.Publisher{Queue: q})
	case repo != nil:
		sinks = append(sinks, queue.Publisher{Queue: q})
		background.Add(1)
		go func() {
			defer background.Done()
			if err := history.NewRecorder(repo).Run(ctx, q); err != nil {
				log.Printf("history recorder stopped: %v", err)
			}
		}()
	default:
		log.Println("history recording disabled (no database)")
	}

	dialer, err := livecount.DialerFor(cfg.LiveCountURL, cfg.MQTTClientID)
	if err != nil {
		return err
	}
	liveOpts := livecount.DefaultOptions()
	liveOpts.ReconnectDelay = cfg.ReconnectDelay
	liveOpts.AutoReconnect = cfg.AutoReconnect
	liveOpts.HandshakeTimeout = cfg.HandshakeTimeout
	liveOpts.Dialer = dialer
	liveOpts.Metrics = liveMetrics
	live := livecount.New(cfg.LiveCountURL, liveOpts)
	defer live.Close()
	live.Connect()

	gym := gymapi.New(cfg.GymAPIURL, cfg.GymAPITimeout)
	gym.DNI = cfg.GymAPIDNI
	gym.Password = cfg.GymAPIPassword
	if !cfg.GymCredentialsConfigured() {
		log.Println("gym api service account not configured; waiting for an operator login")
	}

	agg := attendance.NewAggregator(gym, cfg.DirectoryPageSize, aggMetrics)
	monitor := occupancy.NewMonitor(live, agg, occupancy.MonitorOptions{
		Interval: cfg.RefreshInterval,
		Sinks:    sinks,
		Metrics:  aggMetrics,
	})
	background.Add(1)
	go func() {
		defer background.Done()
		monitor.Run(ctx)
	}()

	var photos handler.Photos
	if cfg.CloudinaryConfigured() {
		photos = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	var accessLimiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if redisClient != nil {
		accessLimiter = httpmiddleware.NewRedisWindow(redisClient.Client, "gym:ratelimit:access", cfg.RateLimitPerMin)
	}
	loginLimiter := httpmiddleware.NewSimpleTokenBucket(10, 10)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.New(handler.Deps{
		Gym:       gym,
		Occupancy: monitor,
		Live:      live,
		History:   hist,
		Photos:    photos,
		Tokens: handler.TokenConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Checks: checks,
	})
	h.Register(r,
		httpmiddleware.Middleware(loginLimiter, httpmiddleware.ClientIP),
		httpmiddleware.Middleware(accessLimiter, httpmiddleware.OperatorOrIP),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	cancel()

	log.Println("server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
