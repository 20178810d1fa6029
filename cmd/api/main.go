package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/config"
	"smartattend/internal/face"
	"smartattend/internal/handler"
	"smartattend/internal/httpmiddleware"
	"smartattend/internal/imagestore"
	"smartattend/internal/queue"
	"smartattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	// Persistence: Postgres by default, in-memory for local development.
	var (
		db  *store.DB
		st  attendance.Store
		err error
	)
	if cfg.StoreBackend == "memory" {
		st = attendance.NewMemoryStore()
		log.Println("using in-memory store")
	} else {
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(db.Client); err != nil {
			return err
		}
		st = attendance.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "smartattend:checkins")
	}

	// Reference photos and check-in captures go to Cloudinary when configured,
	// otherwise to local disk.
	var images imagestore.Store
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		images = imagestore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		images, err = imagestore.NewLocal(cfg.UploadDir)
		if err != nil {
			return err
		}
		log.Println("Cloudinary not configured, storing images under", cfg.UploadDir)
	}

	var model face.Model
	if cfg.FaceSkip {
		model = face.NewMockModel()
		log.Println("FACE_SKIP set: using mock face model")
	} else {
		httpModel := face.NewHTTPModel(cfg.FaceServiceURL)
		if err := httpModel.Health(context.Background()); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
		}
		model = httpModel
	}
	encoder := face.NewEncoder(model, cfg.FaceMaxConcurrent)

	verifier := attendance.NewVerifier(st, images, encoder, cfg.FaceThreshold, cfg.CooldownWindow)
	svc := attendance.NewService(st, attendance.SessionDefaults{
		Latitude:     cfg.DefaultLatitude,
		Longitude:    cfg.DefaultLongitude,
		RadiusMeters: cfg.DefaultRadiusMeters,
	})

	h := handler.New(st, svc, verifier, images, q, handler.AuthConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Gin())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db == nil || db.Healthy(c.Request.Context())
		redisHealthy := cfg.QueueBackend == "memory" || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	authed := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/checkins", h.CheckIn)
	student.PUT("/me/photo", h.UpdateReferencePhoto)

	staff := authed.Group("", auth.RequireRole(auth.RoleStaff))
	staff.POST("/subjects", h.CreateSubject)
	staff.GET("/subjects", h.ListSubjects)
	staff.POST("/sessions", h.CreateSession)
	staff.GET("/sessions", h.ListSessions)
	staff.GET("/sessions/:id", h.MonitorSession)
	staff.POST("/sessions/:id/end", h.EndSession)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
