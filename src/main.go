package main

import (
	"context"
	"errors"
	"esm/src/boot"
	"esm/src/config"
	"esm/src/lib"
	"esm/src/middlewares"
	"esm/src/payments"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const apiPrefix = "/api/v1"

var (
	pidxPattern   = regexp.MustCompile(`^[A-Za-z0-9]{10,64}$`)
	awsOriginExpr = regexp.MustCompile(`(\w+.?)+\.amazonaws\.com$`)
)

var pidxValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	return pidxPattern.MatchString(fl.Field().String())
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("pidx", pidxValidatorFunc)
	}
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine, enabled bool) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		if enabled {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "server is under maintenance"})
			return
		}
	})
	return g
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	if cfg.APIEnv == "local" {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
	cc.AllowOriginFunc = func(origin string) bool {
		if origin == cfg.Khalti.FrontendOrigin || origin == cfg.AppHost {
			return true
		}
		return awsOriginExpr.MatchString(origin)
	}
	cc.AllowCredentials = true
	cc.AllowAllOrigins = false
	return cors.New(cc)
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	return g.Group(apiPrefix)
}

func newRouter(cfg *config.Config, conn *gorm.DB, svc *payments.Service) *gin.Engine {
	registerValidators()
	router := setupRouter()
	router.Use(corsMiddleware(cfg))
	router = maintenanceModeMiddleware(router, cfg.MaintenanceMode)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := apiv1Group(router)
	authorized.Use(middlewares.AuthMiddleware(cfg.JWTSecret, conn))
	paymentHandlers(authorized, svc)
	return router
}

func main() {
	if apiEnv := os.Getenv("API_ENV"); apiEnv == "" || apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			lib.Logger.Fatal().Err(err).Msg("error loading .env")
		}
	}
	cfg, err := config.Load()
	if err != nil {
		lib.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	lib.InitLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		lib.Logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := boot.InitDb(cfg)
	if err != nil {
		lib.Logger.Fatal().Err(err).Msg("database unavailable")
	}
	deps, err := boot.InitDeps(ctx, cfg)
	if err != nil {
		lib.Logger.Fatal().Err(err).Msg("error initializing dependencies")
	}
	defer deps.Close()

	svc := payments.NewService(conn, deps.Gateway, cfg.Khalti, deps.Options...)
	if err := boot.InitScheduler(svc, cfg.Sweeper); err != nil {
		lib.Logger.Error().Err(err).Msg("payment sweeper not scheduled")
	}
	defer boot.StopScheduler()
	boot.InitBroker(ctx, cfg, deps, svc)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, conn, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lib.Logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lib.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lib.Logger.Error().Err(err).Msg("error during shutdown")
	}
}
