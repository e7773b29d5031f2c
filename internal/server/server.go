package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/taxpilot/config"
	"github.com/mohammad-safakhou/taxpilot/internal/flywheel"
	"github.com/mohammad-safakhou/taxpilot/internal/runtime"
	"github.com/mohammad-safakhou/taxpilot/internal/store"
	"github.com/mohammad-safakhou/taxpilot/internal/telemetry"
	"github.com/mohammad-safakhou/taxpilot/provider"
)

// Run wires the store, provider, engine and HTTP surface, then blocks
// serving on the configured listen address.
func Run(cfg *config.Config) error {
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	llm, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
	if err != nil {
		return err
	}

	tele := telemetry.New()
	engine := flywheel.NewEngine(st, llm, cfg.Flywheel, nil)

	e := NewEcho(baseLogger, tele)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/stats", func(c echo.Context) error { return c.JSON(http.StatusOK, tele.Snapshot()) })

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(e.Group("/api/auth"))

	api := e.Group("/api")
	api.Use(runtime.EchoAuthMiddleware(secret))
	fh := &FlywheelHandler{Engine: engine, Telemetry: tele}
	fh.Register(api)
	api.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: currentUserID(c)})
	})

	return e.Start(cfg.General.Listen)
}

// NewEcho builds the echo instance with the shared middleware stack. Split
// out from Run so handler tests can mount routes on the same surface.
func NewEcho(baseLogger *log.Logger, tele *telemetry.Telemetry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	if tele != nil {
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				err := next(c)
				code := c.Response().Status
				if he, ok := err.(*echo.HTTPError); ok {
					code = he.Code
				} else if err != nil {
					code = http.StatusInternalServerError
				}
				tele.RecordRequest(c.Request().Method, strconv.Itoa(code), code >= 400)
				return err
			}
		})
	}
	return e
}
