package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/rosecast/internal/app"
	"github.com/okian/rosecast/internal/config"
	"github.com/okian/rosecast/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("ROSECAST_ADDR", ":8080")
			_ = os.Setenv("ROSECAST_INGEST_QUEUE_SIZE", "1000")
			_ = os.Setenv("ROSECAST_INGEST_SHARDS", "4")
			defer func() {
				_ = os.Unsetenv("ROSECAST_ADDR")
				_ = os.Unsetenv("ROSECAST_INGEST_QUEUE_SIZE")
				_ = os.Unsetenv("ROSECAST_INGEST_SHARDS")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.IngestQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.IngestShards, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When building the HTTP server", func() {
			ctx := context.Background()
			cfg := config.New()
			svc := app.New(app.WithConfig(cfg))
			srv := newServer(ctx, cfg, svc)

			convey.Convey("Then it listens on the configured address", func() {
				convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
				convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
			})

			convey.Convey("And it serves the health check", func() {
				rec := httptest.NewRecorder()
				srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When updating system metrics", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("When the root context is already cancelled", func() {
			_ = os.Setenv("ROSECAST_ADDR", "127.0.0.1:0")
			defer func() { _ = os.Unsetenv("ROSECAST_ADDR") }()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				convey.So(run(ctx), convey.ShouldBeNil)
			})
		})
	})
}
