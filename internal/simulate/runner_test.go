package simulate

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/rosecast/internal/app"
	"github.com/okian/rosecast/pkg/logger"
)

func TestRun(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given a running service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		svc := service.New(service.WithIngestShards(2))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		srv := httptest.NewServer(svc.Routes(ctx))
		defer srv.Close()

		convey.Convey("When the simulator runs against it", func() {
			stats, err := Run(ctx, &Config{
				BaseURL:     srv.URL,
				Topics:      2,
				Events:      200,
				Producers:   4,
				Subscribers: 3,
				Timeout:     5 * time.Second,
				Settle:      10 * time.Second,
				Seed:        7,
			})

			convey.Convey("Then every session sees every event in order", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stats.EventsAccepted, convey.ShouldEqual, 200)
				convey.So(stats.EventsDelivered, convey.ShouldEqual, 600)
				convey.So(stats.GapsReported, convey.ShouldEqual, 0)
			})
		})
	})
}
