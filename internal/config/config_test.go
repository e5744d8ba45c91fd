package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/okian/rosecast/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.RecentBufferSize, convey.ShouldEqual, 20)
			convey.So(cfg.OutboxCapacity, convey.ShouldEqual, 200)
			convey.So(cfg.IngestShards, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.LiveStatsInterval(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.SweepInterval(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.IdleTimeout(), convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then origins split on commas", func() {
			cfg.AllowedOrigins = " https://a.example , ,https://b.example"
			convey.So(cfg.Origins(), convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
		})
	})
}
