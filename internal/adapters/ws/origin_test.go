package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/rosecast/pkg/logger"
)

func TestNewCheckOrigin(t *testing.T) {
	convey.Convey("Given an allow list", t, func() {
		check := NewCheckOrigin([]string{"https://app.example.com", " http://localhost:3000 "}, logger.Nop())
		req := httptest.NewRequest("GET", "/ws", nil)

		convey.Convey("Then listed origins and missing origins pass", func() {
			convey.So(check(req), convey.ShouldBeTrue)
			req.Header.Set("Origin", "https://APP.example.com")
			convey.So(check(req), convey.ShouldBeTrue)
			req.Header.Set("Origin", "http://localhost:3000")
			convey.So(check(req), convey.ShouldBeTrue)
		})

		convey.Convey("Then other origins are rejected", func() {
			req.Header.Set("Origin", "https://evil.example.com")
			convey.So(check(req), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given an empty or wildcard allow list", t, func() {
		req := httptest.NewRequest("GET", "/ws", nil)
		req.Header.Set("Origin", "https://anywhere.example.com")
		convey.So(NewCheckOrigin(nil, logger.Nop())(req), convey.ShouldBeTrue)
		convey.So(NewCheckOrigin([]string{"*"}, logger.Nop())(req), convey.ShouldBeTrue)
	})
}
