package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
	if Named("test") == nil {
		t.Fatal("named logger is nil")
	}
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		SetLevel(slog.LevelInfo)
		var buf bytes.Buffer
		log := New(&buf).Named("bus")
		ctx := context.Background()

		Convey("Info records carry fields, group and source", func() {
			log.Info(ctx, "event published", String("topic", "show-1"), Uint64("seq", 7))
			out := buf.String()
			So(out, ShouldContainSubstring, "event published")
			So(out, ShouldContainSubstring, "bus.topic=show-1")
			So(out, ShouldContainSubstring, "bus.seq=7")
			So(out, ShouldContainSubstring, "logger_test.go")
		})

		Convey("Debug is suppressed at info level", func() {
			log.Debug(ctx, "hidden")
			So(buf.String(), ShouldBeEmpty)
		})

		Convey("With attaches fields to every record", func() {
			log.With(String("connection_id", "c1")).Warn(ctx, "slow consumer", Error(errors.New("boom")))
			out := buf.String()
			So(out, ShouldContainSubstring, "connection_id=c1")
			So(out, ShouldContainSubstring, "boom")
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(SetLevelString("debug"), ShouldBeNil)
		So(levelVar.Level(), ShouldEqual, slog.LevelDebug)
		So(SetLevelString("WARNING"), ShouldBeNil)
		So(levelVar.Level(), ShouldEqual, slog.LevelWarn)
		So(SetLevelString(""), ShouldBeNil)
		So(levelVar.Level(), ShouldEqual, slog.LevelInfo)
		So(SetLevelString("loud"), ShouldNotBeNil)
	})
}
