package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := InitWith(&bytes.Buffer{}, "xml")

			Convey("Then it reports an error", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, "json"), ShouldBeNil)
		defer func() { _ = Init() }()
		ctx := context.Background()

		Convey("When logging with fields", func() {
			Get().Info(ctx, "room created", Room("r1"), User("u1"), Int("players", 3))

			Convey("Then the fields appear in the output", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, `"msg":"room created"`)
				So(out, ShouldContainSubstring, `"room":"r1"`)
				So(out, ShouldContainSubstring, `"uid":"u1"`)
				So(out, ShouldContainSubstring, `"source"`)
			})
		})

		Convey("When the level filters a message", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			defer func() { _ = SetLevelString("info") }()
			Get().Info(ctx, "hidden")
			Get().Warn(ctx, "shown", Error(errors.New("boom")))

			Convey("Then only the enabled level is written", func() {
				So(buf.String(), ShouldNotContainSubstring, "hidden")
				So(buf.String(), ShouldContainSubstring, "shown")
			})
		})

		Convey("When using Named and With", func() {
			Named("app").With(Room("r9")).Info(ctx, "scoped")

			Convey("Then the group and bound fields are present", func() {
				So(buf.String(), ShouldContainSubstring, `"app"`)
				So(buf.String(), ShouldContainSubstring, "r9")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		for _, lvl := range []string{"debug", "info", "", "warn", "warning", "error", " DEBUG "} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
		_ = SetLevelString("info")
	})
}

func TestNop(t *testing.T) {
	Convey("Given a nop logger", t, func() {
		l := Nop()
		So(func() { l.Info(context.Background(), "x", String("k", "v")) }, ShouldNotPanic)
		So(func() { l.Named("n").Debug(nil, "y") }, ShouldNotPanic) //nolint:staticcheck // nil ctx tolerated
	})
}
