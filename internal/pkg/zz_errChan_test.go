package pkg

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrChan(t *testing.T) {
	Convey("context 上的错误通道", t, func() {
		errChan := make(chan error, 1)
		ctx := WithErrChan(context.Background(), errChan)
		So(ErrChanFromContext(ctx), ShouldNotBeNil)
		So(ErrChanFromContext(context.Background()), ShouldBeNil)

		Convey("ReportErr 不会阻塞", func() {
			first := errors.New("admin http server: address in use")
			ReportErr(ctx, first)

			done := make(chan struct{})
			go func() {
				ReportErr(ctx, errors.New("prometheus http server: closed")) // 通道已满, 丢弃
				ReportErr(ctx, nil)
				ReportErr(context.Background(), errors.New("没有通道"))
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("ReportErr 被阻塞")
			}
			So(<-errChan, ShouldEqual, first)
		})

		Convey("丢弃时写一条警告", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			ctx := WithLogger(ctx, zap.New(core))
			ReportErr(ctx, errors.New("a"))
			ReportErr(ctx, errors.New("b"))
			So(logs.FilterMessage("错误通道已满, 丢弃错误").Len(), ShouldEqual, 1)
		})
	})
}

func TestContextValues(t *testing.T) {
	Convey("logger 和配置", t, func() {
		ctx := context.Background()
		So(LoggerFromContext(ctx), ShouldNotBeNil)
		So(ConfigFromContext(ctx).Device.Transport, ShouldEqual, "")

		core, logs := observer.New(zapcore.InfoLevel)
		ctx = WithLoggerAndModule(ctx, zap.New(core), "Link")
		LoggerFromContext(ctx).Info("设备已连接")
		So(logs.Len(), ShouldEqual, 1)
		So(logs.All()[0].ContextMap()["module"], ShouldEqual, "Link")

		cfg := &Config{Device: DeviceConfig{Transport: "sim"}}
		So(ConfigFromContext(WithConfig(ctx, cfg)), ShouldEqual, cfg)
	})
}
