package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"sidgate/internal/codec"
	"sidgate/internal/link"
	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

func newTestSession(t *testing.T) (*Session, *link.Link, *link.SimDevice) {
	ctx := context.Background()
	dev := link.NewSimDevice(link.SimConfig{ChunkSize: 16})
	cfg := pkg.DeviceConfig{
		Transport:    "sim",
		IdentityFile: filepath.Join(t.TempDir(), "identity.yaml"),
		Settle:       pkg.SettleConfig{Read: time.Millisecond, Version: time.Millisecond, ChunkTimeout: 30 * time.Millisecond},
	}
	l := link.NewWithDriver(ctx, cfg, link.NewSimDriver(dev))
	if _, err := l.RequestDevice(ctx, link.NewUserGesture("test")); err != nil {
		t.Fatal(err)
	}
	if err := l.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	return New(ctx, l), l, dev
}

func waitWriting(s *Session) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Writing {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestSingleWriterGuard(t *testing.T) {
	Convey("同一时刻只有一个命令", t, func() {
		ctx := context.Background()
		s, _, dev := newTestSession(t)
		So(s.State(), ShouldEqual, Idle)

		release := dev.Hold()
		done := make(chan error, 1)
		go func() { done <- s.SaveConfig(ctx, false) }()
		So(waitWriting(s), ShouldBeTrue)
		before := dev.WriteCount()

		Convey("写入中再次写入返回 Busy 且没有传输写入", func() {
			err := s.SetConfigItem(ctx, "led_enabled", 0)
			So(errors.Is(err, ErrBusy), ShouldBeTrue)
			So(errors.Is(s.ToggleAudio(ctx), ErrBusy), ShouldBeTrue)
			So(dev.WriteCount(), ShouldEqual, before)

			_, err = s.ReadConfig(ctx)
			So(errors.Is(err, ErrBusy), ShouldBeTrue)
			_, err = s.ReadVersion(ctx)
			So(errors.Is(err, ErrBusy), ShouldBeTrue)
			So(dev.WriteCount(), ShouldEqual, before)
			So(Status(err), ShouldEqual, "Device busy, try again in a moment")
		})

		release()
		So(<-done, ShouldBeNil)
		So(s.State(), ShouldEqual, Idle)
		So(dev.WriteCount(), ShouldEqual, before+1)

		Convey("写入完成后可以继续写", func() {
			So(s.SetConfigItem(ctx, "led_enabled", 0), ShouldBeNil)
		})
	})
}

func TestPlaybackGuard(t *testing.T) {
	Convey("播放中只允许白名单操作", t, func() {
		ctx := context.Background()
		s, l, dev := newTestSession(t)
		_, err := s.ReadConfig(ctx)
		So(err, ShouldBeNil)
		l.OnPlay(ctx)
		So(l.PlaybackActive(), ShouldBeTrue)
		before := dev.WriteCount()

		rejected := []func() error{
			func() error { return s.SetConfigItem(ctx, "led_enabled", 0) },
			func() error { return s.ApplyConfig(ctx, s.Blob()) },
			func() error { return s.SaveConfig(ctx, true) },
			func() error { return s.ResetConfig(ctx) },
			func() error { return s.ReloadConfig(ctx) },
			func() error { return s.ApplyPreset(ctx, "quad") },
			func() error { return s.RunCommand(ctx, "detect-sids") },
			func() error { return s.RunCommand(ctx, "reset-sid") },
			func() error { return s.SetClock(ctx, 1) },
			func() error { _, err := s.DetectSIDs(ctx); return err },
		}
		for _, fn := range rejected {
			err := fn()
			So(errors.Is(err, ErrPlaybackActive), ShouldBeTrue)
		}
		So(dev.WriteCount(), ShouldEqual, before)
		So(Status(ErrPlaybackActive), ShouldEqual, "Press stop playing first")
		So(s.State(), ShouldEqual, Idle)

		So(s.ToggleAudio(ctx), ShouldBeNil)
		So(s.FlipSockets(ctx), ShouldBeNil)
		So(s.ToggleMute(ctx), ShouldBeNil)
		So(s.Muted(), ShouldBeTrue)
		So(s.RunCommand(ctx, "toggle-audio"), ShouldBeNil)
		So(dev.WriteCount(), ShouldEqual, before+4)

		l.OnStop(ctx)
		So(s.SetConfigItem(ctx, "led_enabled", 0), ShouldBeNil)
	})
}

func TestClockLock(t *testing.T) {
	Convey("锁定时钟使用当前频率的 id", t, func() {
		ctx := context.Background()
		s, _, dev := newTestSession(t)

		Convey("没有读取过配置", func() {
			err := s.SetConfigItem(ctx, "clock_lock", 1)
			So(errors.Is(err, ErrNoConfig), ShouldBeTrue)
		})

		Convey("当前频率为 985248 (PAL)", func() {
			blob := regmap.DefaultBlob()
			So(regmap.EncodeField(blob, "clock_rate", 985248), ShouldBeNil)
			dev.SetBlob(blob)
			view, err := s.ReadConfig(ctx)
			So(err, ShouldBeNil)
			So(view.General.ClockRate, ShouldEqual, uint32(985248))

			So(s.SetConfigItem(ctx, "clock_lock", 1), ShouldBeNil)
			frames := dev.Frames()
			So(frames[len(frames)-1], ShouldResemble, []byte{0xD2, 0x32, 5, 1, 1, 0})

			view, err = s.View()
			So(err, ShouldBeNil)
			So(view.General.ClockLock, ShouldBeTrue)
		})

		Convey("非标准频率不能锁定", func() {
			blob := regmap.DefaultBlob()
			So(regmap.EncodeField(blob, "clock_rate", 1234567), ShouldBeNil)
			dev.SetBlob(blob)
			_, err := s.ReadConfig(ctx)
			So(err, ShouldBeNil)
			before := dev.WriteCount()
			err = s.SetConfigItem(ctx, "clock_lock", 1)
			So(errors.Is(err, regmap.ErrUnsupportedClock), ShouldBeTrue)
			So(dev.WriteCount(), ShouldEqual, before)
		})
	})
}

func TestApplyThenRead(t *testing.T) {
	Convey("ApplyConfig 之后读回的配置完全一致", t, func() {
		ctx := context.Background()
		s, _, _ := newTestSession(t)
		_, err := s.ReadConfig(ctx)
		So(err, ShouldBeNil)

		blob := s.Blob()
		blob[33] = 0xAB // 保留字节
		blob[63] = 0x5A
		So(regmap.EncodeField(blob, "led_enabled", 0), ShouldBeNil)
		So(regmap.EncodeField(blob, "socket_two_clonetype", 4), ShouldBeNil)
		So(s.ApplyConfig(ctx, blob), ShouldBeNil)
		So(s.Blob(), ShouldResemble, blob)

		view, err := s.ReadConfig(ctx)
		So(err, ShouldBeNil)
		So(view.Raw, ShouldResemble, blob)
		So(view.SocketTwo.CloneType, ShouldEqual, "FPGASID")

		Convey("格式错误的配置块不会写出", func() {
			err := s.ApplyConfig(ctx, blob[:58])
			So(errors.Is(err, codec.ErrMalformedConfigFrame), ShouldBeTrue)
		})
	})
}

func TestSetConfigItemRoundTrip(t *testing.T) {
	Convey("每个可写字段写入后读回一致", t, func() {
		ctx := context.Background()
		s, _, _ := newTestSession(t)
		_, err := s.ReadConfig(ctx)
		So(err, ShouldBeNil)

		for _, f := range regmap.Fields() {
			if !f.Writable() {
				err := s.SetConfigItem(ctx, f.Name, 0)
				So(errors.Is(err, regmap.ErrReadOnlyField), ShouldBeTrue)
				continue
			}
			want := f.Bound() - 1
			if f.Clock {
				want = 2
			}
			So(s.SetConfigItem(ctx, f.Name, want), ShouldBeNil)

			cached, err := regmap.DecodeField(s.Blob(), f.Name)
			So(err, ShouldBeNil)
			_, err = s.ReadConfig(ctx)
			So(err, ShouldBeNil)
			got, err := regmap.DecodeField(s.Blob(), f.Name)
			So(err, ShouldBeNil)
			if f.Clock {
				So(got.Raw, ShouldEqual, 1022727)
			} else {
				So(got.Raw, ShouldEqual, want)
			}
			So(cached.Raw, ShouldEqual, got.Raw)
		}
	})
}

func TestSetConfigItemErrors(t *testing.T) {
	Convey("参数错误不会产生 I/O", t, func() {
		ctx := context.Background()
		s, _, dev := newTestSession(t)
		before := dev.WriteCount()

		err := s.SetConfigItem(ctx, "socket_three_enabled", 1)
		So(errors.Is(err, regmap.ErrUnknownField), ShouldBeTrue)
		So(Status(err), ShouldEqual, "Unknown configuration item")

		err = s.SetConfigItem(ctx, "socket_one_clonetype", 6)
		So(errors.Is(err, regmap.ErrOutOfRange), ShouldBeTrue)

		err = s.SetConfigItem(ctx, "clock_rate", 1234567)
		So(errors.Is(err, regmap.ErrUnsupportedClock), ShouldBeTrue)

		err = s.ApplyPreset(ctx, "octo")
		So(errors.Is(err, ErrUnknownCommand), ShouldBeTrue)
		err = s.RunCommand(ctx, "self-destruct")
		So(errors.Is(err, ErrUnknownCommand), ShouldBeTrue)

		So(dev.WriteCount(), ShouldEqual, before)
	})
}

func TestTransportFailure(t *testing.T) {
	Convey("传输失败后回到 Idle", t, func() {
		ctx := context.Background()
		s, _, dev := newTestSession(t)
		dev.Fail(errors.New("unplugged"))

		err := s.SaveConfig(ctx, false)
		So(errors.Is(err, link.ErrTransport), ShouldBeTrue)
		So(s.State(), ShouldEqual, Idle)
		So(Status(err), ShouldEqual, "Device communication failed, reconnect and try again")

		_, err = s.ReadConfig(ctx)
		So(errors.Is(err, link.ErrTransport), ShouldBeTrue)

		dev.Fail(nil)
		So(s.SaveConfig(ctx, false), ShouldBeNil)
	})
}

func TestVersionAndPresets(t *testing.T) {
	Convey("版本和预设", t, func() {
		ctx := context.Background()
		s, _, dev := newTestSession(t)

		v, err := s.ReadVersion(ctx)
		So(err, ShouldBeNil)
		So(v, ShouldEqual, "v0.2.6-SIM")

		_, err = s.ReadConfig(ctx)
		So(err, ShouldBeNil)
		So(s.ApplyPreset(ctx, "quad"), ShouldBeNil)
		So(s.Blob(), ShouldBeNil)

		view, err := s.ReadConfig(ctx)
		So(err, ShouldBeNil)
		So(view.SocketOne.DualSID, ShouldBeTrue)
		So(view.SocketTwo.DualSID, ShouldBeTrue)
		So(view.SocketOne.ChipType, ShouldEqual, "Clone")

		view, err = s.DetectSIDs(ctx)
		So(err, ShouldBeNil)
		So(view.SocketOne.SID1Type, ShouldEqual, "MOS8580")

		So(s.SetClock(ctx, 985248), ShouldBeNil)
		So(dev.Blob()[7:10], ShouldResemble, []byte{0x0F, 0x08, 0xA0})

		So(s.RunCommand(ctx, "reset-sid"), ShouldBeNil)
		frames := dev.Frames()
		So(frames[len(frames)-1], ShouldResemble, []byte{0xCE, 1, 0})

		So(Status(nil), ShouldEqual, "OK")
	})
}
