package link

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"sidgate/internal/codec"
	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

func newTestLink(t *testing.T) (*Link, *SimDevice) {
	dev := NewSimDevice(SimConfig{ChunkSize: 10})
	cfg := pkg.DeviceConfig{
		Transport:    "sim",
		IdentityFile: filepath.Join(t.TempDir(), "identity.yaml"),
		Settle:       pkg.SettleConfig{Read: time.Millisecond, Version: time.Millisecond, ChunkTimeout: 30 * time.Millisecond},
	}
	return NewWithDriver(context.Background(), cfg, NewSimDriver(dev)), dev
}

func TestLinkLifecycle(t *testing.T) {
	Convey("连接生命周期", t, func() {
		ctx := context.Background()
		l, dev := newTestLink(t)
		So(l.State(), ShouldEqual, Disconnected)

		Convey("没有用户操作不能发现设备", func() {
			_, err := l.RequestDevice(ctx, nil)
			So(errors.Is(err, ErrNoUserGesture), ShouldBeTrue)
			So(l.State(), ShouldEqual, Disconnected)
		})

		Convey("没有保存过设备时自动连接失败", func() {
			_, err := l.AutoConnect(ctx)
			So(errors.Is(err, ErrNoSavedIdentity), ShouldBeTrue)
		})

		Convey("未连接时写入返回 ErrNotConnected", func() {
			err := l.Write(ctx, []byte{0xCC, 0, 0})
			So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
			So(errors.Is(err, ErrTransport), ShouldBeTrue)
			So(l.Connect(ctx), ShouldNotBeNil)
		})

		Convey("交互发现 -> Found -> Connected", func() {
			id, err := l.RequestDevice(ctx, NewUserGesture("test"))
			So(err, ShouldBeNil)
			So(id.SerialNumber, ShouldEqual, "SIM0001")
			So(l.State(), ShouldEqual, Found)

			So(l.Connect(ctx), ShouldBeNil)
			So(l.State(), ShouldEqual, Connected)
			So(l.DeviceName(), ShouldEqual, "SIM0001")

			Convey("已连接时再次连接只做 flush 和清总线", func() {
				So(l.Connect(ctx), ShouldBeNil)
				frames := dev.Frames()
				So(len(frames), ShouldEqual, 1)
				So(frames[0], ShouldResemble, []byte{0xD1, 0, 0})
			})

			Convey("断开后用保存的标识重新找到设备", func() {
				So(l.Disconnect(), ShouldBeNil)
				So(l.State(), ShouldEqual, Disconnected)

				l2 := NewWithDriver(ctx, l.cfg, l.driver)
				id2, err := l2.AutoConnect(ctx)
				So(err, ShouldBeNil)
				So(id2.Same(id), ShouldBeTrue)
				So(l2.State(), ShouldEqual, Found)
				So(l2.Connect(ctx), ShouldBeNil)
			})

			Convey("Forget 之后不能自动连接", func() {
				So(l.Forget(), ShouldBeNil)
				_, err := l.AutoConnect(ctx)
				So(errors.Is(err, ErrNoSavedIdentity), ShouldBeTrue)
			})
		})
	})
}

func TestLinkExchange(t *testing.T) {
	Convey("分片读取", t, func() {
		ctx := context.Background()
		l, dev := newTestLink(t)
		_, err := l.RequestDevice(ctx, NewUserGesture("test"))
		So(err, ShouldBeNil)
		So(l.Connect(ctx), ShouldBeNil)

		Convey("配置块被拆成多个分片后重新组装", func() {
			resp, err := l.Exchange(ctx, codec.MustConfigFrame(codec.ReadConfig), l.Settling().Read, ExpectLen(regmap.BlobSize))
			So(err, ShouldBeNil)
			So(resp, ShouldResemble, dev.Blob())
		})

		Convey("版本帧按声明的长度结束", func() {
			resp, err := l.Exchange(ctx, codec.MustConfigFrame(codec.USBSIDVersion), l.Settling().Version, ExpectVersion)
			So(err, ShouldBeNil)
			v, err := codec.DecodeVersion(resp)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "v0.2.6-SIM")
		})

		Convey("没有响应时超时返回空", func() {
			resp, err := l.Exchange(ctx, codec.MustConfigFrame(codec.SaveNoReset), 0, ExpectLen(1))
			So(err, ShouldBeNil)
			So(resp, ShouldBeEmpty)
		})

		Convey("传输失败", func() {
			dev.Fail(errors.New("unplugged"))
			_, err := l.Exchange(ctx, codec.MustConfigFrame(codec.ReadConfig), 0, ExpectLen(regmap.BlobSize))
			So(errors.Is(err, ErrTransport), ShouldBeTrue)
			dev.Fail(nil)
		})
	})
}

// chunkedTransport 写入后按给定分片依次返回, 分片用完后超时
type chunkedTransport struct {
	chunks [][]byte
	next   [][]byte
}

func (c *chunkedTransport) Write(context.Context, []byte) error {
	c.next = append([][]byte(nil), c.chunks...)
	return nil
}

func (c *chunkedTransport) Read(_ context.Context, buf []byte, _ time.Duration) (int, error) {
	if len(c.next) == 0 {
		return 0, nil
	}
	n := copy(buf, c.next[0])
	c.next = c.next[1:]
	return n, nil
}

func (c *chunkedTransport) Flush() error { return nil }
func (c *chunkedTransport) Close() error { return nil }

type chunkedDriver struct{ tr *chunkedTransport }

func (d *chunkedDriver) GetType() string { return "chunked" }

func (d *chunkedDriver) Discover(context.Context) ([]Identity, error) {
	return []Identity{{Transport: "chunked", Port: "test0", SerialNumber: "CHUNK01"}}, nil
}

func (d *chunkedDriver) Open(context.Context, Identity) (Transport, error) { return d.tr, nil }

func TestExchangeTrailingPacket(t *testing.T) {
	Convey("设备多回一个包时只取完整响应", t, func() {
		ctx := context.Background()
		blob := regmap.DefaultBlob()
		stream := append(append([]byte(nil), blob...), make([]byte, regmap.BlobSize)...)
		tr := &chunkedTransport{chunks: [][]byte{stream[:40], stream[40:104], stream[104:]}}
		cfg := pkg.DeviceConfig{
			Transport:    "chunked",
			IdentityFile: filepath.Join(t.TempDir(), "identity.yaml"),
			Settle:       pkg.SettleConfig{Read: time.Millisecond, Version: time.Millisecond, ChunkTimeout: 30 * time.Millisecond},
		}
		l := NewWithDriver(ctx, cfg, &chunkedDriver{tr: tr})
		_, err := l.RequestDevice(ctx, NewUserGesture("test"))
		So(err, ShouldBeNil)
		So(l.Connect(ctx), ShouldBeNil)

		resp, err := l.Exchange(ctx, codec.MustConfigFrame(codec.ReadConfig), 0, ExpectLen(regmap.BlobSize))
		So(err, ShouldBeNil)
		So(len(resp), ShouldEqual, regmap.BlobSize)
		got, err := codec.DecodeConfig(resp)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, blob)

		Convey("版本帧后面的多余字节同样丢弃", func() {
			frame := codec.EncodeVersion("v0.2.6")
			tr.chunks = [][]byte{frame[:3], append(append([]byte(nil), frame[3:]...), 0xEE, 0xEE)}
			resp, err := l.Exchange(ctx, codec.MustConfigFrame(codec.USBSIDVersion), 0, ExpectVersion)
			So(err, ShouldBeNil)
			So(resp, ShouldResemble, frame[:2+len("v0.2.6")])
		})
	})
}

func TestPlaybackHooks(t *testing.T) {
	Convey("播放钩子", t, func() {
		ctx := context.Background()
		l, dev := newTestLink(t)
		_, _ = l.RequestDevice(ctx, NewUserGesture("test"))
		So(l.Connect(ctx), ShouldBeNil)

		l.OnPlay(ctx)
		So(l.PlaybackActive(), ShouldBeTrue)
		So(dev.Muted(), ShouldBeFalse)

		l.OnPause(ctx)
		So(l.PlaybackActive(), ShouldBeFalse)
		So(dev.Muted(), ShouldBeTrue)

		l.OnResume(ctx)
		So(l.PlaybackActive(), ShouldBeTrue)
		l.OnStop(ctx)
		So(l.PlaybackActive(), ShouldBeFalse)

		before := dev.WriteCount()
		l.OnLoad(ctx)
		frames := dev.Frames()
		So(len(frames), ShouldEqual, before+1)
		So(frames[len(frames)-1], ShouldResemble, []byte{0xCE, 1, 0})

		Convey("信号发送失败只记日志", func() {
			_ = l.Disconnect()
			l.Mute(ctx)
			l.OnPlay(ctx)
			So(l.PlaybackActive(), ShouldBeTrue)
		})
	})
}
