package command

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
	"sidgate/internal/session"
)

func testApp(t *testing.T) *App {
	dir := t.TempDir()
	cfg := &pkg.Config{Device: pkg.DeviceConfig{
		Transport:    "sim",
		IdentityFile: filepath.Join(dir, "identity.yaml"),
		Settle:       pkg.SettleConfig{Read: time.Millisecond, Version: time.Millisecond, ChunkTimeout: 30 * time.Millisecond},
	}}
	a := NewApp(&bytes.Buffer{}).WithConfig(cfg)
	t.Cleanup(a.Close)
	return a
}

func execute(a *App, args ...string) (string, error) {
	var buf bytes.Buffer
	a.out = &buf
	root := NewRootCommand(a)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	Convey("CLI 命令", t, func() {
		a := testApp(t)

		out, err := execute(a, "read")
		So(err, ShouldBeNil)
		So(out, ShouldContainSubstring, "1000000 (DEFAULT)")
		So(out, ShouldContainSubstring, "firmware: v0.2.6-SIM (supported: true)")

		Convey("按显示值修改字段", func() {
			_, err := execute(a, "set", "clock_rate", "985248", "(PAL)")
			So(err, ShouldBeNil)
			out, err := execute(a, "read")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "985248 (PAL)")

			_, err = execute(a, "set", "no_such_field", "1")
			So(errors.Is(err, regmap.ErrUnknownField), ShouldBeTrue)
		})

		Convey("字段列表", func() {
			out, err := execute(a, "fields")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "socket_one_chiptype")
			So(out, ShouldContainSubstring, "Real | Clone")
		})

		Convey("导出再导入", func() {
			file := filepath.Join(t.TempDir(), "profile.yaml")
			_, err := execute(a, "export", file)
			So(err, ShouldBeNil)
			data, err := os.ReadFile(file)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, "clock_rate: 1000000 (DEFAULT)")

			out, err := execute(a, "import", file, "--save")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "Imported and saved")
		})

		Convey("未知预设", func() {
			_, err := execute(a, "preset", "octo")
			So(errors.Is(err, session.ErrUnknownCommand), ShouldBeTrue)
			_, err = execute(a, "preset", "dual")
			So(err, ShouldBeNil)
		})

		Convey("重启保存后需要重新读取版本", func() {
			out, err := execute(a, "save", "--reboot")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "rebooting")

			_, err = execute(a, "reset")
			So(errors.Is(err, session.ErrUnsupportedFirmware), ShouldBeTrue)

			out, err = execute(a, "version")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "v0.2.6-SIM")
			_, err = execute(a, "reset")
			So(err, ShouldBeNil)
		})
	})
}
