package rules

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"sidgate/internal/pkg"
	"sidgate/internal/regmap"
)

func decode(t *testing.T, mutate func(b []byte)) regmap.View {
	blob := regmap.DefaultBlob()
	if mutate != nil {
		mutate(blob)
	}
	view, err := regmap.Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	return view
}

func ruleNames(fs []Finding) []string {
	res := make([]string, 0, len(fs))
	for _, f := range fs {
		res = append(res, f.Rule)
	}
	return res
}

func TestDefaultRules(t *testing.T) {
	Convey("默认规则", t, func() {
		e, err := Compile(nil)
		So(err, ShouldBeNil)
		So(e.Len(), ShouldEqual, len(DefaultRules()))

		Convey("出厂配置没有问题", func() {
			fs, err := e.Check(decode(t, nil))
			So(err, ShouldBeNil)
			So(fs, ShouldBeEmpty)
		})

		Convey("双 SID 需要 Clone 芯片", func() {
			fs, err := e.Check(decode(t, func(b []byte) { b[11] = 1 }))
			So(err, ShouldBeNil)
			So(ruleNames(fs), ShouldContain, "socket_one_dualsid_requires_clone")
			So(fs[0].Level, ShouldEqual, LevelError)
		})

		Convey("Clone 芯片需要 clone 类型", func() {
			fs, err := e.Check(decode(t, func(b []byte) { b[23] = 1 }))
			So(err, ShouldBeNil)
			So(ruleNames(fs), ShouldResemble, []string{"socket_two_clone_requires_clonetype"})
		})

		Convey("插槽关闭时不检查", func() {
			fs, err := e.Check(decode(t, func(b []byte) { b[20] = 0; b[21] = 1 }))
			So(err, ShouldBeNil)
			So(fs, ShouldBeEmpty)
		})

		Convey("锁定非标准时钟", func() {
			fs, err := e.Check(decode(t, func(b []byte) {
				b[5] = 1
				b[7], b[8], b[9] = regmap.EncodeClockRate(1234567)
			}))
			So(err, ShouldBeNil)
			So(ruleNames(fs), ShouldResemble, []string{"clock_lock_requires_standard_rate"})
		})
	})
}

func TestConfiguredRules(t *testing.T) {
	Convey("配置中的规则", t, func() {
		Convey("追加和覆盖", func() {
			e, err := Compile([]pkg.RuleConfig{
				{Name: "midi_on", Expr: "Protocols.MIDI", Level: LevelInfo},
				{Name: "socket_one_real_has_no_clonetype", Expr: ""},
			})
			So(err, ShouldBeNil)
			So(e.Len(), ShouldEqual, len(DefaultRules()))

			fs, err := e.Check(decode(t, func(b []byte) { b[54] = 0; b[13] = 2 }))
			So(err, ShouldBeNil)
			So(ruleNames(fs), ShouldResemble, []string{"midi_on"})
			So(fs[0].Level, ShouldEqual, LevelInfo)
		})

		Convey("编译错误", func() {
			_, err := Compile([]pkg.RuleConfig{{Name: "bad", Expr: "SocketOne.Nope == 1"}})
			So(err, ShouldNotBeNil)
			_, err = Compile([]pkg.RuleConfig{{Name: "not_bool", Expr: "RGBLED.Brightness + 1"}})
			So(err, ShouldNotBeNil)
		})
	})
}
