package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sidgate/internal/pkg"
)

func testSnapshot() *pkg.Snapshot {
	s := pkg.NewSnapshot("SIM0001", "v0.2.6-SIM", []byte{0x30, 1, 2})
	s.Set("led_enabled", 1, "Enabled")
	s.Set("rgbled_brightness", 127, "127")
	s.Set("socket_one_chiptype", 1, "Clone")
	return s
}

type fakeSink struct {
	typ string
	got chan *pkg.Snapshot
}

func (f *fakeSink) GetType() string { return f.typ }

func (f *fakeSink) Start(ch chan *pkg.Snapshot) {
	for s := range ch {
		f.got <- s
	}
	close(f.got)
}

func TestCollection(t *testing.T) {
	Convey("快照分发", t, func() {
		c := NewCollection(nil)

		Convey("按字段过滤", func() {
			all := &fakeSink{typ: "all", got: make(chan *pkg.Snapshot, 4)}
			led := &fakeSink{typ: "led", got: make(chan *pkg.Snapshot, 4)}
			So(c.Add(all, nil), ShouldBeNil)
			So(c.Add(led, []string{"led_.*"}), ShouldBeNil)
			So(c.Types(), ShouldResemble, []string{"all", "led"})
			c.Start()

			c.Publish(testSnapshot())
			s := <-all.got
			So(len(s.Fields), ShouldEqual, 3)
			s = <-led.got
			So(s.Fields, ShouldResemble, map[string]int{"led_enabled": 1})
			So(s.Labels, ShouldResemble, map[string]string{"led_enabled": "Enabled"})

			c.Close()
			_, ok := <-all.got
			So(ok, ShouldBeFalse)
			So(c.Len(), ShouldEqual, 0)
		})

		Convey("缓冲满时丢弃而不是阻塞", func() {
			So(c.Add(&fakeSink{typ: "stuck"}, nil), ShouldBeNil)
			before := pkg.GetPerformanceMetrics().Count(pkg.StatRejected, "sink_stuck")
			for i := 0; i < bufferSize+3; i++ {
				c.Publish(testSnapshot())
			}
			So(pkg.GetPerformanceMetrics().Count(pkg.StatRejected, "sink_stuck")-before, ShouldEqual, 3)
		})

		Convey("错误的过滤条件", func() {
			So(c.Add(&fakeSink{typ: "bad"}, []string{"("}), ShouldNotBeNil)
		})
	})
}

func TestNewFromConfig(t *testing.T) {
	Convey("按配置创建 sink", t, func() {
		cfg := &pkg.Config{Strategy: []pkg.StrategyConfig{
			{Type: "prometheus", Enable: true, Para: map[string]interface{}{"port": 0, "endpoint": "/metrics"}},
			{Type: "mqtt", Enable: false},
			{Type: "carrier-pigeon", Enable: true},
		}}
		ctx := pkg.WithConfig(context.Background(), cfg)
		c, err := New(ctx)
		So(err, ShouldBeNil)
		So(c.Types(), ShouldResemble, []string{"prometheus"})
		_, ok := c.Get("prometheus")
		So(ok, ShouldBeTrue)

		Convey("缺少必填项", func() {
			cfg.Strategy = []pkg.StrategyConfig{{Type: "kafka", Enable: true, Para: map[string]interface{}{"topic": "t"}}}
			_, err := New(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestPrometheusSink(t *testing.T) {
	Convey("prometheus sink", t, func() {
		p := newPrometheusSink(context.Background(), PrometheusInfo{})
		p.Publish(testSnapshot())

		expected := `
# HELP sidgate_config_field Raw value of a USBSID-Pico configuration field
# TYPE sidgate_config_field gauge
sidgate_config_field{device="SIM0001",field="led_enabled"} 1
sidgate_config_field{device="SIM0001",field="rgbled_brightness"} 127
sidgate_config_field{device="SIM0001",field="socket_one_chiptype"} 1
`
		So(testutil.CollectAndCompare(p.fields, strings.NewReader(expected)), ShouldBeNil)
		So(testutil.ToFloat64(p.snapshots.WithLabelValues("SIM0001")), ShouldEqual, 1)

		pkg.GetPerformanceMetrics().Inc(pkg.StatSent, "prom_test")
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		So(rec.Code, ShouldEqual, 200)
		So(string(body), ShouldContainSubstring, `sidgate_device_operations_total{op="prom_test",stat="sent"}`)
		So(string(body), ShouldContainSubstring, "sidgate_snapshots_total")
	})
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool {
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}

type fakeMqtt struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakeMqtt) Connect() mqtt.Token {
	return &fakeToken{}
}

func (f *fakeMqtt) Disconnect(uint) {}

func (f *fakeMqtt) IsConnected() bool {
	return true
}

func (f *fakeMqtt) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return &fakeToken{err: f.err}
}

func TestMqttSink(t *testing.T) {
	Convey("mqtt sink", t, func() {
		info := MqttInfo{Broker: "localhost", Topic: "sidgate/config/"}
		So(info.validate(), ShouldBeNil)
		So(info.Port, ShouldEqual, 1883)

		client := &fakeMqtt{}
		b := newMqttSink(context.Background(), info, client)
		So(b.Publish(testSnapshot()), ShouldBeNil)
		So(client.topics, ShouldResemble, []string{"sidgate/config/SIM0001"})

		var msg struct {
			Tags   map[string]string `json:"tags"`
			Fields map[string]int    `json:"fields"`
		}
		So(json.Unmarshal(client.payloads[0], &msg), ShouldBeNil)
		So(msg.Tags["device"], ShouldEqual, "SIM0001")
		So(msg.Fields["rgbled_brightness"], ShouldEqual, 127)

		client.err = errors.New("broker gone")
		So(b.Publish(testSnapshot()), ShouldNotBeNil)

		Convey("缺少 broker", func() {
			So((&MqttInfo{Topic: "x"}).validate(), ShouldNotBeNil)
		})
	})
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	Convey("kafka sink 以设备为 key", t, func() {
		w := &fakeWriter{}
		ks := newKafkaSink(context.Background(), KafkaSinkConfig{Topic: "usbsid"}, w)
		ch := make(chan *pkg.Snapshot, 1)
		ch <- testSnapshot()
		close(ch)
		ks.Start(ch)

		So(w.closed, ShouldBeTrue)
		So(len(w.msgs), ShouldEqual, 1)
		So(string(w.msgs[0].Key), ShouldEqual, "SIM0001")
		So(string(w.msgs[0].Value), ShouldContainSubstring, `"led_enabled":1`)
	})
}

func TestInfluxPoint(t *testing.T) {
	Convey("influxdb 数据点", t, func() {
		b := &InfluxDbSink{
			info:   InfluxDbInfo{Tags: []string{"socket_one_chiptype"}, Labels: true},
			ctx:    context.Background(),
			logger: pkg.LoggerFromContext(context.Background()),
		}
		p := b.Point(testSnapshot())
		So(p.Name(), ShouldEqual, influxMeasurement)

		tags := map[string]string{}
		for _, tag := range p.TagList() {
			tags[tag.Key] = tag.Value
		}
		So(tags, ShouldResemble, map[string]string{"device": "SIM0001", "version": "v0.2.6-SIM", "socket_one_chiptype": "Clone"})

		fields := map[string]interface{}{}
		for _, f := range p.FieldList() {
			fields[f.Key] = f.Value
		}
		So(fields["led_enabled"], ShouldEqual, int64(1))
		So(fields["led_enabled_label"], ShouldEqual, "Enabled")
		_, ok := fields["socket_one_chiptype"]
		So(ok, ShouldBeFalse)
	})
}

type fakeInserter struct{ docs []interface{} }

func (f *fakeInserter) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: doc.(bson.M)["_id"]}, nil
}

func TestMongoSink(t *testing.T) {
	Convey("mongodb 归档", t, func() {
		coll := &fakeInserter{}
		m := newMongoSink(context.Background(), MongoInfo{}, coll)
		s := testSnapshot()
		So(m.Archive(s), ShouldBeNil)
		So(len(coll.docs), ShouldEqual, 1)
		doc := coll.docs[0].(bson.M)
		So(doc["_id"], ShouldEqual, s.ID.String())
		So(doc["raw"], ShouldEqual, "300102")
		So(doc["device"], ShouldEqual, "SIM0001")
	})
}
