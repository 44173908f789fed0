package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sidgate/internal/pkg"
)

// 初始化函数，注册 MQTT sink
func init() {
	Register("mqtt", NewMqttSink)
}

// MQTTClientInterface 定义了我们需要的 MQTT 客户端方法
type MQTTClientInterface interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MqttInfo MQTT 的专属配置
type MqttInfo struct {
	Broker         string        `mapstructure:"broker"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientID       string        `mapstructure:"clientID"`
	Topic          string        `mapstructure:"topic"` // 基础 topic, 实际发布到 <topic>/<device>
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	KeepAliveSec   uint          `mapstructure:"keepAliveSec"`
	PingTimeoutSec uint          `mapstructure:"pingTimeoutSec"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

// MqttSink 把快照以 JSON 发布到 MQTT
type MqttSink struct {
	client MQTTClientInterface
	info   MqttInfo
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (info *MqttInfo) validate() error {
	if info.Broker == "" {
		return fmt.Errorf("mqtt config validation failed: 'broker' is required")
	}
	if info.Topic == "" {
		return fmt.Errorf("mqtt config validation failed: 'topic' is required")
	}
	if info.Port == 0 {
		info.Port = 1883
	}
	if info.ClientID == "" {
		info.ClientID = fmt.Sprintf("sidgate-mqtt-%d", time.Now().UnixNano())
	}
	if info.KeepAliveSec == 0 {
		info.KeepAliveSec = 60
	}
	if info.PingTimeoutSec == 0 {
		info.PingTimeoutSec = 2
	}
	if info.PublishTimeout == 0 {
		info.PublishTimeout = 5 * time.Second
	}
	return nil
}

func newMqttSink(ctx context.Context, info MqttInfo, client MQTTClientInterface) *MqttSink {
	sinkCtx, cancel := context.WithCancel(ctx)
	return &MqttSink{
		client: client,
		info:   info,
		ctx:    sinkCtx,
		cancel: cancel,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "mqtt"), zap.String("broker", info.Broker), zap.String("base_topic", info.Topic)),
	}
}

// NewMqttSink Step.0 构造函数
func NewMqttSink(ctx context.Context) (Template, error) {
	log := pkg.LoggerFromContext(ctx)
	var info MqttInfo
	if _, err := decodePara(ctx, "mqtt", &info); err != nil {
		return nil, err
	}
	if err := info.validate(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", info.Broker, info.Port))
	opts.SetClientID(info.ClientID)
	opts.SetUsername(info.Username)
	opts.SetPassword(info.Password)
	opts.SetKeepAlive(time.Duration(info.KeepAliveSec) * time.Second)
	opts.SetPingTimeout(time.Duration(info.PingTimeoutSec) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.OnConnect = func(client mqtt.Client) {
		log.Info("MQTT connected", zap.String("broker", info.Broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Error("MQTT connection lost", zap.Error(err), zap.String("broker", info.Broker))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Error("MQTT connection failed", zap.Error(token.Error()), zap.String("broker", info.Broker))
		return nil, fmt.Errorf("mqtt connection failed for %s: %w", info.Broker, token.Error())
	}
	return newMqttSink(ctx, info, client), nil
}

// GetType Step.1
func (b *MqttSink) GetType() string {
	return "mqtt"
}

// Topic 设备对应的 topic
func (b *MqttSink) Topic(device string) string {
	if device == "" {
		device = "unknown_device"
	}
	return strings.TrimSuffix(b.info.Topic, "/") + "/" + device
}

// Start Step.2
func (b *MqttSink) Start(ch chan *pkg.Snapshot) {
	metrics := pkg.GetPerformanceMetrics()
	b.logger.Info("===MqttSink Started===")

OuterLoop:
	for {
		select {
		case <-b.ctx.Done():
			break OuterLoop
		case s, ok := <-ch:
			if !ok {
				b.logger.Info("Input channel closed, stopping MqttSink")
				break OuterLoop
			}
			if err := b.Publish(s); err != nil {
				metrics.Inc(pkg.StatErrors, "sink_mqtt")
				b.logger.Error("MQTT 发布失败", zap.Error(err), zap.String("device", s.Device))
				continue
			}
			metrics.Inc(pkg.StatSent, "sink_mqtt")
		}
	}
	b.logger.Info("===MqttSink Finished===")
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// Publish 发布一个快照, 等待 token 完成或超时
func (b *MqttSink) Publish(s *pkg.Snapshot) error {
	timer := pkg.GetPerformanceMetrics().NewTimer("mqtt_publish")
	defer timer.StopAndLog(b.logger)

	data, err := json.Marshal(payload(s))
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	topic := b.Topic(s.Device)
	token := b.client.Publish(topic, b.info.QoS, b.info.Retained, data)
	if !token.WaitTimeout(b.info.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.logger.Debug("Snapshot published", zap.String("topic", topic), zap.Int("payload_size", len(data)))
	return nil
}

// Stop 停止 MqttSink
func (b *MqttSink) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}
