// Package emitter 把统计结果镜像到 MQTT
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/bridge"
	"github.com/getcharzp/sam2-td/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTT 统计发布者, 实现 bridge.Reporter
type MQTT struct {
	client mqtt.Client
	topic  string
	runID  string
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

// Message 发布到 MQTT 的消息体
type Message struct {
	RunID string `json:"run_id"`
	bridge.Report
}

// NewMQTT 连接 broker, 断线后自动重连
func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker 不能为空")
	}
	runID := uuid.NewString()
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sam2-td-" + runID[:8]
	}

	e := &MQTT{topic: cfg.Topic, runID: runID, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		logger.Info("MQTT 已连接", zap.String("broker", cfg.Broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		logger.Warn("MQTT 连接断开, 等待自动重连", zap.Error(err))
	}

	e.client = mqtt.NewClient(opts)
	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		e.client.Disconnect(0)
		return nil, fmt.Errorf("MQTT 连接超时: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT 连接失败: %w", err)
	}
	return e, nil
}

// brokerURL 没有协议前缀时补全 tcp://
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

// Publish 以 JSON 发布统计结果, QoS 0
func (e *MQTT) Publish(ctx context.Context, r bridge.Report) error {
	payload, err := Encode(e.runID, r)
	if err != nil {
		return err
	}
	e.mu.Lock()
	connected := e.connected
	e.mu.Unlock()
	if !connected {
		return fmt.Errorf("MQTT 未连接")
	}

	token := e.client.Publish(e.topic, 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("MQTT 发布超时")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT 发布失败: %w", err)
	}
	return nil
}

// Encode 序列化消息体
func Encode(runID string, r bridge.Report) ([]byte, error) {
	if r.Masks == nil {
		r.Masks = []bridge.MaskStat{}
	}
	b, err := json.Marshal(Message{RunID: runID, Report: r})
	if err != nil {
		return nil, fmt.Errorf("序列化统计失败: %w", err)
	}
	return b, nil
}

// Close 断开连接
func (e *MQTT) Close() error {
	e.client.Disconnect(250)
	e.setConnected(false)
	return nil
}
