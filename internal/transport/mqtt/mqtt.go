// Package mqtt implements the MQTT transport for agrivoice.
//
// MQTT suits field kiosks and low-bandwidth devices. This transport
// subscribes to the query topic (agrivoice/query/<device>) and publishes each
// result to the request's reply_to topic, or to <result_topic>/<query_id>
// when none is given. Any message on the events topic flushes the response
// cache.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nadzzz/agrivoice/internal/config"
	"github.com/nadzzz/agrivoice/internal/message"
	"github.com/nadzzz/agrivoice/internal/transport"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Request is the JSON payload accepted on the query topic.
type Request struct {
	Text          string `json:"text,omitempty"`
	Audio         []byte `json:"audio,omitempty"` // base64 in JSON
	ContentType   string `json:"content_type,omitempty"`
	Language      string `json:"language,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Response is published for every request.
type Response struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	*message.QueryResult
}

// publisher is the subset of paho.Client the transport publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg   config.MQTTConfig
	flush transport.Flusher

	client   paho.Client
	inflight sync.WaitGroup
}

// New creates a new MQTT transport. flush may be nil, in which case the
// events topic is not subscribed.
func New(cfg config.MQTTConfig, flush transport.Flusher) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = "agrivoice"
	}
	return &Transport{cfg: cfg, flush: flush}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Listen connects to the MQTT broker and subscribes to the configured topics.
// Subscriptions are restored on every reconnect.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "broker", t.cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(c paho.Client) {
			t.subscribe(ctx, c, handler)
		})

	t.client = paho.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out", t.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", t.cfg.Broker, err)
	}

	slog.Info("mqtt transport listening", "broker", t.cfg.Broker, "topic", t.cfg.QueryTopic)
	<-ctx.Done()
	return nil
}

func (t *Transport) subscribe(ctx context.Context, c paho.Client, handler transport.Handler) {
	token := c.Subscribe(t.cfg.QueryTopic, t.cfg.QoS, func(c paho.Client, m paho.Message) {
		payload, topic := m.Payload(), m.Topic()
		t.inflight.Add(1)
		go func() {
			defer t.inflight.Done()
			t.handleQuery(ctx, c, handler, topic, payload)
		}()
	})
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		slog.Error("mqtt subscribe failed", "topic", t.cfg.QueryTopic, "error", token.Error())
	}

	if t.flush == nil || t.cfg.EventsTopic == "" {
		return
	}
	token = c.Subscribe(t.cfg.EventsTopic, t.cfg.QoS, func(_ paho.Client, m paho.Message) {
		t.handleEvent(ctx, m.Topic())
	})
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		slog.Error("mqtt subscribe failed", "topic", t.cfg.EventsTopic, "error", token.Error())
	}
}

// handleQuery decodes one request, runs it, and publishes the result.
func (t *Transport) handleQuery(ctx context.Context, pub publisher, handler transport.Handler, topic string, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Warn("mqtt: discarding malformed query", "topic", topic, "error", err)
		return
	}
	if req.UserID == "" {
		req.UserID = deviceID(topic)
	}

	result := handler(ctx, &message.Query{
		Text:        req.Text,
		Audio:       req.Audio,
		ContentType: req.ContentType,
		Language:    req.Language,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Source:      "mqtt",
	})

	replyTopic := req.ReplyTo
	if replyTopic == "" {
		replyTopic = strings.TrimSuffix(t.cfg.ResultTopic, "/") + "/" + result.QueryID
	}
	data, err := json.Marshal(Response{CorrelationID: req.CorrelationID, QueryResult: result})
	if err != nil {
		slog.Error("mqtt: encoding result failed", "query_id", result.QueryID, "error", err)
		return
	}

	token := pub.Publish(replyTopic, t.cfg.QoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("mqtt publish timed out", "topic", replyTopic, "query_id", result.QueryID)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("mqtt publish failed", "topic", replyTopic, "query_id", result.QueryID, "error", err)
		return
	}
	slog.Debug("mqtt result published", "topic", replyTopic, "query_id", result.QueryID, "bytes", len(data))
}

// handleEvent flushes the response cache after documents were ingested.
func (t *Transport) handleEvent(ctx context.Context, topic string) {
	if err := t.flush(ctx); err != nil {
		slog.Error("cache flush failed", "trigger", "mqtt", "topic", topic, "error", err)
		return
	}
	slog.Info("response cache flushed", "trigger", "mqtt", "topic", topic)
}

// deviceID returns the last topic level, which identifies the sender under
// the agrivoice/query/+ convention.
func deviceID(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 || i == len(topic)-1 || strings.ContainsAny(topic[i+1:], "+#") {
		return ""
	}
	return topic[i+1:]
}

// Close waits for in-flight queries and disconnects from the broker.
func (t *Transport) Close() error {
	t.inflight.Wait()
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}
