package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// HTTPFunction posts the message to an external send function named after
// the notification kind, e.g. {base}/payment_success.
type HTTPFunction struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

var _ Transport = (*HTTPFunction)(nil)

func NewHTTPFunction(baseURL, apiKey string) *HTTPFunction {
	return &HTTPFunction{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPFunction) Name() string { return "http" }

func (h *HTTPFunction) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/"+string(msg.Kind), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send function %s: http %d: %s", msg.Kind, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka publishes the message for a downstream sender keyed by order number.
type Kafka struct {
	writer messageWriter
}

var _ Transport = (*Kafka)(nil)

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(msg.OrderNumber),
		Value:   data,
		Time:    msg.CreatedAt,
		Headers: []kafkago.Header{{Key: "kind", Value: []byte(msg.Kind)}},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Kind, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Log only records the message. Used when no external sender is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Name() string { return "log" }

func (l Log) Send(ctx context.Context, msg Message) error {
	l.Logger.Info("notification logged",
		"order_number", msg.OrderNumber,
		"kind", msg.Kind,
		"recipient", msg.Recipient,
		"to", msg.To,
	)
	return nil
}
