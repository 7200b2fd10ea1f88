package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"automation-service/internal/engine"
	"automation-service/internal/models"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads business event envelopes from Kafka and hands them to the
// automation engine.
type Consumer struct {
	reader *kafka.Reader
	engine *engine.Engine
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewConsumer(cfg Config, eng *engine.Engine, logger *logrus.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		engine: eng,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Consumer) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("kafka consumer started")

		for {
			msg, err := c.reader.ReadMessage(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Errorf("read message failed: %v", err)
				continue
			}

			var env struct {
				EventType  string         `json:"event_type"`
				Payload    map[string]any `json:"payload"`
				OccurredAt time.Time      `json:"occurred_at"`
			}
			if err := json.Unmarshal(msg.Value, &env); err != nil {
				c.logger.Errorf("unmarshal event failed: %v", err)
				continue
			}
			if env.EventType == "" {
				c.logger.Error("invalid event: missing event_type")
				continue
			}

			evt := models.Event{Type: env.EventType, Payload: env.Payload, OccurredAt: env.OccurredAt}
			if err := c.engine.HandleEvent(c.ctx, evt); err != nil {
				c.logger.Errorf("handle event %s failed: %v", env.EventType, err)
				continue
			}
			c.logger.Debugf("processed event %s", env.EventType)
		}
	}()
}

func (c *Consumer) Close() {
	c.cancel()
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("close kafka reader failed: %v", err)
	}
}
