// Package kafkapub fans refreshed snapshots out to a Kafka topic.
package kafkapub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/utils"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements ports.SnapshotPublisher on a Kafka topic.
type Publisher struct {
	writer messageWriter
	topic  string
	logger ports.Logger
}

var _ ports.SnapshotPublisher = (*Publisher)(nil)

// New returns a publisher writing to topic on brokers.
func New(brokers []string, topic string, logger ports.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required: %w", ports.ErrInvalidSettings)
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required: %w", ports.ErrInvalidSettings)
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same symbol/timeframe, same partition
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
		// One message per refresh; don't hold the tick for the default 1s batch window.
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newWithWriter(writer, topic, logger), nil
}

func newWithWriter(w messageWriter, topic string, logger ports.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Message is the payload published for every refreshed snapshot.
type Message struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Signal    string            `json:"signal"`
	Candles   int               `json:"candles"`
	UpdatedAt time.Time         `json:"updated_at"`
	Last      *utils.CandleView `json:"last,omitempty"`
}

// Key returns the partition key for a symbol/timeframe pair.
func Key(symbol, timeframe string) []byte {
	return []byte(symbol + "|" + timeframe)
}

// Publish writes a summary of snap keyed by symbol|timeframe.
func (p *Publisher) Publish(ctx context.Context, snap *domain.Snapshot) error {
	ds := snap.Dataset
	msg := Message{
		Symbol:    ds.Symbol,
		Timeframe: ds.Timeframe,
		Signal:    string(snap.Signal),
		Candles:   ds.Len(),
		UpdatedAt: snap.UpdatedAt.UTC(),
	}
	view := utils.NewSnapshotView(snap, domain.Status{}, "", 1, time.UTC)
	if len(view.Candles) == 1 {
		msg.Last = &view.Candles[0]
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode snapshot message: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   Key(ds.Symbol, ds.Timeframe),
		Value: value,
		Time:  snap.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("kafka publish to %s: %w: %w", p.topic, ports.ErrPublishFailed, err)
	}
	if p.logger != nil {
		p.logger.Debug(ctx, "Snapshot published", ports.Fields{"topic": p.topic, "symbol": ds.Symbol, "signal": msg.Signal})
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Nop discards snapshots; used when no brokers are configured.
type Nop struct{}

var _ ports.SnapshotPublisher = Nop{}

// Publish does nothing.
func (Nop) Publish(context.Context, *domain.Snapshot) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
