// Package telemetry exports accepted node readings to Kafka for downstream
// analytics. The exporter is a plain store subscriber; losing it never
// affects command handling or balancing.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/justinkk04/BLE-mesh-networking-sub001/common"
	"github.com/justinkk04/BLE-mesh-networking-sub001/state"
)

type Exporter struct {
	writer *kafka.Writer
	store  *state.Store
	log    *slog.Logger
}

func NewExporter(cfg common.KafkaConfig, store *state.Store, log *slog.Logger) *Exporter {
	return &Exporter{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
		store: store,
		log:   log.With("component", "telemetry"),
	}
}

// Run forwards readings until the context is cancelled. Messages are keyed
// by node id so per-node ordering survives partitioning.
func (e *Exporter) Run(ctx context.Context) error {
	sub := e.store.Subscribe()
	defer e.store.Unsubscribe(sub)
	defer e.writer.Close()

	e.log.Info("kafka exporter started", "topic", e.writer.Topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case reading := <-sub:
			value, err := json.Marshal(reading)
			if err != nil {
				e.log.Warn("marshal reading", "error", err)
				continue
			}
			msg := kafka.Message{
				Key:   []byte(strconv.Itoa(reading.NodeID)),
				Value: value,
			}
			if err := e.writer.WriteMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.log.Warn("kafka write failed", "node", reading.NodeID, "error", err)
			}
		}
	}
}
