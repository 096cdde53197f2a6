package main

import (
	"context"
	"encoding/json"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/events"
)

// MetricsSink is what the processor needs from aws.MetricsEmitter.
type MetricsSink interface {
	Emit(ctx context.Context, metrics []aws.Metric) error
}

// Processor turns order lifecycle events into CloudWatch business metrics.
type Processor struct {
	sink   MetricsSink
	logger *zap.Logger
}

func NewProcessor(sink MetricsSink, logger *zap.Logger) *Processor {
	return &Processor{sink: sink, logger: logger}
}

// Handle processes an SQS batch. Malformed messages are logged and dropped;
// they would fail the same way on every redelivery. A failed metrics write
// reports the affected messages so only they are retried.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var resp lambdaevents.SQSEventResponse
	seen := map[string]bool{}

	var batch []aws.Metric
	var batchIDs []string
	for _, rec := range ev.Records {
		msg, err := decode(rec)
		if err != nil {
			p.logger.Error("dropping malformed event", zap.String("message_id", rec.MessageId), zap.Error(err))
			continue
		}
		if seen[msg.ID] {
			p.logger.Debug("duplicate event in batch", zap.String("event_id", msg.ID))
			continue
		}
		seen[msg.ID] = true

		metrics := metricsFor(msg)
		if len(metrics) == 0 {
			p.logger.Debug("event type has no metrics", zap.String("event_type", string(msg.Type)))
			continue
		}
		batch = append(batch, metrics...)
		batchIDs = append(batchIDs, rec.MessageId)
	}

	if len(batch) == 0 {
		return resp, nil
	}
	if err := p.sink.Emit(ctx, batch); err != nil {
		p.logger.Warn("metrics emit failed; batch will be retried", zap.Int("messages", len(batchIDs)), zap.Error(err))
		for _, id := range batchIDs {
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: id})
		}
		return resp, nil
	}
	p.logger.Info("events processed", zap.Int("messages", len(batchIDs)), zap.Int("metrics", len(batch)))
	return resp, nil
}

func decode(rec lambdaevents.SQSMessage) (events.Event, error) {
	var msg events.Event
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return msg, fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ID == "" || msg.Type == "" {
		return msg, fmt.Errorf("event without id or type")
	}
	return msg, nil
}

func metricsFor(msg events.Event) []aws.Metric {
	dims := map[string]string{}
	if msg.PaymentMethod != "" {
		dims["PaymentMethod"] = msg.PaymentMethod
	}
	at := msg.OccurredAt
	value := msg.Amount.Float64()

	switch msg.Type {
	case events.OrderPlaced:
		return []aws.Metric{
			{Name: metricOrdersPlaced, Value: 1, Unit: types.StandardUnitCount, Dimensions: dims, Timestamp: at},
			{Name: metricOrderValue, Value: value, Unit: valueUnit, Dimensions: dims, Timestamp: at},
		}
	case events.PaymentCompleted:
		return []aws.Metric{
			{Name: metricPaymentsCompleted, Value: 1, Unit: types.StandardUnitCount, Dimensions: dims, Timestamp: at},
			{Name: metricRevenue, Value: value, Unit: valueUnit, Dimensions: dims, Timestamp: at},
		}
	case events.PaymentFailed:
		return []aws.Metric{
			{Name: metricPaymentsFailed, Value: 1, Unit: types.StandardUnitCount, Dimensions: dims, Timestamp: at},
		}
	case events.OrderStatusChanged:
		return []aws.Metric{
			{Name: metricOrderStatusChanges, Value: 1, Unit: types.StandardUnitCount,
				Dimensions: map[string]string{"Status": msg.Status}, Timestamp: at},
		}
	}
	return nil
}
