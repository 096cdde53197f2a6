package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// Metric is a single business measurement with optional dimensions.
type Metric struct {
	Name       string
	Value      float64
	Unit       cwtypes.StandardUnit
	Dimensions map[string]string
	Timestamp  time.Time
}

// MetricsEmitter writes metrics to a CloudWatch namespace.
type MetricsEmitter struct {
	CloudWatch CloudWatchAPI
	Namespace  string
}

func NewMetricsEmitter(cw CloudWatchAPI, namespace string) *MetricsEmitter {
	return &MetricsEmitter{CloudWatch: cw, Namespace: namespace}
}

// Emit sends metrics in batches.
func (m *MetricsEmitter) Emit(ctx context.Context, metrics []Metric) error {
	for start := 0; start < len(metrics); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(metrics) {
			end = len(metrics)
		}
		data := make([]cwtypes.MetricDatum, 0, end-start)
		for _, mt := range metrics[start:end] {
			data = append(data, toDatum(mt))
		}
		_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  awsString(m.Namespace),
			MetricData: data,
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}
	return nil
}

func toDatum(mt Metric) cwtypes.MetricDatum {
	value := mt.Value
	unit := mt.Unit
	if unit == "" {
		unit = cwtypes.StandardUnitCount
	}
	ts := mt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	d := cwtypes.MetricDatum{
		MetricName: awsString(mt.Name),
		Value:      &value,
		Unit:       unit,
		Timestamp:  &ts,
	}
	for k, v := range mt.Dimensions {
		d.Dimensions = append(d.Dimensions, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
	}
	return d
}
