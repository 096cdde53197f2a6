package main

import "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

// metric names published per event type
const (
	metricOrdersPlaced       = "OrdersPlaced"
	metricOrderValue         = "OrderValue"
	metricPaymentsCompleted  = "PaymentsCompleted"
	metricPaymentsFailed     = "PaymentsFailed"
	metricRevenue            = "Revenue"
	metricOrderStatusChanges = "OrderStatusChanges"
)

// valueUnit is the CloudWatch unit for monetary values, which have no
// currency unit of their own.
const valueUnit = types.StandardUnitNone
