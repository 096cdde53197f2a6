// Package store holds helpers shared by the DynamoDB-backed stores.
package store

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// IsConditionFailed reports whether err is a failed ConditionExpression on a
// single-item write.
func IsConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

// CancellationCodes returns the per-item reason codes of a cancelled
// transaction, in request order. ok is false for any other error.
func CancellationCodes(err error) (codes []string, ok bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	codes = make([]string, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		codes[i] = aws.ToString(r.Code)
	}
	return codes, true
}

// ConditionFailedAt reports whether the transaction item at index i failed its
// condition.
func ConditionFailedAt(codes []string, i int) bool {
	return i >= 0 && i < len(codes) && codes[i] == "ConditionalCheckFailed"
}

// HasConflict reports whether any item of a cancelled transaction collided
// with another in-flight transaction. Such a transaction may succeed when
// retried.
func HasConflict(codes []string) bool {
	for _, c := range codes {
		if c == "TransactionConflict" {
			return true
		}
	}
	return false
}

func String(s string) *string { return &s }

func Bool(b bool) *bool { return &b }
