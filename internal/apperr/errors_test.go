package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errStock = Conflict("insufficient stock")

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("place order: %w", errStock)

	assert.True(t, errors.Is(err, errStock))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "insufficient stock", Message(err))
	assert.False(t, Retryable(err))
}

func TestUnavailableIsRetryable(t *testing.T) {
	err := fmt.Errorf("create intent: %w", Unavailable("payment gateway unavailable", context.DeadlineExceeded))

	assert.True(t, Retryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", Message(errors.New("boom")))
}
