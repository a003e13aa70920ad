package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_MatchesInvalidInput(t *testing.T) {
	err := Wrap(NewValidationError("amount", "must be >= 0", -1), "store event")

	assert.True(t, Is(err, ErrInvalidInput))
	assert.False(t, Is(err, ErrStorage))

	var vErr *ValidationError
	require.True(t, As(err, &vErr))
	assert.Equal(t, "amount", vErr.Field)
}

func TestStorageError_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewStorageError("insert", "evt-1", cause)

	assert.True(t, Is(err, ErrStorage))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "evt-1")
}

func TestBatchError_ExposesItemErrors(t *testing.T) {
	err := &BatchError{
		Total: 3,
		Failed: map[int]error{
			1: NewValidationError("owner_id", "is required", ""),
		},
	}

	assert.True(t, Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "1 of 3 items failed")
}

func TestChannelDeliveryError(t *testing.T) {
	err := &ChannelDeliveryError{Channel: "slack", StatusCode: 503, Transient: true, Err: fmt.Errorf("upstream")}

	assert.True(t, Is(err, ErrChannelDelivery))
	assert.Contains(t, err.Error(), "status 503")
}

func TestMultiError(t *testing.T) {
	var m MultiError
	assert.Nil(t, m.ToError())

	m.Add(nil)
	m.Add(ErrTimeout)
	m.Add(ErrUnavailable)

	require.Error(t, m.ToError())
	assert.Contains(t, m.Error(), "multiple errors (2)")
}

func TestOwnerContext(t *testing.T) {
	_, ok := OwnerFrom(context.Background())
	assert.False(t, ok)

	id, ok := OwnerFrom(WithOwner(context.Background(), "owner-7"))
	assert.True(t, ok)
	assert.Equal(t, "owner-7", id)
}
