package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New[int](Settings{Name: "test", MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errBoom })
		assert.ErrorIs(t, err, errBoom)
	}

	_, err := cb.Execute(func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	errClient := errors.New("bad request")
	cb := New[int](Settings{
		Name:        "test",
		MaxFailures: 1,
		OpenTimeout: time.Minute,
		IsFailure:   func(err error) bool { return !errors.Is(err, errClient) },
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errClient })
		assert.ErrorIs(t, err, errClient)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
