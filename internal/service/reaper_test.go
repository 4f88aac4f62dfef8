package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"session_auth/internal/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaperSweep(t *testing.T) {
	tokens := &mocks.TokenStorage{}
	tokens.On("PurgeAllExpired", mock.Anything, fixedNow).Return(int64(5), nil).Once()

	r := &Reaper{Tokens: tokens, Log: discardLogger(), Now: func() time.Time { return fixedNow }}

	assert.EqualValues(t, 5, r.Sweep(context.Background()))
	tokens.AssertExpectations(t)
}

func TestReaperSweepError(t *testing.T) {
	tokens := &mocks.TokenStorage{}
	tokens.On("PurgeAllExpired", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

	r := &Reaper{Tokens: tokens, Log: discardLogger()}

	assert.EqualValues(t, 0, r.Sweep(context.Background()))
}

func TestReaperDisabled(t *testing.T) {
	tokens := &mocks.TokenStorage{}
	r := &Reaper{Tokens: tokens, Log: discardLogger()}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled reaper did not return")
	}
	tokens.AssertNotCalled(t, "PurgeAllExpired", mock.Anything, mock.Anything)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	tokens := &mocks.TokenStorage{}
	swept := make(chan struct{}, 1)
	tokens.On("PurgeAllExpired", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(int64(1), nil)

	r := &Reaper{Tokens: tokens, Interval: 5 * time.Millisecond, Log: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("reaper never swept")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
