package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunsImmediatelyAndOnTick(t *testing.T) {
	var runs atomic.Int32
	w := New("test", func(context.Context) error {
		runs.Add(1)
		return nil
	}).WithInterval(10 * time.Millisecond)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w := New("test", func(context.Context) error { return nil })
	stop := w.Run(context.Background())
	stop()
	stop()
	<-w.Done()
}

func TestWorker_SurvivesFailuresAndPanics(t *testing.T) {
	var runs atomic.Int32
	w := New("test", func(context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-w.Done()
}

func TestWorker_ProcessOnce(t *testing.T) {
	boom := errors.New("boom")
	w := New("test", func(context.Context) error { return boom })
	assert.ErrorIs(t, w.ProcessOnce(context.Background()), boom)
	assert.Equal(t, "Worker(test, interval=10s)", w.String())
}

func TestScheduler_RejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(context.Background())
	err := s.Add("reconciliation", "not a spec", func(context.Context) error { return nil })
	require.Error(t, err)

	require.NoError(t, s.Add("reconciliation", "*/5 * * * *", func(context.Context) error { return nil }))
	s.Start()
	<-s.Stop().Done()
}
