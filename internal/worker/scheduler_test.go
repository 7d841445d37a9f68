package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"MailQueue/internal/models"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (r *countingRunner) Run(ctx context.Context) (models.RunResult, error) {
	r.runs.Add(1)
	return models.RunResult{Fetched: 1, Sent: 1}, r.err
}

func TestScheduler_RunsOnEachTick(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestScheduler_SurvivesRunErrors(t *testing.T) {
	runner := &countingRunner{err: ErrRunInProgress}
	s := NewScheduler(runner, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	assert.Eventually(t, func() bool { return runner.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
