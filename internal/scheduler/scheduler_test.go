package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestNormalizeSpec(t *testing.T) {
	assert.Equal(t, "@every 24h", NormalizeSpec("24h"))
	assert.Equal(t, "@daily", NormalizeSpec("@daily"))
	assert.Equal(t, "0 2 * * *", NormalizeSpec(" 0 2 * * * "))
}

func TestScheduler_AddAndList(t *testing.T) {
	s := New(Options{})
	defer func() { <-s.Stop().Done() }()

	require.NoError(t, s.Add("snapshot", "@daily", RunnerFunc(func(context.Context) error { return nil })))
	require.NoError(t, s.Add("retention", "1h", RunnerFunc(func(context.Context) error { return nil })))
	s.Start()

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "retention", jobs[0].Name)
	assert.Equal(t, StatusPending, jobs[1].Status)
	require.NotNil(t, jobs[0].NextRun)

	assert.Error(t, s.Add("snapshot", "@daily", nil))
	assert.Error(t, s.Add("bad", "not a schedule", nil))

	require.NoError(t, s.Remove("retention"))
	assert.Len(t, s.Jobs(), 1)
	assert.Error(t, s.Remove("retention"))
}

func TestScheduler_RunNowRetries(t *testing.T) {
	r := new(mockRunner)
	r.On("Run", mock.Anything).Return(errors.New("locked")).Once()
	r.On("Run", mock.Anything).Return(nil).Once()

	s := New(Options{Retries: 2, RetryDelay: time.Millisecond})
	defer func() { <-s.Stop().Done() }()
	require.NoError(t, s.Add("snapshot", "@daily", r))

	require.NoError(t, s.RunNow(context.Background(), "snapshot"))
	r.AssertNumberOfCalls(t, "Run", 2)

	job := s.Jobs()[0]
	assert.Equal(t, StatusSuccess, job.Status)
	assert.NotNil(t, job.LastRun)
	assert.Empty(t, job.LastError)
}

func TestScheduler_RunNowFailure(t *testing.T) {
	r := new(mockRunner)
	r.On("Run", mock.Anything).Return(errors.New("disk full"))

	s := New(Options{Retries: 1, RetryDelay: time.Millisecond})
	defer func() { <-s.Stop().Done() }()
	require.NoError(t, s.Add("snapshot", "@daily", r))

	err := s.RunNow(context.Background(), "snapshot")
	assert.EqualError(t, err, "disk full")
	r.AssertNumberOfCalls(t, "Run", 2)

	job := s.Jobs()[0]
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "disk full", job.LastError)
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	s := New(Options{})
	defer func() { <-s.Stop().Done() }()
	require.NoError(t, s.Add("slow", "@daily", RunnerFunc(func(context.Context) error {
		close(started)
		<-release
		return nil
	})))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), ErrAlreadyRunning)
	close(release)
	assert.NoError(t, <-done)
}

func TestScheduler_StatePersistence(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC)

	s := New(Options{StateDir: dir, Now: func() time.Time { return at }})
	require.NoError(t, s.Add("snapshot", "@daily", RunnerFunc(func(context.Context) error { return nil })))
	require.NoError(t, s.RunNow(context.Background(), "snapshot"))
	<-s.Stop().Done()

	s2 := New(Options{StateDir: dir})
	defer func() { <-s2.Stop().Done() }()
	require.NoError(t, s2.Add("snapshot", "@daily", RunnerFunc(func(context.Context) error { return nil })))
	require.NoError(t, s2.Load())

	job := s2.Jobs()[0]
	assert.Equal(t, StatusSuccess, job.Status)
	require.NotNil(t, job.LastRun)
	assert.True(t, job.LastRun.Equal(at))
}

func TestScheduler_LoadWithoutState(t *testing.T) {
	s := New(Options{StateDir: t.TempDir()})
	assert.NoError(t, s.Load())
	assert.NoError(t, New(Options{}).Load())
}
