package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoffmarket/handoff-backend/pkg/logger"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	r, err := NewRegistry(jobs...)
	require.NoError(t, err)
	return r
}

type recordingMetrics struct {
	success []string
	failure []string
}

func (r *recordingMetrics) ObserveDuration(string, time.Duration) {}
func (r *recordingMetrics) IncSuccess(job string)                 { r.success = append(r.success, job) }
func (r *recordingMetrics) IncFailure(job string)                 { r.failure = append(r.failure, job) }

func TestRunOnceRunsEveryJobEvenOnFailure(t *testing.T) {
	ok := &countingJob{name: "pickup-backfill"}
	failing := &countingJob{name: "outbox-retention", err: errors.New("boom")}
	lock := &fakeLock{}
	m := &recordingMetrics{}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, failing, ok),
		Lock:     lock,
		Metrics:  m,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, []string{"pickup-backfill"}, m.success)
	assert.Equal(t, []string{"outbox-retention"}, m.failure)
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "pickup-backfill"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{held: true},
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
}

func TestRunOnceReportsLockFailure(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger: logger.Nop(),
		Lock:   &fakeLock{acquireErr: errors.New("redis down")},
	})
	require.NoError(t, err)
	assert.Error(t, svc.RunOnce(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &countingJob{name: "pickup-backfill"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewServiceDefaults(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
	assert.Equal(t, defaultInterval, svc.jobTimeout)
	assert.NotNil(t, svc.registry)
}

type ctxCheckingLock struct {
	fakeLock
	releaseCtxErr error
}

func (c *ctxCheckingLock) Release(ctx context.Context) error {
	c.releaseCtxErr = ctx.Err()
	return c.fakeLock.Release(ctx)
}

func TestRunOnceReleasesLockAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := JobFunc("pickup-backfill", func(context.Context) error {
		cancel()
		return nil
	})
	lock := &ctxCheckingLock{}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: mustRegistry(t, job),
		Lock:     lock,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RunOnce(ctx))
	assert.Equal(t, 1, lock.releases)
	assert.NoError(t, lock.releaseCtxErr)
}

func TestRunJobAppliesTimeout(t *testing.T) {
	var deadline bool
	job := JobFunc("slow", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	svc, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   mustRegistry(t, job),
		Lock:       &fakeLock{},
		JobTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(context.Background()))
	assert.True(t, deadline)
}
