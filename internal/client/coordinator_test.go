// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRotator counts rotations and can block until released, so tests can
// pile waiters up behind an in-flight refresh.
type fakeRotator struct {
	mu      sync.Mutex
	calls   int
	token   string
	err     error
	release chan struct{}
}

func (rotator *fakeRotator) Rotate(_ context.Context) (string, error) {
	rotator.mu.Lock()
	rotator.calls++
	release := rotator.release
	rotator.mu.Unlock()

	if release != nil {
		<-release
	}

	rotator.mu.Lock()
	defer rotator.mu.Unlock()
	if rotator.err != nil {
		return "", rotator.err
	}
	return rotator.token, nil
}

func (rotator *fakeRotator) rotations() int {
	rotator.mu.Lock()
	defer rotator.mu.Unlock()
	return rotator.calls
}

// queueLen reports the number of parked waiters, for tests that need to
// observe enqueue order deterministically.
func queueLen(coordinator *Coordinator) int {
	coordinator.mu.Lock()
	defer coordinator.mu.Unlock()
	return len(coordinator.waiters)
}

func waitForQueueLen(t *testing.T, coordinator *Coordinator, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for queueLen(coordinator) < want {
		select {
		case <-deadline:
			t.Fatalf("queue never reached %d waiters", want)
		case <-time.After(time.Millisecond):
		}
	}
}

/*
Operations that succeed, or fail for reasons other than credential expiry,
must pass straight through without touching the rotator.
*/
func TestCoordinator_PassThrough(t *testing.T) {
	rotator := &fakeRotator{token: "unused"}
	coordinator := NewCoordinator(rotator)
	coordinator.SetAccessToken("access-1")

	err := coordinator.Do(context.Background(), func(_ context.Context, accessToken string) error {
		assert.Equal(t, "access-1", accessToken)
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("contact not found")
	err = coordinator.Do(context.Background(), func(_ context.Context, _ string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, rotator.rotations(), "no rotation should have run")
	assert.Equal(t, "access-1", coordinator.AccessToken())
}

/*
Many operations hitting an expired credential at once must trigger exactly
one rotation, after which every operation is replayed with the new credential.
*/
func TestCoordinator_SingleFlight(t *testing.T) {
	const workers = 16

	rotator := &fakeRotator{token: "access-2", release: make(chan struct{})}
	coordinator := NewCoordinator(rotator)
	coordinator.SetAccessToken("access-1")

	var replayed atomic.Int32
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = coordinator.Do(context.Background(), func(_ context.Context, accessToken string) error {
				if accessToken == "access-1" {
					return ErrCredentialExpired
				}
				replayed.Add(1)
				return nil
			})
		}(i)
	}

	// Every worker ends up parked behind the blocked rotation.
	waitForQueueLen(t, coordinator, workers)
	close(rotator.release)
	wg.Wait()

	for slot, err := range results {
		require.NoError(t, err, "worker %d", slot)
	}
	assert.Equal(t, 1, rotator.rotations(), "rotation must be single-flight")
	assert.Equal(t, int32(workers), replayed.Load())
	assert.Equal(t, "access-2", coordinator.AccessToken())
}

/*
Queued operations must replay in arrival order once the rotation completes.
*/
func TestCoordinator_ReplayOrder(t *testing.T) {
	const workers = 5

	rotator := &fakeRotator{token: "access-2", release: make(chan struct{})}
	coordinator := NewCoordinator(rotator)
	coordinator.SetAccessToken("access-1")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		// Park the workers one at a time so arrival order is deterministic.
		waitForQueueLen(t, coordinator, i)
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_ = coordinator.Do(context.Background(), func(_ context.Context, accessToken string) error {
				if accessToken == "access-1" {
					return ErrCredentialExpired
				}
				mu.Lock()
				order = append(order, slot)
				mu.Unlock()
				return nil
			})
		}(i)
		waitForQueueLen(t, coordinator, i+1)
	}

	close(rotator.release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

/*
A waiter whose context expires gives up its slot without cancelling the
shared rotation; the remaining waiters still replay.
*/
func TestCoordinator_WaiterTimeout(t *testing.T) {
	rotator := &fakeRotator{token: "access-2", release: make(chan struct{})}
	coordinator := NewCoordinator(rotator)
	coordinator.SetAccessToken("access-1")

	expiredOp := func(_ context.Context, accessToken string) error {
		if accessToken == "access-1" {
			return ErrCredentialExpired
		}
		return nil
	}

	impatientCtx, cancel := context.WithCancel(context.Background())
	impatientDone := make(chan error, 1)
	go func() {
		impatientDone <- coordinator.Do(impatientCtx, expiredOp)
	}()

	var patientReplayed atomic.Bool
	patientDone := make(chan error, 1)
	go func() {
		patientDone <- coordinator.Do(context.Background(), func(ctx context.Context, accessToken string) error {
			if err := expiredOp(ctx, accessToken); err != nil {
				return err
			}
			patientReplayed.Store(true)
			return nil
		})
	}()

	waitForQueueLen(t, coordinator, 2)

	cancel()
	require.ErrorIs(t, <-impatientDone, context.Canceled)

	close(rotator.release)
	require.NoError(t, <-patientDone)
	assert.True(t, patientReplayed.Load())
	assert.Equal(t, 1, rotator.rotations())
	assert.Equal(t, "access-2", coordinator.AccessToken(), "timeout must not abort the rotation")
}

/*
A failed rotation propagates to every parked waiter and drops the stored
credential so later calls fail fast.
*/
func TestCoordinator_RotationFailure(t *testing.T) {
	const workers = 4

	rotateErr := errors.New("session invalid")
	rotator := &fakeRotator{err: rotateErr, release: make(chan struct{})}
	coordinator := NewCoordinator(rotator)
	coordinator.SetAccessToken("access-1")

	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = coordinator.Do(context.Background(), func(_ context.Context, _ string) error {
				return ErrCredentialExpired
			})
		}(i)
	}

	waitForQueueLen(t, coordinator, workers)
	close(rotator.release)
	wg.Wait()

	for slot, err := range results {
		require.ErrorIs(t, err, rotateErr, "worker %d", slot)
	}
	assert.Equal(t, "", coordinator.AccessToken(), "credential must be cleared on rotation failure")
}
