package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestRefTeardownOnce(t *testing.T) {
	var calls atomic.Int32
	ref := NewRef("alice", func(v string) {
		assert.Equal(t, "alice", v)
		calls.Inc()
	})

	assert.True(t, ref.Retain())
	assert.EqualValues(t, 2, ref.Count())

	assert.False(t, ref.Release())
	assert.True(t, ref.Release())
	assert.EqualValues(t, 1, calls.Load())

	// 已归零的句柄不能被复活。
	assert.False(t, ref.Retain())
	assert.EqualValues(t, 0, ref.Count())
}

func TestRefOverRelease(t *testing.T) {
	ref := NewRef(1, nil)
	assert.True(t, ref.Release())
	assert.Panics(t, func() { ref.Release() })
}

func TestRefConcurrent(t *testing.T) {
	var calls atomic.Int32
	ref := NewRef(struct{}{}, func(struct{}) { calls.Inc() })

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if ref.Retain() {
					ref.Release()
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 0, calls.Load())
	assert.True(t, ref.Release())
	assert.EqualValues(t, 1, calls.Load())
}

func TestRefRaceRetainWithFinalRelease(t *testing.T) {
	for round := 0; round < 200; round++ {
		var calls atomic.Int32
		ref := NewRef(round, func(int) { calls.Inc() })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if ref.Retain() {
				ref.Release()
			}
		}()
		go func() {
			defer wg.Done()
			ref.Release()
		}()
		wg.Wait()

		assert.EqualValues(t, 1, calls.Load())
		assert.False(t, ref.Retain())
	}
}
