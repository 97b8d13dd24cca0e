// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

func TestPool(t *testing.T) {
	var pre atomic.Int32
	pool, err := NewPool(4, WithPreHandler(func() { pre.Inc() }))
	require.NoError(t, err)
	defer pool.Release()

	assert.Equal(t, 4, pool.Cap())

	var (
		wg  sync.WaitGroup
		sum atomic.Int64
	)
	for i := 1; i <= 100; i++ {
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			sum.Add(int64(i))
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.EqualValues(t, 5050, sum.Load())
	assert.EqualValues(t, 100, pre.Load())
}

func TestPoolConcealPanic(t *testing.T) {
	pool, err := NewPool(1, WithConcealPanic(true))
	require.NoError(t, err)
	defer pool.Release()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		defer close(done)
		panic("boom")
	}))
	<-done

	// 发生 panic 后协程池仍可继续使用。
	ran := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("pool stopped accepting tasks after a panic")
	}
}

func TestPoolNonBlocking(t *testing.T) {
	pool, err := NewPool(1, WithNonBlocking(true))
	require.NoError(t, err)
	defer pool.Release()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(func() { <-block }))

	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, merr.ErrServiceInternal)
	close(block)
}

func TestPoolClosed(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	pool.Release()

	err = pool.Submit(func() {})
	assert.ErrorIs(t, err, merr.ErrServiceNotReady)
}
