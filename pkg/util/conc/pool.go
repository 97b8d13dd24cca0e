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
	"time"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// Pool 是对 ants.Pool 的封装。
// 任务在提交前会经过 preHandler，panic 时按 poolOption 的策略处理。
type Pool struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool 创建一个最多 cap 个 worker 的协程池。
func NewPool(cap int, opts ...PoolOption) (*Pool, error) {
	opt := defaultPoolOption()
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("invalid pool size %d: %s", cap, err.Error())
	}

	return &Pool{
		inner: pool,
		opt:   opt,
	}, nil
}

// Submit 将任务提交到协程池。
// 非阻塞模式下池满会立即返回错误，调用方可自行降级为同步执行。
func (pool *Pool) Submit(task func()) error {
	err := pool.inner.Submit(func() {
		if pool.opt.preHandler != nil {
			pool.opt.preHandler()
		}
		task()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		return merr.WrapErrServiceInternal("pool overload", err.Error())
	case errors.Is(err, ants.ErrPoolClosed):
		return merr.WrapErrServiceNotReady("pool", "closed")
	default:
		return merr.WrapErrServiceInternal(err.Error())
	}
}

// Cap 返回协程池容量。
func (pool *Pool) Cap() int {
	return pool.inner.Cap()
}

// Running 返回正在执行任务的 worker 数量。
func (pool *Pool) Running() int {
	return pool.inner.Running()
}

// Free 返回空闲 worker 数量。
func (pool *Pool) Free() int {
	return pool.inner.Free()
}

// Release 关闭协程池，已提交的任务会继续执行完成。
func (pool *Pool) Release() {
	pool.inner.Release()
}

// ReleaseTimeout 关闭协程池并等待所有 worker 退出，超时返回错误。
func (pool *Pool) ReleaseTimeout(timeout time.Duration) error {
	return pool.inner.ReleaseTimeout(timeout)
}
