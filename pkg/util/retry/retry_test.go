// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

func TestDo(t *testing.T) {
	ctx := context.Background()

	n := 0
	testFn := func() error {
		if n < 3 {
			n++
			return errors.New("some error")
		}
		return nil
	}

	err := Do(ctx, testFn, Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAttempts(t *testing.T) {
	ctx := context.Background()

	calls := 0
	testFn := func() error {
		calls++
		return errors.New("some error")
	}

	err := Do(ctx, testFn, Attempts(2), Sleep(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnrecoverable(t *testing.T) {
	ctx := context.Background()

	calls := 0
	testFn := func() error {
		calls++
		return Unrecoverable(errors.New("bind: permission denied"))
	}

	err := Do(ctx, testFn, Sleep(time.Millisecond))
	assert.Error(t, err)
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, 1, calls)
}

func TestRetryErr(t *testing.T) {
	ctx := context.Background()

	calls := 0
	testFn := func() error {
		calls++
		return merr.WrapErrIoFailedReason("address in use")
	}

	err := Do(ctx, testFn, Sleep(time.Millisecond), RetryErr(merr.IsRetryableErr))
	assert.ErrorIs(t, err, merr.ErrIoFailed)
	assert.Equal(t, 1, calls)
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = Do(ctx, func() error { return errors.New("busy") }, Attempts(0), Sleep(20*time.Millisecond))
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Handle(ctx, func() (bool, error) {
		calls++
		if calls < 2 {
			return true, errors.New("retry me")
		}
		return false, nil
	}, Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	err = Handle(ctx, func() (bool, error) {
		return false, errors.New("stop")
	}, Sleep(time.Millisecond))
	assert.EqualError(t, err, "stop")
}
