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

package merr

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound(1)
	errors.Wrap(err, "failed to kick session")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newRelayError("new error", ErrSessionNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("acceptor", "binding"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)
	s.ErrorIs(WrapErrServiceRateLimit(20, "too chatty"), ErrServiceRateLimit)
	s.ErrorIs(WrapErrShutdownRequested("admin"), ErrShutdownRequested)

	// Registry 与 Session 相关错误。
	s.ErrorIs(WrapErrRegistryFull(10), ErrRegistryFull)
	s.ErrorIs(WrapErrSessionNotFound("alice", "kick"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionClosed(3), ErrSessionClosed)
	s.ErrorIs(WrapErrSendQueueFull(3, 256), ErrSendQueueFull)
	s.ErrorIs(WrapErrSessionTimeout(3, time.Minute), ErrSessionTimeout)

	// 握手与管理相关错误。
	s.ErrorIs(WrapErrNameInvalid("", "empty"), ErrNameInvalid)
	s.ErrorIs(WrapErrRoomInvalid("9", 1, 5), ErrRoomInvalid)
	s.ErrorIs(WrapErrTargetNotFound("room", 4), ErrTargetNotFound)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoFailed("chatlog", os.ErrClosed), ErrIoFailed)
	s.ErrorIs(WrapErrIoFailedReason("disk full"), ErrIoFailed)
	s.ErrorIs(WrapErrIoUnexpectEOF("conn", os.ErrClosed), ErrIoUnexpectEOF)
	s.NoError(WrapErrIoFailed("chatlog", nil))

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid(8, 1, "failed to create"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidRange(1, 5, 0, "room should be in range"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad %s", "pattern"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("pattern", "grep needs a pattern"), ErrParameterMissing)
	s.ErrorIs(WrapErrParameterTooLarge("line"), ErrParameterTooLarge)
	s.ErrorIs(WrapErrOperationNotSupported("rename"), ErrOperationNotSupported)
}

func (s *ErrSuite) TestMessageFields() {
	err := WrapErrRoomInvalid("9", 1, 5)
	s.Equal("invalid room[9 out of range 1 <= room <= 5]", err.Error())

	err = WrapErrNameInvalid("a\tb", "control character")
	s.Equal("invalid display name[name=a\tb]: control character", err.Error())
}

func (s *ErrSuite) TestRetryableAndType() {
	s.True(IsRetryableErr(WrapErrRegistryFull(10)))
	s.True(IsRetryableErr(errors.Wrap(WrapErrSendQueueFull(1, 1), "enqueue")))
	s.False(IsRetryableErr(ErrSessionClosed))
	s.False(IsRetryableErr(errors.New("plain")))

	s.Equal(InputError, GetErrorType(ErrRoomInvalid))
	s.Equal(InputError, GetErrorType(WrapErrTargetNotFound("user", "bob")))
	s.Equal(SystemError, GetErrorType(ErrIoFailed))
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.DeadlineExceeded, "read")))
	s.False(IsCanceledOrTimeout(ErrSessionTimeout))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrTargetNotFound("room", 1), WrapErrSessionNotFound(1))
	s.Equal(Code(ErrSessionNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
