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
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case relayError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(relayError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func GetErrorType(err error) ErrorType {
	if merr, ok := errors.Cause(err).(relayError); ok {
		return merr.errType
	}

	return SystemError
}

func withMsg(err error, msg ...string) error {
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Service 相关错误封装。
func WrapErrServiceNotReady(role string, state string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrServiceNotReady, state, value("role", role)), msg...)
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrServiceInternal, reason), msg...)
}

func WrapErrServiceRateLimit(rate float64, msg ...string) error {
	return withMsg(wrapFields(ErrServiceRateLimit, value("rate", rate)), msg...)
}

func WrapErrShutdownRequested(source string) error {
	return wrapFields(ErrShutdownRequested, value("source", source))
}

// Registry 相关错误封装。
func WrapErrRegistryFull(capacity int, msg ...string) error {
	return withMsg(wrapFields(ErrRegistryFull, value("capacity", capacity)), msg...)
}

// Session 相关错误封装。
func WrapErrSessionNotFound(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionNotFound, value("session", id)), msg...)
}

func WrapErrSessionClosed(id uint64, msg ...string) error {
	return withMsg(wrapFields(ErrSessionClosed, value("session", id)), msg...)
}

func WrapErrSendQueueFull(id uint64, size int, msg ...string) error {
	return withMsg(wrapFields(ErrSendQueueFull, value("session", id), value("size", size)), msg...)
}

func WrapErrSessionTimeout(id uint64, idle time.Duration, msg ...string) error {
	return withMsg(wrapFields(ErrSessionTimeout, value("session", id), value("idle", idle)), msg...)
}

// Handshake 相关错误封装。
func WrapErrNameInvalid(name string, reason string) error {
	return wrapFieldsWithDesc(ErrNameInvalid, reason, value("name", name))
}

func WrapErrRoomInvalid[T any](room T, lower, upper int) error {
	return wrapFields(ErrRoomInvalid, bound("room", room, lower, upper))
}

// Admin 相关错误封装。
func WrapErrTargetNotFound(kind string, target any, msg ...string) error {
	return withMsg(wrapFields(ErrTargetNotFound, value(kind, target)), msg...)
}

// IO related
func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

func WrapErrIoFailedReason(reason string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrIoFailed, reason), msg...)
}

func WrapErrIoUnexpectEOF(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoUnexpectEOF, err.Error(), value("key", key))
}

// Parameter related
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	return withMsg(err, msg...)
}

func WrapErrParameterInvalidRange[T any](lower, upper, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		bound("value", actual, lower, upper),
	)
	return withMsg(err, msg...)
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	return withMsg(err, msg...)
}

func WrapErrParameterTooLarge(name string, msg ...string) error {
	return withMsg(wrapFields(ErrParameterTooLarge, value("message", name)), msg...)
}

func WrapErrOperationNotSupported(op string) error {
	return wrapFields(ErrOperationNotSupported, value("operation", op))
}

func wrapFields(err relayError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err relayError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
