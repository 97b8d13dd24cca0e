package session

import (
	"fmt"

	"go.uber.org/atomic"
)

// Ref 是带引用计数的句柄。
//
// 计数从 1 开始，归创建者所有。计数归零时 teardown 恰好执行一次，
// 此后 Retain 永远失败，已归零的句柄不会被复活。
type Ref[T any] struct {
	val      T
	count    atomic.Int32
	teardown func(T)
}

// NewRef 创建一个计数为 1 的句柄，teardown 可以为 nil。
func NewRef[T any](val T, teardown func(T)) *Ref[T] {
	r := &Ref[T]{
		val:      val,
		teardown: teardown,
	}
	r.count.Store(1)
	return r
}

// Get 返回句柄持有的值。调用方必须持有一个引用。
func (r *Ref[T]) Get() T {
	return r.val
}

// Retain 增加一个引用，计数已归零时返回 false。
func (r *Ref[T]) Retain() bool {
	for {
		c := r.count.Load()
		if c <= 0 {
			return false
		}
		if r.count.CompareAndSwap(c, c+1) {
			return true
		}
	}
}

// Release 释放一个引用，返回 true 表示这是最后一次释放且 teardown 已执行。
func (r *Ref[T]) Release() bool {
	n := r.count.Dec()
	switch {
	case n > 0:
		return false
	case n == 0:
		if r.teardown != nil {
			r.teardown(r.val)
		}
		return true
	default:
		panic(fmt.Sprintf("session: ref released %d times more than retained", -n))
	}
}

// Count 返回当前引用数，仅用于观测与测试。
func (r *Ref[T]) Count() int32 {
	return r.count.Load()
}

// ReleaseAll 释放 Snapshot 返回的全部引用。
func ReleaseAll[T any](refs []*Ref[T]) {
	for _, ref := range refs {
		ref.Release()
	}
}
