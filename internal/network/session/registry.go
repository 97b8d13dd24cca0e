package session

import (
	"fmt"
	"sync"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// SlotID 标识注册表中的一个槽位。
//
// Gen 在每次插入时递增，槽位被复用后旧的 SlotID 不会再命中新会话。
// 零值表示尚未插入。
type SlotID struct {
	Index uint32
	Gen   uint64
}

// Valid 判断该 SlotID 是否来自一次成功的 Insert。
func (id SlotID) Valid() bool {
	return id.Gen != 0
}

func (id SlotID) String() string {
	return fmt.Sprintf("%d#%d", id.Index, id.Gen)
}

type slot[T any] struct {
	ref *Ref[T]
	gen uint64
}

// Registry 是容量固定的会话槽位表。
//
// 特性：
//   - 单把互斥锁保护插入、删除、查找与快照；
//   - 每个非空槽位持有一个引用，删除时释放；
//   - 持锁期间不做任何网络 I/O，快照的调用方在解锁后再逐个发送。
type Registry[T any] struct {
	mu      sync.Mutex
	slots   []slot[T]
	size    int
	nextGen uint64
}

// NewRegistry 创建一个最多容纳 capacity 个会话的注册表。
func NewRegistry[T any](capacity int) *Registry[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry[T]{
		slots: make([]slot[T], capacity),
	}
}

// Insert 将 ref 放入编号最小的空槽位，并为注册表持有一个引用。
// 注册表已满时返回 merr.ErrRegistryFull，已有条目不受影响。
func (r *Registry[T]) Insert(ref *Ref[T]) (SlotID, error) {
	return r.InsertWith(ref, nil)
}

// InsertWith 与 Insert 相同，但在持锁期间以新的 SlotID 调用 bind。
// 任何 Snapshot 或 Lookup 拿到该 ref 时，bind 都已执行完毕。
// bind 不得回调注册表。
func (r *Registry[T]) InsertWith(ref *Ref[T], bind func(SlotID)) (SlotID, error) {
	if ref == nil {
		return SlotID{}, merr.WrapErrParameterMissing("ref")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.slots) {
		return SlotID{}, merr.WrapErrRegistryFull(len(r.slots))
	}
	if !ref.Retain() {
		return SlotID{}, merr.WrapErrSessionClosed(0, "insert released ref")
	}

	for i := range r.slots {
		if r.slots[i].ref != nil {
			continue
		}
		r.nextGen++
		id := SlotID{Index: uint32(i), Gen: r.nextGen}
		if bind != nil {
			bind(id)
		}
		r.slots[i] = slot[T]{ref: ref, gen: id.Gen}
		r.size++
		return id, nil
	}
	// size 与槽位不一致，不可能发生。
	ref.Release()
	return SlotID{}, merr.WrapErrServiceInternal("registry slots out of sync")
}

// Lookup 返回 id 对应的会话引用，调用方用完后必须 Release。
func (r *Registry[T]) Lookup(id SlotID) (*Ref[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slotLocked(id)
	if !ok || !s.ref.Retain() {
		return nil, false
	}
	return s.ref, true
}

// Remove 清空 id 对应的槽位并释放注册表的引用。
// 对已清空或过期的 id 调用是无操作，返回 false。
func (r *Registry[T]) Remove(id SlotID) bool {
	r.mu.Lock()
	s, ok := r.slotLocked(id)
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.slots[id.Index] = slot[T]{}
	r.size--
	r.mu.Unlock()

	// teardown 可能记录日志，放到锁外执行。
	s.ref.Release()
	return true
}

// Snapshot 按槽位顺序返回当前全部会话的引用。
// 调用方处理完后必须调用 ReleaseAll。
func (r *Registry[T]) Snapshot() []*Ref[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := make([]*Ref[T], 0, r.size)
	for i := range r.slots {
		ref := r.slots[i].ref
		if ref != nil && ref.Retain() {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Len 返回当前已占用的槽位数。
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap 返回注册表容量。
func (r *Registry[T]) Cap() int {
	return len(r.slots)
}

func (r *Registry[T]) slotLocked(id SlotID) (slot[T], bool) {
	if !id.Valid() || int(id.Index) >= len(r.slots) {
		return slot[T]{}, false
	}
	s := r.slots[id.Index]
	if s.ref == nil || s.gen != id.Gen {
		return slot[T]{}, false
	}
	return s, true
}
