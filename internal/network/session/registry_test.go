package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

type RegistrySuite struct {
	suite.Suite

	reg       *Registry[string]
	finalized atomic.Int32
}

func (s *RegistrySuite) SetupTest() {
	s.reg = NewRegistry[string](3)
	s.finalized.Store(0)
}

func (s *RegistrySuite) newRef(name string) *Ref[string] {
	return NewRef(name, func(string) { s.finalized.Inc() })
}

func (s *RegistrySuite) TestInsertLookupRemove() {
	ref := s.newRef("alice")
	id, err := s.reg.Insert(ref)
	s.Require().NoError(err)
	s.True(id.Valid())
	s.EqualValues(2, ref.Count())

	got, ok := s.reg.Lookup(id)
	s.Require().True(ok)
	s.Equal("alice", got.Get())
	s.EqualValues(3, ref.Count())
	got.Release()

	s.True(s.reg.Remove(id))
	s.EqualValues(1, ref.Count())
	_, ok = s.reg.Lookup(id)
	s.False(ok)

	s.True(ref.Release())
	s.EqualValues(1, s.finalized.Load())
}

func (s *RegistrySuite) TestRemoveIdempotent() {
	ref := s.newRef("bob")
	id, err := s.reg.Insert(ref)
	s.Require().NoError(err)

	s.True(s.reg.Remove(id))
	s.False(s.reg.Remove(id))
	s.False(s.reg.Remove(SlotID{}))
	s.False(s.reg.Remove(SlotID{Index: 99, Gen: 1}))
	s.Equal(0, s.reg.Len())
	s.EqualValues(1, ref.Count())
}

func (s *RegistrySuite) TestCapacityBoundary() {
	ids := make([]SlotID, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := s.reg.Insert(s.newRef(fmt.Sprintf("u%d", i)))
		s.Require().NoError(err)
		ids = append(ids, id)
	}
	s.Equal(3, s.reg.Len())
	s.Equal(3, s.reg.Cap())

	extra := s.newRef("overflow")
	_, err := s.reg.Insert(extra)
	s.ErrorIs(err, merr.ErrRegistryFull)
	s.EqualValues(1, extra.Count())

	// 已有条目不受影响。
	for _, id := range ids {
		ref, ok := s.reg.Lookup(id)
		s.Require().True(ok)
		ref.Release()
	}

	s.True(s.reg.Remove(ids[1]))
	id, err := s.reg.Insert(extra)
	s.Require().NoError(err)
	s.Equal(ids[1].Index, id.Index)
	s.NotEqual(ids[1].Gen, id.Gen)

	// 旧的 SlotID 不会命中复用槽位上的新会话。
	_, ok := s.reg.Lookup(ids[1])
	s.False(ok)
	s.False(s.reg.Remove(ids[1]))
}

func (s *RegistrySuite) TestInsertReleasedRef() {
	ref := s.newRef("ghost")
	s.True(ref.Release())
	_, err := s.reg.Insert(ref)
	s.ErrorIs(err, merr.ErrSessionClosed)
	s.Equal(0, s.reg.Len())
}

func (s *RegistrySuite) TestSnapshotOrderAndRefs() {
	a, b, c := s.newRef("a"), s.newRef("b"), s.newRef("c")
	idA, _ := s.reg.Insert(a)
	_, _ = s.reg.Insert(b)
	_, _ = s.reg.Insert(c)
	s.reg.Remove(idA)

	snap := s.reg.Snapshot()
	s.Require().Len(snap, 2)
	s.Equal("b", snap[0].Get())
	s.Equal("c", snap[1].Get())
	s.EqualValues(3, b.Count())

	// 快照持有的引用使会话在被移出注册表后依旧可读。
	s.reg.Remove(SlotID{Index: 1, Gen: 2})
	b.Release()
	s.Equal("b", snap[0].Get())
	s.EqualValues(0, s.finalized.Load())

	ReleaseAll(snap)
	s.EqualValues(1, s.finalized.Load())
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func TestRegistryConcurrent(t *testing.T) {
	reg := NewRegistry[int](8)
	var finalized atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ref := NewRef(w*1000+i, func(int) { finalized.Inc() })
				id, err := reg.Insert(ref)
				if err == nil {
					snap := reg.Snapshot()
					ReleaseAll(snap)
					assert.True(t, reg.Remove(id))
				} else {
					assert.ErrorIs(t, err, merr.ErrRegistryFull)
				}
				ref.Release()
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 0, reg.Len())
	assert.EqualValues(t, 16*200, finalized.Load())
}

type boundItem struct {
	slot atomic.Pointer[SlotID]
}

func TestRegistryInsertWithBindsBeforeVisible(t *testing.T) {
	reg := NewRegistry[*boundItem](2)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := reg.Snapshot()
			for _, ref := range snap {
				id := ref.Get().slot.Load()
				if assert.NotNil(t, id, "snapshot saw an unbound entry") {
					assert.True(t, id.Valid())
				}
			}
			ReleaseAll(snap)
		}
	}()

	for i := 0; i < 500; i++ {
		item := &boundItem{}
		ref := NewRef(item, nil)
		id, err := reg.InsertWith(ref, func(id SlotID) { item.slot.Store(&id) })
		require.NoError(t, err)
		assert.Equal(t, id, *item.slot.Load())
		assert.True(t, reg.Remove(id))
		ref.Release()
	}
	close(stop)
	wg.Wait()

	// 注册表已满时不调用 bind。
	a, b := NewRef(&boundItem{}, nil), NewRef(&boundItem{}, nil)
	_, _ = reg.Insert(a)
	_, _ = reg.Insert(b)
	called := false
	_, err := reg.InsertWith(NewRef(&boundItem{}, nil), func(SlotID) { called = true })
	assert.ErrorIs(t, err, merr.ErrRegistryFull)
	assert.False(t, called)
}
