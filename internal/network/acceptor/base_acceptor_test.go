package acceptor

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/danmu-relay-go/internal/network"
	"github.com/lk2023060901/danmu-relay-go/internal/network/session"
	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

// echoHandler 将收到的每一行转成大写写回，并记录各回调的调用情况。
type echoHandler struct {
	nextID    atomic.Uint64
	limit     int64
	live      atomic.Int64
	connected atomic.Int32
	timeouts  atomic.Int32

	mu     sync.Mutex
	closed []error
}

func (h *echoHandler) OnAccept(ctx context.Context, conn net.Conn) (*session.BaseSession, error) {
	if h.limit > 0 && h.live.Inc() > h.limit {
		h.live.Dec()
		_, _ = conn.Write([]byte("full\n"))
		return nil, merr.WrapErrRegistryFull(int(h.limit))
	}
	return session.NewBaseSession(ctx, h.nextID.Inc(), conn, session.Config{WriteTimeout: time.Second}), nil
}

func (h *echoHandler) OnConnected(sess *session.BaseSession) {
	h.connected.Inc()
	_ = sess.Send("hello")
}

func (h *echoHandler) OnMessage(sess *session.BaseSession, line string) {
	if line == "bye" {
		_ = sess.Close()
		return
	}
	_ = sess.Send(strings.ToUpper(line))
}

func (h *echoHandler) OnClosed(sess *session.BaseSession, err error) {
	_ = sess.Close()
	h.live.Dec()
	h.mu.Lock()
	h.closed = append(h.closed, err)
	h.mu.Unlock()
}

func (h *echoHandler) OnError(sess *session.BaseSession, stage network.Stage, err error) {}

func (h *echoHandler) OnTimeout(sess *session.BaseSession) error {
	h.timeouts.Inc()
	return merr.WrapErrSessionTimeout(sess.ID(), 0)
}

func (h *echoHandler) closedErrs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.closed...)
}

func startAcceptor(t *testing.T, h *echoHandler, cfg Config) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	log.SetupTestLogger(t, nil)
	a, err := NewTCPAcceptor[*session.BaseSession]("127.0.0.1:0", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, h) }()
	return a.Addr().String(), cancel, done
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	return conn, bufio.NewReader(conn)
}

func TestAcceptorEcho(t *testing.T) {
	h := &echoHandler{}
	addr, cancel, done := startAcceptor(t, h, Config{})
	defer cancel()

	conn, r := dial(t, addr)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	_, err = conn.Write([]byte("abc\r\ndef\n"))
	require.NoError(t, err)
	line, _ = r.ReadString('\n')
	assert.Equal(t, "ABC\n", line)
	line, _ = r.ReadString('\n')
	assert.Equal(t, "DEF\n", line)

	_, err = conn.Write([]byte("bye\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	assert.Error(t, err)

	require.Eventually(t, func() bool { return len(h.closedErrs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, h.closedErrs()[0])

	cancel()
	assert.NoError(t, <-done)
}

func TestAcceptorMaxLineSize(t *testing.T) {
	h := &echoHandler{}
	addr, cancel, _ := startAcceptor(t, h, Config{MaxLineSize: 4})
	defer cancel()

	conn, r := dial(t, addr)
	_, _ = r.ReadString('\n')

	_, err := conn.Write([]byte("abcdefgh\nxy\n"))
	require.NoError(t, err)
	line, _ := r.ReadString('\n')
	assert.Equal(t, "ABCD\n", line)
	line, _ = r.ReadString('\n')
	assert.Equal(t, "XY\n", line)
}

func TestAcceptorRejectsAtCapacity(t *testing.T) {
	h := &echoHandler{limit: 1}
	addr, cancel, _ := startAcceptor(t, h, Config{})
	defer cancel()

	_, r1 := dial(t, addr)
	line, _ := r1.ReadString('\n')
	assert.Equal(t, "hello\n", line)

	_, r2 := dial(t, addr)
	line, _ = r2.ReadString('\n')
	assert.Equal(t, "full\n", line)
	_, err := r2.ReadString('\n')
	assert.Error(t, err)
	assert.EqualValues(t, 1, h.connected.Load())
}

func TestAcceptorReadTimeout(t *testing.T) {
	h := &echoHandler{}
	addr, cancel, _ := startAcceptor(t, h, Config{ReadTimeout: 100 * time.Millisecond})
	defer cancel()

	_, r := dial(t, addr)
	_, _ = r.ReadString('\n')

	require.Eventually(t, func() bool { return len(h.closedErrs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.closedErrs()[0], merr.ErrSessionTimeout)
	assert.EqualValues(t, 1, h.timeouts.Load())
}

func TestAcceptorShutdownClosesSessions(t *testing.T) {
	h := &echoHandler{}
	addr, cancel, done := startAcceptor(t, h, Config{})

	_, r := dial(t, addr)
	_, _ = r.ReadString('\n')

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err := r.ReadString('\n')
	assert.Error(t, err)
	assert.Len(t, h.closedErrs(), 1)
}

func TestNewAcceptorValidation(t *testing.T) {
	_, err := NewBaseAcceptor[*session.BaseSession](nil, Config{})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	_, err = NewTCPAcceptor[*session.BaseSession]("", Config{})
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	_, err = NewTCPAcceptor[*session.BaseSession]("256.0.0.1:bad", Config{})
	assert.ErrorIs(t, err, merr.ErrIoFailed)
}
