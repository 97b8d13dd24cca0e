package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-relay-go/internal/chatlog"
	"github.com/lk2023060901/danmu-relay-go/internal/router"
	"github.com/lk2023060901/danmu-relay-go/pkg/log"
	"github.com/lk2023060901/danmu-relay-go/pkg/metrics"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

const pendingName = "<pending>"

const adminHelp = `commands:
  list                 show connected users and room occupancy
  kill <name>          disconnect the first user with that name
  kill room <id>       disconnect every user in a room
  grep -r <pattern>    search today's chat log
  help                 show this message
  exit | ...           stop the server
anything else is announced to every connected user`

// Admin 是运维控制台，按行读取命令并作用于 Hub。
type Admin struct {
	log.Binder

	hub    *Hub
	sink   chatlog.Sink
	router router.Router
}

// NewAdmin 创建控制台。sink 用于 grep，为空时搜索总是无结果。
func NewAdmin(hub *Hub, sink chatlog.Sink) *Admin {
	if sink == nil {
		sink = chatlog.Nop{}
	}
	a := &Admin{hub: hub, sink: sink, router: router.New()}
	a.SetLogger(log.With(log.FieldModule("relay"), log.FieldComponent("admin")))
	a.registerCommands()
	return a
}

func (a *Admin) registerCommands() {
	routes := []struct {
		pattern string
		route   router.Route
	}{
		{"exit", router.Route{Name: "exit", Exact: true, Handler: a.exit}},
		{"...", router.Route{Name: "exit", Exact: true, Handler: a.exit}},
		{"list", router.Route{Exact: true, Handler: a.list}},
		{"help", router.Route{Exact: true, Handler: a.help}},
		{"kill room", router.Route{Name: "kill_room", Handler: a.killRoom}},
		{"kill", router.Route{MinArgs: 1, Handler: a.kill}},
		{"grep -r", router.Route{Name: "grep", MinArgs: 1, Handler: a.grep}},
	}
	for _, r := range routes {
		if err := a.router.Register(r.pattern, r.route); err != nil {
			panic(err)
		}
	}
	a.router.SetFallback("announce", a.announce)
}

// Run 从 in 逐行读取命令并把结果写到 out。
//
// 收到 exit 或 ... 时返回 merr.ErrShutdownRequested；in 读到 EOF 或 ctx
// 取消时返回 nil，此时服务继续运行与否由调用方决定。
func (a *Admin) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return merr.WrapErrIoFailed("admin input", err)
					}
				default:
				}
				a.Logger().Info("admin input closed")
				return nil
			}
			if err := a.Execute(line, out); err != nil {
				return err
			}
		}
	}
}

// Execute 执行一条命令。只有 exit 与 ... 返回错误，其余失败写到 out。
func (a *Admin) Execute(line string, out io.Writer) error {
	name, err := a.router.Handle(line, out)
	if name != "" {
		metrics.AdminCommands.WithLabelValues(name).Inc()
	}
	return err
}

func (a *Admin) exit(string, io.Writer) error {
	a.Logger().Info("shutdown requested from console")
	return merr.WrapErrShutdownRequested("admin console")
}

func (a *Admin) help(_ string, out io.Writer) error {
	fmt.Fprintln(out, adminHelp)
	return nil
}

func (a *Admin) announce(line string, out io.Writer) error {
	n := a.hub.Announce(line)
	fmt.Fprintf(out, "announced to %d user(s)\n", n)
	return nil
}

func (a *Admin) list(_ string, out io.Writer) error {
	for _, info := range a.hub.Sessions() {
		name := info.Name
		if info.State == StateAwaitingName {
			name = pendingName
		}
		fmt.Fprintf(out, "User: %s, Room: %d\n", name, info.Room)
	}
	for i, n := range a.hub.RoomCounts() {
		fmt.Fprintf(out, "Room %d: %d\n", i+1, n)
	}
	return nil
}

func (a *Admin) kill(name string, out io.Writer) error {
	if !a.hub.KickByName(name) {
		err := merr.WrapErrTargetNotFound("user", name)
		fmt.Fprintf(out, "error: %v\n", err)
		return nil
	}
	a.Logger().Info("user kicked", log.FieldUser(name))
	fmt.Fprintf(out, "kicked %s\n", name)
	return nil
}

func (a *Admin) killRoom(arg string, out io.Writer) error {
	room, err := ParseRoom(arg, a.hub.Config().Rooms)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return nil
	}
	n := a.hub.CloseRoom(room)
	a.Logger().Info("room closed", log.FieldRoom(uint32(room)), zap.Int("kicked", n))
	fmt.Fprintf(out, "closed room %d, %d user(s) kicked\n", room, n)
	return nil
}

func (a *Admin) grep(pattern string, out io.Writer) error {
	matches, err := a.sink.Search(pattern)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return nil
	}
	if len(matches) == 0 {
		fmt.Fprintln(out, "no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Fprintln(out, m)
	}
	return nil
}
