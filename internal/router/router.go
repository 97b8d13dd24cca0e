package router

import (
	"io"
	"sort"
	"strings"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
	"github.com/lk2023060901/danmu-relay-go/pkg/util/typeutil"
)

// Handler 是一条命令的处理函数。
//
// 说明：
//   - args：命令词之后的剩余部分，已去掉首尾空白，内部空白原样保留；
//   - out ：命令输出；
//   - 返回的错误原样交给调用方，由调用方决定是否中止读取循环。
type Handler func(args string, out io.Writer) error

// Route 描述一条路由规则：命令词 -> 处理函数。
type Route struct {
	// Name 为路由名，用于指标标签与日志，为空时使用命令词本身。
	Name string

	// Handler 为处理函数，不能为空。
	Handler Handler

	// Exact 为 true 时命令词之后不允许再有内容，否则视为未匹配。
	Exact bool

	// MinArgs 为要求的最少参数个数（按空白切分），不足时视为未匹配。
	MinArgs int
}

// Router 维护命令词到路由规则的映射，并负责把一行输入分派给对应的 Handler。
//
// 命令词可以由多个词组成（例如 "kill room"），匹配时选择最长的命令词，
// 因此 "kill room 3" 命中 "kill room" 而不是 "kill"。
// 没有命中任何命令时交给 fallback。
//
// Register 与 SetFallback 应在开始 Handle 之前完成，之后 Router 只读，可并发使用。
type Router interface {
	// Register 为命令词 pattern 注册一条路由规则。
	//
	// 同一命令词不允许重复注册，重复时返回错误。
	Register(pattern string, route Route) error

	// SetFallback 设置未命中任何命令时的处理函数，args 为整行输入。
	SetFallback(name string, h Handler)

	// Handle 处理一行输入，返回命中的路由名。
	//
	// 空行不做任何处理，返回空路由名。
	Handle(line string, out io.Writer) (string, error)
}

type entry struct {
	words []string
	route Route
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	patterns     typeutil.Set[string]
	entries      []entry
	fallback     Handler
	fallbackName string
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个空的 Router。
func New() Router {
	return &defaultRouter{patterns: typeutil.NewSet[string]()}
}

// Register 实现 Router.Register。
func (r *defaultRouter) Register(pattern string, route Route) error {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return merr.WrapErrParameterMissing("pattern", "router: pattern must not be empty")
	}
	if route.Handler == nil {
		return merr.WrapErrParameterMissing("handler", "router: handler is nil for "+pattern)
	}
	key := strings.Join(words, " ")
	if !r.patterns.TryInsert(key) {
		return merr.WrapErrParameterInvalidMsg("router: %q already registered", key)
	}
	if route.Name == "" {
		route.Name = key
	}
	r.entries = append(r.entries, entry{words: words, route: route})
	// 长命令词优先。
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].words) > len(r.entries[j].words)
	})
	return nil
}

// SetFallback 实现 Router.SetFallback。
func (r *defaultRouter) SetFallback(name string, h Handler) {
	r.fallbackName = name
	r.fallback = h
}

// Handle 实现 Router.Handle。
func (r *defaultRouter) Handle(line string, out io.Writer) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	for _, e := range r.entries {
		args, ok := matchWords(line, e.words)
		if !ok {
			continue
		}
		if e.route.Exact && args != "" {
			continue
		}
		if len(strings.Fields(args)) < e.route.MinArgs {
			continue
		}
		return e.route.Name, e.route.Handler(args, out)
	}
	if r.fallback == nil {
		return "", merr.WrapErrOperationNotSupported(line)
	}
	return r.fallbackName, r.fallback(line, out)
}

// matchWords 判断 line 是否以 words 开头（词间任意空白），返回剩余部分。
func matchWords(line string, words []string) (string, bool) {
	rest := line
	for _, w := range words {
		rest = strings.TrimLeft(rest, " \t")
		if !strings.HasPrefix(rest, w) {
			return "", false
		}
		rest = rest[len(w):]
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			return "", false
		}
	}
	return strings.TrimSpace(rest), true
}
