// Package bot turns chat messages into subscriber and schedule actions.
package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "namazbot/internal/runtime/supervisor"
	kit "namazbot/internal/transport"
	logx "namazbot/pkg/logx"
)

// Request is one routed message.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger
}

// Route binds a slash command (and optionally keyboard labels) to a handler.
type Route struct {
	Command     string   // without the leading slash
	Buttons     []string // exact keyboard labels that trigger the same handler
	Description string   // shown in the Telegram command menu; empty hides it
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Router dispatches updates to routes on a bounded worker pool.
type Router struct {
	log      logx.Logger
	sender   kit.Sender
	workers  int
	fallback HandlerFunc

	mu       sync.RWMutex
	commands map[string]Route
	buttons  map[string]Route
	menu     []kit.BotCommand

	jobs chan func()
}

type RouterOption func(*Router)

func WithWorkers(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithFallback handles text that matches no route.
func WithFallback(h HandlerFunc) RouterOption {
	return func(r *Router) { r.fallback = h }
}

func NewRouter(sender kit.Sender, log logx.Logger, opts ...RouterOption) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:      log.With(logx.String("comp", "bot.router")),
		sender:   sender,
		workers:  4,
		commands: map[string]Route{},
		buttons:  map[string]Route{},
		jobs:     make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register replaces the route table.
func (r *Router) Register(routes ...Route) {
	commands := map[string]Route{}
	buttons := map[string]Route{}
	menu := make([]kit.BotCommand, 0, len(routes))
	for _, rt := range routes {
		if rt.Handle == nil {
			continue
		}
		if c := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(rt.Command), "/")); c != "" {
			commands[c] = rt
			if rt.Description != "" {
				menu = append(menu, kit.BotCommand{Command: c, Description: rt.Description})
			}
		}
		for _, b := range rt.Buttons {
			buttons[strings.TrimSpace(b)] = rt
		}
	}
	r.mu.Lock()
	r.commands = commands
	r.buttons = buttons
	r.menu = menu
	r.mu.Unlock()
}

// Menu returns the command menu entries of the registered routes.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]kit.BotCommand(nil), r.menu...)
}

// match resolves text to a route. Commands may carry a @botname suffix.
func (r *Router) match(text string) (Route, []string, bool) {
	text = strings.TrimSpace(text)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.buttons[text]; ok {
		return rt, nil, true
	}
	if !strings.HasPrefix(text, "/") {
		return Route{}, nil, false
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	rt, ok := r.commands[word]
	return rt, parts[1:], ok
}

// DispatchLoop consumes updates until ctx is done or the channel closes, then
// drains in-flight handlers for a short grace period.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("bot dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("bot dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in bot job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route enqueues the handler for one update. Unmatched text goes to the
// fallback; a full queue answers "busy".
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	rt, args, ok := r.match(msg.Text)
	if !ok {
		if r.fallback == nil {
			return
		}
		rt = Route{Command: "fallback", Handle: r.fallback}
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		Command: rt.Command,
		Args:    args,
		ReqID:   rid,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", rt.Command),
		),
	}
	final := Chain(rt.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(rt.Timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		req.Log.Warn("bot queue full; request dropped")
		_, _ = r.sender.SendText(ctx, req.Chat, "Бот перегружен, попробуйте позже.", nil)
	}
}
