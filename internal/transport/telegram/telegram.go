// Package telegram is the Telegram transport (long polling via telebot).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"html"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

const Name = "telegram"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Offline skips the getMe call (tests).
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // stores (chan<- transport.Interaction)
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates lost because the router was slower than polling.
	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var (
	_ transport.Adapter            = (*Adapter)(nil)
	_ transport.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil {
		return nil
	}
	it, ok := interactionFromMessage(m)
	if !ok {
		return nil
	}
	it.Reply = a.replyFunc(m)
	a.forward(it)
	return nil
}

// interactionFromMessage converts a "/command args" message. Plain chatter is ignored.
func interactionFromMessage(m *tele.Message) (transport.Interaction, bool) {
	name, args, ok := transport.ParseCommand(m.Text)
	if !ok || m.Chat == nil {
		return transport.Interaction{}, false
	}
	it := transport.Interaction{
		Platform:  Name,
		Command:   name,
		Args:      args,
		ArgText:   transport.ArgText(m.Text),
		Chat:      chatTarget(m.Chat.ID, m.ThreadID),
		MessageID: strconv.Itoa(m.ID),
	}
	if m.Sender != nil {
		it.From = transport.User{ID: strconv.FormatInt(m.Sender.ID, 10), Username: m.Sender.Username}
	}
	return it, true
}

func chatTarget(chatID int64, threadID int) transport.ChatTarget {
	t := transport.ChatTarget{ChatID: strconv.FormatInt(chatID, 10)}
	if threadID != 0 {
		t.ThreadID = strconv.Itoa(threadID)
	}
	return t
}

func (a *Adapter) replyFunc(m *tele.Message) transport.ReplyFunc {
	return func(ctx context.Context, text string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := a.bot.Send(m.Chat, text, &tele.SendOptions{
			ReplyTo:               m,
			ThreadID:              m.ThreadID,
			AllowWithoutReply:     true,
			DisableWebPagePreview: true,
		})
		return err
	}
}

func (a *Adapter) forward(it transport.Interaction) {
	out, _ := a.out.Load().(chan<- transport.Interaction)
	if out == nil {
		return
	}
	select {
	case out <- it:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return c.Err()
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if a getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries and never cutting inside an HTML tag.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func parseTarget(to transport.ChatTarget) (*tele.Chat, int, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(to.ChatID), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("telegram: bad chat id %q: %w", to.ChatID, err)
	}
	thread := 0
	if to.ThreadID != "" {
		if thread, err = strconv.Atoi(to.ThreadID); err != nil {
			return nil, 0, fmt.Errorf("telegram: bad thread id %q: %w", to.ThreadID, err)
		}
	}
	return &tele.Chat{ID: id}, thread, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	return a.send(ctx, to, splitText(text, textLimit), "", 0)
}

// Deliver sends a reminder as HTML, mentioning the owner and replying to the
// original command when it still exists.
func (a *Adapter) Deliver(ctx context.Context, d transport.Delivery) (transport.MessageRef, error) {
	replyTo, _ := strconv.Atoi(d.ReplyTo)
	return a.send(ctx, d.To, splitText(renderHTML(d), textLimit), tele.ModeHTML, replyTo)
}

func (a *Adapter) send(ctx context.Context, to transport.ChatTarget, chunks []string, mode tele.ParseMode, replyTo int) (transport.MessageRef, error) {
	chat, thread, err := parseTarget(to)
	if err != nil {
		return transport.MessageRef{}, err
	}
	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		opt := &tele.SendOptions{
			ParseMode:             mode,
			ThreadID:              thread,
			DisableWebPagePreview: true,
			AllowWithoutReply:     true,
		}
		if i == 0 && replyTo != 0 {
			opt.ReplyTo = &tele.Message{ID: replyTo, Chat: chat}
		}
		msg, err := a.bot.Send(chat, chunk, opt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{Target: to, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

func renderHTML(d transport.Delivery) string {
	var b strings.Builder
	if m := mentionHTML(d.Mention); m != "" {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if d.Title != "" {
		fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(d.Title))
	}
	b.WriteString(html.EscapeString(d.Text))
	if d.Footer != "" {
		fmt.Fprintf(&b, "\n<i>%s</i>", html.EscapeString(d.Footer))
	}
	return b.String()
}

func mentionHTML(u transport.User) string {
	switch {
	case u.ID != "":
		name := u.Username
		if name == "" {
			name = "you"
		} else {
			name = "@" + name
		}
		return fmt.Sprintf(`<a href="tg://user?id=%s">%s</a>`, html.EscapeString(u.ID), html.EscapeString(name))
	case u.Username != "":
		return "@" + html.EscapeString(u.Username)
	default:
		return ""
	}
}

// UpdateMenuCommands publishes the command list (setMyCommands). It only calls
// Telegram when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		if len(list) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
