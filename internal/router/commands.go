package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
)

const DefaultAbout = "Hello! I'm Reminder bot :)\n" +
	"* /remind <seconds> <message> [--repeat] pings you when the time is up\n" +
	"* /reminders lists what you have pending here"

const remindUsage = "Usage: /remind <seconds> <message> [--repeat]"

// Deps are the services the built-in commands talk to.
type Deps struct {
	Validator *reminder.Validator
	Registry  *reminder.Registry
	About     string
}

// Builtins returns the bot's command set, including /help for m.
func (m *Router) Builtins(d Deps) []Command {
	about := d.About
	if strings.TrimSpace(about) == "" {
		about = DefaultAbout
	}
	return []Command{
		{
			Name:        "remind",
			Aliases:     []string{"r"},
			Description: "Reminds you!",
			Usage:       remindUsage,
			BoolFlags:   []string{"repeat", "r"},
			Handle:      remindHandler(d.Validator),
		},
		{
			Name:        "reminders",
			Description: "List your pending reminders in this chat",
			Usage:       "/reminders",
			Handle:      listHandler(d.Registry),
		},
		{
			Name:        "info",
			Description: "About this bot",
			Usage:       "/info",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, about)
			},
		},
		{
			Name:        "ping",
			Description: "Check that the bot is alive",
			Usage:       "/ping",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, "Pong!")
			},
		},
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "Show available commands",
			Usage:       "/help [command]",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, m.HelpText(req.Args))
			},
		},
	}
}

func remindHandler(v *reminder.Validator) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		r, err := remindRequest(req)
		if err != nil {
			return req.Reply(ctx, err.Error())
		}
		_, ack, err := v.Submit(r)
		var ve *reminder.ValidationError
		if errors.As(err, &ve) {
			return req.Reply(ctx, ve.Error())
		}
		if err != nil {
			return err
		}
		return req.Reply(ctx, ack)
	}
}

// remindRequest reads typed options when the platform provides them and falls
// back to "<seconds> <message...> [--repeat]" text arguments.
func remindRequest(req *Request) (reminder.Request, error) {
	it := req.Interaction
	out := reminder.Request{
		Destination: it.Chat,
		Origin:      it.MessageID,
		Owner:       it.From,
		Platform:    it.Platform,
	}
	if len(it.Options) > 0 {
		secs, ok := numberOption(it.Options["seconds"])
		if !ok {
			return out, errors.New(remindUsage)
		}
		out.Seconds = secs
		out.Message, _ = Option[string](req, "message")
		out.Repeat, _ = Option[bool](req, "repeat")
		return out, nil
	}

	raw := it.ArgText
	if raw == "" {
		raw = strings.Join(req.RawArgs, " ")
	}
	secs, msg, repeat, err := splitRemindText(raw)
	if err != nil {
		return out, err
	}
	if secs == "" {
		return out, errors.New(remindUsage)
	}
	n, err := strconv.ParseFloat(secs, 64)
	if err != nil {
		return out, fmt.Errorf("'%s' is not a number of seconds. %s", secs, remindUsage)
	}
	out.Seconds = n
	out.Message = msg
	out.Repeat = repeat
	return out, nil
}

type span struct{ start, end int }

// splitRemindText takes "<seconds> <message...>" and pulls out the seconds
// token plus any --repeat/-r flags. The message keeps its original text;
// spacing is only normalised where a flag was cut out of the middle.
func splitRemindText(raw string) (secs, msg string, repeat bool, err error) {
	var (
		kept []span
		cut  []bool // a flag was removed just before kept[i]
		gap  bool
	)
	for i := 0; i < len(raw); {
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		j := i
		for j < len(raw) && !isSpace(raw[j]) {
			j++
		}
		if i == j {
			break
		}
		tok := raw[i:j]
		if v, ok, ferr := repeatFlag(tok); ok {
			if ferr != nil {
				return "", "", false, ferr
			}
			repeat = v
			gap = len(kept) > 0
		} else if secs == "" && len(kept) == 0 {
			secs = tok
		} else {
			kept = append(kept, span{i, j})
			cut = append(cut, gap)
			gap = false
		}
		i = j
	}
	if len(kept) == 0 {
		return secs, "", repeat, nil
	}
	var b strings.Builder
	b.WriteString(raw[kept[0].start:kept[0].end])
	for k := 1; k < len(kept); k++ {
		if cut[k] {
			b.WriteByte(' ')
			b.WriteString(raw[kept[k].start:kept[k].end])
			continue
		}
		b.WriteString(raw[kept[k-1].end:kept[k].end])
	}
	msg = b.String()
	if len(msg) >= 2 && msg[0] == '"' && msg[len(msg)-1] == '"' {
		msg = msg[1 : len(msg)-1]
	}
	return secs, msg, repeat, nil
}

// repeatFlag recognises --repeat, -r and their =true/=false forms.
func repeatFlag(tok string) (val, ok bool, err error) {
	name, value, hasValue := strings.Cut(tok, "=")
	switch name {
	case "--repeat", "-repeat", "-r", "--r":
	default:
		return false, false, nil
	}
	if !hasValue {
		return true, true, nil
	}
	val, err = strconv.ParseBool(value)
	if err != nil {
		return false, true, fmt.Errorf("%s expects true or false", name)
	}
	return val, true, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func numberOption(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func listHandler(reg *reminder.Registry) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		it := req.Interaction
		mine := reg.List(func(t reminder.Task) bool {
			return t.Destination.ChatID == it.Chat.ChatID && t.Owner.ID == it.From.ID
		})
		if len(mine) == 0 {
			return req.Reply(ctx, "You have no pending reminders here.")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "You have %d pending reminder(s):\n", len(mine))
		for _, e := range mine {
			fmt.Fprintf(&b, "* '%s' in %s", e.Task.Message, seconds(e.Task.Remaining))
			if e.Task.Repeat {
				fmt.Fprintf(&b, " (every %s)", seconds(e.Task.Period))
			}
			b.WriteByte('\n')
		}
		return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	}
}

func seconds(n int) string {
	return (time.Duration(n) * time.Second).String()
}
