package transport

import "context"

// ChatTarget identifies where a message goes. IDs are opaque strings so
// platforms with numeric ids (Telegram) and snowflakes (Discord) share one type.
type ChatTarget struct {
	ChatID   string
	ThreadID string // forum topic / thread (empty if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == "" }

type MessageRef struct {
	Target    ChatTarget
	MessageID string
}

// User is the author of an interaction.
type User struct {
	ID       string
	Username string
}

// ReplyFunc acknowledges an interaction with plain text.
type ReplyFunc func(ctx context.Context, text string) error

// Interaction is one inbound command, already split into a name and its arguments.
//
// Text-based platforms fill Args (positional tokens after the command word)
// and ArgText.
// Platforms with typed slash commands fill Options instead (float64/string/bool values).
type Interaction struct {
	Platform  string
	Command   string
	Args      []string
	ArgText   string // raw text after the command word, as typed
	Options   map[string]any
	Chat      ChatTarget
	MessageID string
	From      User
	Reply     ReplyFunc
}

// Delivery is a rendered reminder handed to the platform.
type Delivery struct {
	To      ChatTarget
	ReplyTo string // origin message id (optional)
	Mention User   // user to at-mention
	Title   string
	Text    string
	Footer  string
	Accent  int // 0xRRGGBB
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Interaction) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	Deliver(ctx context.Context, d Delivery) (MessageRef, error)
}

// BotCommand describes a command for platform menus (Telegram setMyCommands,
// Discord application commands).
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optionally implemented by adapters that publish a command list.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
