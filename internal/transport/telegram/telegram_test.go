package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"short"}, splitText("short", 10))

	// Prefer newline boundaries.
	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(in, 10))

	// Do not cut inside a tag.
	in = "aaaaaaa<b>bold</b>"
	parts := splitText(in, 9)
	require.Equal(t, "aaaaaaa", parts[0])
	require.True(t, strings.HasPrefix(parts[1], "<b>"))
	require.Equal(t, in, strings.Join(parts, ""))

	// Multi-byte runes count once.
	parts = splitText(strings.Repeat("é", 25), 10)
	require.Len(t, parts, 3)
	require.Equal(t, 10, len([]rune(parts[0])))
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()
	got := renderHTML(transport.Delivery{
		Mention: transport.User{ID: "42", Username: "ann"},
		Title:   "Reminder",
		Text:    "take <meds> & water",
		Footer:  "after 20s",
	})
	require.Equal(t,
		"<a href=\"tg://user?id=42\">@ann</a>\n<b>Reminder</b>\ntake &lt;meds&gt; &amp; water\n<i>after 20s</i>",
		got)

	require.Equal(t, "plain", renderHTML(transport.Delivery{Text: "plain"}))
	require.Equal(t, "@bob", mentionHTML(transport.User{Username: "bob"}))
	require.Equal(t, `<a href="tg://user?id=7">you</a>`, mentionHTML(transport.User{ID: "7"}))
}

func TestInteractionFromMessage(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:       55,
		Text:     `/remind@remindbot 30 "drink water" --repeat`,
		Chat:     &tele.Chat{ID: -100123},
		ThreadID: 9,
		Sender:   &tele.User{ID: 42, Username: "ann"},
	}
	it, ok := interactionFromMessage(m)
	require.True(t, ok)
	require.Equal(t, Name, it.Platform)
	require.Equal(t, "remind", it.Command)
	require.Equal(t, []string{"30", "drink water", "--repeat"}, it.Args)
	require.Equal(t, `30 "drink water" --repeat`, it.ArgText)
	require.Equal(t, transport.ChatTarget{ChatID: "-100123", ThreadID: "9"}, it.Chat)
	require.Equal(t, "55", it.MessageID)
	require.Equal(t, transport.User{ID: "42", Username: "ann"}, it.From)

	_, ok = interactionFromMessage(&tele.Message{Text: "just chatting", Chat: &tele.Chat{ID: 1}})
	require.False(t, ok)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	chat, thread, err := parseTarget(transport.ChatTarget{ChatID: " 12 ", ThreadID: "3"})
	require.NoError(t, err)
	require.EqualValues(t, 12, chat.ID)
	require.Equal(t, 3, thread)

	_, _, err = parseTarget(transport.ChatTarget{ChatID: "abc"})
	require.Error(t, err)
	_, _, err = parseTarget(transport.ChatTarget{ChatID: "1", ThreadID: "x"})
	require.Error(t, err)
}

func TestNewOfflineAndForwardDrops(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, "telegram", a.Name())

	// No consumer yet: updates are discarded silently.
	a.forward(transport.Interaction{Command: "ping"})
	require.Zero(t, a.dropped.Load())

	out := make(chan transport.Interaction, 1)
	a.out.Store((chan<- transport.Interaction)(out))
	a.forward(transport.Interaction{Command: "ping"})
	a.forward(transport.Interaction{Command: "ping"})
	require.Len(t, out, 1)
	require.EqualValues(t, 1, a.dropped.Load())
}
