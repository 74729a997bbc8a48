// Package discord is the Discord transport: guild slash commands in, embeds out.
package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

const (
	Name = "discord"

	// Permission bits requested by the invite link.
	invitePermissions = 199744
	messageLimit      = 2000
	defaultPresence   = "the clock"
)

type Config struct {
	Token string
	// GuildIDs limits command registration; empty means every guild the bot joins.
	GuildIDs []string
	Presence string
}

type Adapter struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session

	out     atomic.Value // stores (chan<- transport.Interaction)
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	cmdMu  sync.Mutex
	cmds   []*discordgo.ApplicationCommand
	guilds map[string]struct{} // guilds seen via GUILD_CREATE
}

var (
	_ transport.Adapter            = (*Adapter)(nil)
	_ transport.CommandMenuUpdater = (*Adapter)(nil)
)

var routeLibLogs sync.Once

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Presence == "" {
		cfg.Presence = defaultPresence
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	s.LogLevel = discordgo.LogWarning

	lib := log.With(logx.String("comp", "discordgo"))
	routeLibLogs.Do(func() {
		discordgo.Logger = func(level, _ int, format string, a ...any) {
			msg := fmt.Sprintf(format, a...)
			switch level {
			case discordgo.LogError:
				lib.Error(msg)
			case discordgo.LogWarning:
				lib.Warn(msg)
			default:
				lib.Debug(msg)
			}
		}
	})

	a := &Adapter{cfg: cfg, log: log, s: s, guilds: map[string]struct{}{}}
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.cmds = ApplicationCommands(nil)

	s.AddHandler(a.onReady)
	s.AddHandler(a.onGuildCreate)
	s.AddHandler(a.onInteraction)
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// InviteURL is the OAuth2 link that adds the bot with its slash commands.
func InviteURL(appID string) string {
	return fmt.Sprintf("https://discord.com/api/oauth2/authorize?client_id=%s&permissions=%d&scope=bot%%20applications.commands", appID, invitePermissions)
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	a.log.Info("session ready",
		logx.String("session_id", r.SessionID),
		logx.String("user", r.User.Username),
		logx.Int("shards", max(1, s.ShardCount)),
	)
	a.log.Info("bot invite", logx.String("url", InviteURL(r.User.ID)))

	err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{
			Name:  "Custom Status",
			Type:  discordgo.ActivityTypeCustom,
			State: a.cfg.Presence,
		}},
	})
	if err != nil {
		a.log.Warn("presence update failed", logx.String("error", err.Error()))
	}
}

func (a *Adapter) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	a.log.Info("joined server", logx.String("guild_id", g.ID), logx.String("name", g.Name))
	if !a.guildAllowed(g.ID) {
		return
	}
	a.cmdMu.Lock()
	a.guilds[g.ID] = struct{}{}
	cmds := a.cmds
	a.cmdMu.Unlock()
	a.registerGuild(s, g.ID, cmds)
}

func (a *Adapter) guildAllowed(id string) bool {
	return len(a.cfg.GuildIDs) == 0 || slices.Contains(a.cfg.GuildIDs, id)
}

func (a *Adapter) registerGuild(s *discordgo.Session, guildID string, cmds []*discordgo.ApplicationCommand) {
	if s.State == nil || s.State.User == nil {
		return
	}
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, cmds); err != nil {
		a.log.Warn("command registration failed", logx.String("guild_id", guildID), logx.String("error", err.Error()))
		return
	}
	a.log.Debug("commands registered", logx.String("guild_id", guildID), logx.Int("count", len(cmds)))
}

// ApplicationCommands builds the slash command set. remind carries typed
// options; everything else in menu is registered without options.
func ApplicationCommands(menu []transport.BotCommand) []*discordgo.ApplicationCommand {
	out := []*discordgo.ApplicationCommand{{
		Name:        "remind",
		Description: "Reminds you!",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionNumber, Name: "seconds", Description: "time in seconds until reminder", Required: true},
			{Type: discordgo.ApplicationCommandOptionString, Name: "message", Description: "what to remind you about", Required: true},
			{Type: discordgo.ApplicationCommandOptionBoolean, Name: "repeat", Description: "whether to repeat this reminder indefinitely"},
		},
	}}
	for _, c := range menu {
		name := strings.ToLower(strings.TrimSpace(c.Command))
		if name == "" || name == "remind" || len(name) > 32 {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		if len(desc) > 100 {
			desc = desc[:100]
		}
		out = append(out, &discordgo.ApplicationCommand{Name: name, Description: desc})
	}
	return out
}

// UpdateMenuCommands replaces the command set and re-registers it in every
// guild seen so far.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, menu []transport.BotCommand) error {
	cmds := ApplicationCommands(menu)
	a.cmdMu.Lock()
	a.cmds = cmds
	guilds := make([]string, 0, len(a.guilds))
	for id := range a.guilds {
		guilds = append(guilds, id)
	}
	a.cmdMu.Unlock()

	for _, id := range guilds {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.registerGuild(a.s, id, cmds)
	}
	return nil
}

func (a *Adapter) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	it, ok := interactionFromEvent(ic)
	if !ok {
		if ic.Interaction != nil {
			a.log.Debug("unhandled interaction", logx.String("type", ic.Type.String()))
		}
		return
	}
	it.Reply = a.replyFunc(s, ic.Interaction)
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

// interactionFromEvent converts an application command. Option values keep
// their JSON types (float64, string, bool).
func interactionFromEvent(ic *discordgo.InteractionCreate) (transport.Interaction, bool) {
	if ic == nil || ic.Interaction == nil || ic.Type != discordgo.InteractionApplicationCommand {
		return transport.Interaction{}, false
	}
	data, ok := ic.Data.(discordgo.ApplicationCommandInteractionData)
	if !ok || data.Name == "" {
		return transport.Interaction{}, false
	}
	it := transport.Interaction{
		Platform: Name,
		Command:  data.Name,
		Chat:     transport.ChatTarget{ChatID: ic.ChannelID},
	}
	if len(data.Options) > 0 {
		it.Options = make(map[string]any, len(data.Options))
		for _, o := range data.Options {
			switch v := o.Value.(type) {
			case float64, string, bool:
				it.Options[o.Name] = v
			}
		}
	}
	var u *discordgo.User
	switch {
	case ic.Member != nil && ic.Member.User != nil:
		u = ic.Member.User
	case ic.User != nil:
		u = ic.User
	}
	if u != nil {
		it.From = transport.User{ID: u.ID, Username: u.Username}
	}
	return it, true
}

// replyFunc answers the interaction once, then falls back to follow-ups.
func (a *Adapter) replyFunc(s *discordgo.Session, in *discordgo.Interaction) transport.ReplyFunc {
	var responded atomic.Bool
	return func(ctx context.Context, text string) error {
		quiet := &discordgo.MessageAllowedMentions{}
		if responded.CompareAndSwap(false, true) {
			return s.InteractionRespond(in, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: text, AllowedMentions: quiet},
			}, discordgo.WithContext(ctx))
		}
		_, err := s.FollowupMessageCreate(in, true, &discordgo.WebhookParams{Content: text, AllowedMentions: quiet}, discordgo.WithContext(ctx))
		return err
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	if err := a.s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup.Go0("interactions.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming interactions dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
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
	a.log.Info("gateway connected")
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

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	return a.s.Close()
}

func channelFor(to transport.ChatTarget) (string, error) {
	id := strings.TrimSpace(to.ChatID)
	if to.ThreadID != "" {
		// threads are channels of their own
		id = strings.TrimSpace(to.ThreadID)
	}
	if id == "" {
		return "", errors.New("discord: empty channel id")
	}
	return id, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	ch, err := channelFor(to)
	if err != nil {
		return transport.MessageRef{}, err
	}
	var first transport.MessageRef
	for i, chunk := range splitMessage(text, messageLimit) {
		m, err := a.s.ChannelMessageSendComplex(ch, &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{Target: to, MessageID: m.ID}
		}
	}
	return first, nil
}

func (a *Adapter) Deliver(ctx context.Context, d transport.Delivery) (transport.MessageRef, error) {
	ch, err := channelFor(d.To)
	if err != nil {
		return transport.MessageRef{}, err
	}
	m, err := a.s.ChannelMessageSendComplex(ch, buildMessage(ch, d), discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{Target: d.To, MessageID: m.ID}, nil
}

// buildMessage renders a reminder embed that pings only its owner.
func buildMessage(channelID string, d transport.Delivery) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       d.Title,
		Description: d.Text,
		Color:       d.Accent,
	}
	if d.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: d.Footer}
	}
	msg := &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if d.Mention.ID != "" {
		msg.Content = "<@" + d.Mention.ID + ">"
		msg.AllowedMentions.Users = []string{d.Mention.ID}
	}
	if d.ReplyTo != "" {
		fail := false
		msg.Reference = &discordgo.MessageReference{MessageID: d.ReplyTo, ChannelID: channelID, FailIfNotExists: &fail}
	}
	return msg
}

// splitMessage cuts text into rune-safe chunks, preferring newlines.
func splitMessage(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
	}
	return out
}
