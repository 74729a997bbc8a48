package reminder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// DefaultMinSeconds is the smallest accepted interval. Shorter reminders are spam.
const DefaultMinSeconds = 20

// MaxSeconds bounds intervals so tick counts stay far away from int overflow.
const MaxSeconds = math.MaxInt32

// Request is an inbound "remind me" request with raw, unvalidated fields.
type Request struct {
	Destination transport.ChatTarget
	Origin      string
	Owner       transport.User
	Platform    string

	Seconds float64
	Message string
	Repeat  bool
}

type Reason string

const (
	ReasonTooSoon      Reason = "too_soon"
	ReasonOutOfRange   Reason = "out_of_range"
	ReasonEmptyMessage Reason = "empty_message"
)

// ValidationError rejects a request before it reaches the registry.
// Error() is user-facing text.
type ValidationError struct {
	Reason Reason
	Value  float64
	Min    int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTooSoon:
		return fmt.Sprintf("Please enter >=%d seconds, %s is too spammy!", e.Min, formatSeconds(e.Value))
	case ReasonOutOfRange:
		return fmt.Sprintf("%s seconds is not a usable interval.", formatSeconds(e.Value))
	case ReasonEmptyMessage:
		return "Please tell me what to remind you about."
	default:
		return "invalid reminder"
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Validator turns requests into registered tasks.
type Validator struct {
	reg     *Registry
	accents AccentSource
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	minSeconds atomic.Int64
}

func NewValidator(reg *Registry, accents AccentSource, minSeconds int, log logx.Logger, bus eventbus.Bus) *Validator {
	if accents == nil {
		accents = RandomAccents(nil)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	v := &Validator{reg: reg, accents: accents, bus: bus, log: log, now: time.Now}
	v.SetMinSeconds(minSeconds)
	return v
}

// SetMinSeconds changes the threshold (hot reload). Values < 1 fall back to the default.
func (v *Validator) SetMinSeconds(n int) {
	if n < 1 {
		n = DefaultMinSeconds
	}
	v.minSeconds.Store(int64(n))
}

func (v *Validator) MinSeconds() int { return int(v.minSeconds.Load()) }

// Build validates req and returns the armed task without registering it.
func (v *Validator) Build(req Request) (Task, error) {
	minSecs := v.MinSeconds()
	s := req.Seconds
	if math.IsNaN(s) || math.IsInf(s, 0) || s > MaxSeconds {
		return Task{}, &ValidationError{Reason: ReasonOutOfRange, Value: s, Min: minSecs}
	}
	secs := int(math.Trunc(s))
	if secs < minSecs {
		return Task{}, &ValidationError{Reason: ReasonTooSoon, Value: s, Min: minSecs}
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Task{}, &ValidationError{Reason: ReasonEmptyMessage, Value: s, Min: minSecs}
	}
	return Task{
		Destination: req.Destination,
		Origin:      req.Origin,
		Owner:       req.Owner,
		Remaining:   secs,
		Period:      secs,
		Message:     msg,
		Repeat:      req.Repeat,
		Accent:      v.accents.Accent(),
		Platform:    req.Platform,
		CreatedAt:   v.now(),
	}, nil
}

// Submit validates req, registers the task and returns the acknowledgement text.
// On rejection the registry is untouched and the error text is meant for the requester.
func (v *Validator) Submit(req Request) (Handle, string, error) {
	t, err := v.Build(req)
	if err != nil {
		v.log.Debug("reminder rejected", logx.String("chat_id", req.Destination.ChatID), logx.String("user_id", req.Owner.ID), logx.Err(err))
		return Handle{}, "", err
	}
	h := v.reg.Add(t)
	v.log.Info("reminder added",
		logx.String("id", h.String()),
		logx.String("chat_id", t.Destination.ChatID),
		logx.String("user_id", t.Owner.ID),
		logx.Int("period", t.Period),
		logx.Bool("repeat", t.Repeat),
	)
	eventbus.Publish(v.bus, eventbus.ReminderAdded, Event{ID: h, Task: t})
	return h, Acknowledge(t), nil
}

// Acknowledge renders the confirmation sent back to the requester.
func Acknowledge(t Task) string {
	if t.Repeat {
		return fmt.Sprintf("Reminding you every %d second(s) of '%s'", t.Period, t.Message)
	}
	return fmt.Sprintf("Reminding you in %d second(s) of '%s'", t.Period, t.Message)
}
