package reminder

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

func testRequest(secs float64, msg string, repeat bool) Request {
	return Request{
		Destination: transport.ChatTarget{ChatID: "c1"},
		Origin:      "m1",
		Owner:       transport.User{ID: "u1", Username: "ann"},
		Platform:    "test",
		Seconds:     secs,
		Message:     msg,
		Repeat:      repeat,
	}
}

func TestSubmitTooSoon(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	v := NewValidator(reg, FixedAccent(0x123456), DefaultMinSeconds, logx.Nop(), nil)

	_, ack, err := v.Submit(testRequest(5, "tea", false))
	require.Empty(t, ack)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, ReasonTooSoon, ve.Reason)
	require.Equal(t, "Please enter >=20 seconds, 5 is too spammy!", err.Error())
	require.Equal(t, 0, reg.Len())

	_, _, err = v.Submit(testRequest(19.9, "tea", false))
	require.EqualError(t, err, "Please enter >=20 seconds, 19.9 is too spammy!")
}

func TestSubmitRejectsOutOfRangeAndEmpty(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	v := NewValidator(reg, nil, DefaultMinSeconds, logx.Nop(), nil)

	for _, s := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e12} {
		_, _, err := v.Submit(testRequest(s, "tea", false))
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "seconds=%v", s)
		require.Equal(t, ReasonOutOfRange, ve.Reason)
	}
	_, _, err := v.Submit(testRequest(-4, "tea", false))
	require.Contains(t, err.Error(), "too spammy")

	_, _, err = v.Submit(testRequest(30, "   ", false))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, ReasonEmptyMessage, ve.Reason)
	require.Equal(t, 0, reg.Len())
}

func TestSubmitAcceptsAndAcknowledges(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	v := NewValidator(reg, FixedAccent(0xABCDEF), DefaultMinSeconds, logx.Nop(), bus)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	h, ack, err := v.Submit(testRequest(20.7, "tea", false))
	require.NoError(t, err)
	require.Equal(t, "Reminding you in 20 second(s) of 'tea'", ack)

	got, ok := reg.Get(h)
	require.True(t, ok)
	require.Equal(t, 20, got.Period)
	require.Equal(t, 20, got.Remaining)
	require.Equal(t, Accent(0xABCDEF), got.Accent)
	require.Equal(t, "#abcdef", got.Accent.String())
	require.Equal(t, "m1", got.Origin)
	require.Equal(t, fixed, got.CreatedAt)

	e := <-events
	require.Equal(t, eventbus.ReminderAdded, e.Type)
	require.Equal(t, h, e.Data.(Event).ID)

	_, ack, err = v.Submit(testRequest(45, "stretch", true))
	require.NoError(t, err)
	require.Equal(t, "Reminding you every 45 second(s) of 'stretch'", ack)
}

func TestSetMinSeconds(t *testing.T) {
	t.Parallel()
	v := NewValidator(NewRegistry(), nil, 0, logx.Nop(), nil)
	require.Equal(t, DefaultMinSeconds, v.MinSeconds())

	v.SetMinSeconds(60)
	_, _, err := v.Submit(testRequest(30, "tea", false))
	require.EqualError(t, err, "Please enter >=60 seconds, 30 is too spammy!")
	_, _, err = v.Submit(testRequest(60, "tea", false))
	require.NoError(t, err)
}

func TestRandomAccentsStayInRange(t *testing.T) {
	t.Parallel()
	src := RandomAccents(nil)
	for i := 0; i < 100; i++ {
		a := src.Accent()
		require.LessOrEqual(t, a.Int(), 0xFFFFFF)
		require.Len(t, a.String(), 7)
	}
}
