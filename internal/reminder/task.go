package reminder

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/transport"
)

// Handle identifies a task for its whole lifetime.
type Handle = uuid.UUID

// Task is one scheduled notification.
type Task struct {
	Destination transport.ChatTarget
	Origin      string // triggering message id, optional
	Owner       transport.User

	// Remaining counts ticks until the next delivery; Period is the original
	// interval and never changes after creation.
	Remaining int
	Period    int

	Message string
	Repeat  bool
	Accent  Accent

	Platform  string
	CreatedAt time.Time
}

// Accent is a cosmetic 0xRRGGBB colour assigned once per task.
type Accent uint32

const accentMask = 0xFFFFFF

func (a Accent) Int() int { return int(a & accentMask) }

func (a Accent) String() string { return fmt.Sprintf("#%06x", uint32(a&accentMask)) }

// AccentSource hands out accents for new tasks.
type AccentSource interface {
	Accent() Accent
}

// AccentFunc adapts a function to AccentSource.
type AccentFunc func() Accent

func (f AccentFunc) Accent() Accent { return f() }

// FixedAccent always returns the same colour.
func FixedAccent(a Accent) AccentSource {
	return AccentFunc(func() Accent { return a })
}

type randomAccents struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// RandomAccents returns a goroutine-safe source backed by rng.
// A nil rng uses a time-seeded PCG.
func RandomAccents(rng *rand.Rand) AccentSource {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &randomAccents{rng: rng}
}

func (r *randomAccents) Accent() Accent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Accent(r.rng.Uint32() & accentMask)
}

// Event is the payload of reminder.* bus events.
type Event struct {
	ID      Handle
	Task    Task
	Error   string        `json:",omitempty"`
	Elapsed time.Duration `json:",omitempty"`
}
