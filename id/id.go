package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID stamped with the wall clock.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t. Replays pass their simulated time so
// decision ids sort in simulated order. Ids from one process are strictly
// increasing within a millisecond.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// Only possible if entropy is exhausted.
		panic(err)
	}
	return u.String()
}

// Time extracts the timestamp of a ULID produced by New or NewAt.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}

// ClientOrderID prefixes a ULID so exchange-side logs identify the engine.
func ClientOrderID(t time.Time) string {
	return "arb-" + NewAt(t)
}
