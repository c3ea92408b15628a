package room

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/metrics"
	"github.com/sketchwire/backend/internal/store"
)

// Joining a code that is not live must fail; rooms are never created
// implicitly by a join.
var ErrRoomNotFound = errors.New("room does not exist")

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSegmentLen = 4
	codeSegments   = 2
	codeSeparator  = "-"
)

// Registry owns the set of live rooms, keyed by code. Instances are injected
// rather than shared through package state so tests can run isolated
// registries side by side.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	strokes *store.Store
	log     *zap.Logger
}

func NewRegistry(strokes *store.Store, log *zap.Logger) *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		strokes: strokes,
		log:     log,
	}
}

// generateCode produces a two-segment alphanumeric code, e.g. "K7QF-20XN".
func generateCode() string {
	segments := make([]string, codeSegments)
	for i := range segments {
		var b strings.Builder
		for j := 0; j < codeSegmentLen; j++ {
			b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
		}
		segments[i] = b.String()
	}
	return strings.Join(segments, codeSeparator)
}

// Create registers a new empty room under a freshly generated code and
// returns both. Generation retries on collision; the code space is large
// enough relative to live room counts that this terminates quickly.
func (reg *Registry) Create() (string, *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := generateCode()
	for {
		if _, taken := reg.rooms[code]; !taken {
			break
		}
		code = generateCode()
	}

	r := New(code, reg.strokes)
	reg.rooms[code] = r

	metrics.RoomCreated()
	reg.log.Info("room created", zap.String("code", code))
	return code, r
}

func (reg *Registry) Exists(code string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[code]
	return ok
}

func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// DestroyIfEmpty removes a room once its user count reaches zero, discarding
// its stroke log. This is the only deletion path driven by membership; it is
// called after every mutation that can shrink a roster.
func (reg *Registry) DestroyIfEmpty(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.destroyIfEmptyLocked(code)
}

func (reg *Registry) destroyIfEmptyLocked(code string) {
	r, ok := reg.rooms[code]
	if !ok || r.UserCount() > 0 {
		return
	}

	delete(reg.rooms, code)
	if err := reg.strokes.DeleteRoom(code); err != nil {
		reg.log.Error("failed to drop stroke log", zap.String("code", code), zap.Error(err))
	}

	metrics.RoomDestroyed()
	reg.log.Info("room destroyed", zap.String("code", code))
}

// DestroyStale applies DestroyIfEmpty to rooms that have sat empty since
// before the cutoff. Rooms lose their members immediately on disconnect, so
// this only ever collects rooms that were created and never joined.
func (reg *Registry) DestroyStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	destroyed := 0
	for code, r := range reg.rooms {
		if r.UserCount() == 0 && r.CreatedAt().Before(cutoff) {
			reg.destroyIfEmptyLocked(code)
			destroyed++
		}
	}
	return destroyed
}

func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) TotalUsers() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	total := 0
	for _, r := range reg.rooms {
		total += r.UserCount()
	}
	return total
}
