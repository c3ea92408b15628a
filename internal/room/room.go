package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sketchwire/backend/internal/store"
)

// Colors handed out to joining users, in join order. A user's color is fixed
// for the lifetime of its connection once assigned.
var palette = []string{
	"#e63946", "#2a9d8f", "#457b9d", "#f4a261",
	"#9b5de5", "#00b4d8", "#ef476f", "#06d6a0",
}

// User is one present member of a room. Name and color never change after join.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Room is a single shared drawing session: the roster of present users plus
// that room's slice of the authoritative stroke log.
type Room struct {
	Code string

	mu         sync.RWMutex
	users      map[string]*User
	joinOrder  []string
	colorIndex int

	// Strokes removed by undo, per user. A new stroke throws this away;
	// nothing reads it back yet, but the invalidation has to happen so a
	// future redo cannot resurrect a stale stroke.
	redo map[string][]store.Stroke

	createdAt time.Time
	strokes   *store.Store
}

func New(code string, strokes *store.Store) *Room {
	return &Room{
		Code:      code,
		users:     make(map[string]*User),
		redo:      make(map[string][]store.Stroke),
		createdAt: time.Now(),
		strokes:   strokes,
	}
}

// Join adds a user to the roster and assigns the next palette color. An empty
// display name falls back to "Guest".
func (r *Room) Join(userID, name string) User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = "Guest"
	}

	u := &User{
		ID:    userID,
		Name:  name,
		Color: palette[r.colorIndex%len(palette)],
	}
	r.colorIndex++

	r.users[userID] = u
	r.joinOrder = append(r.joinOrder, userID)
	r.redo[userID] = nil

	return *u
}

// Leave removes a user from the roster. Safe to call for users that already
// left; disconnect and explicit leave are the same operation.
func (r *Room) Leave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return
	}

	delete(r.users, userID)
	delete(r.redo, userID)
	for i, id := range r.joinOrder {
		if id == userID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}
}

func (r *Room) GetUser(userID string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Users returns the roster in join order, for userUpdate broadcasts.
func (r *Room) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := make([]User, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		roster = append(roster, *r.users[id])
	}
	return roster
}

func (r *Room) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// AppendStroke commits a stroke to the tail of the room's log. A missing
// stroke id is replaced with a synthesized one, so every stored stroke stays
// addressable for undo. The author's redo history is invalidated.
func (r *Room) AppendStroke(s store.Stroke) (store.Stroke, error) {
	s.RoomCode = r.Code
	if s.StrokeID == "" {
		s.StrokeID = uuid.NewString()
	}
	if s.Tool == "" {
		s.Tool = "brush"
	}

	if err := r.strokes.AppendStroke(&s); err != nil {
		return store.Stroke{}, err
	}

	r.mu.Lock()
	r.redo[s.UserID] = nil
	r.mu.Unlock()

	return s, nil
}

// UndoLast removes the caller's most recent stroke, leaving every other
// stroke — including the caller's earlier ones — in place. Reports false
// when the caller has nothing to undo.
func (r *Room) UndoLast(userID string) (store.Stroke, bool, error) {
	removed, ok, err := r.strokes.UndoLast(r.Code, userID)
	if err != nil || !ok {
		return store.Stroke{}, false, err
	}

	r.mu.Lock()
	r.redo[userID] = append(r.redo[userID], removed)
	r.mu.Unlock()

	return removed, true, nil
}

// PendingRedo reports how many undone strokes a user could redo.
func (r *Room) PendingRedo(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.redo[userID])
}

// Snapshot returns the room's full stroke log in commit order, used to bring
// a new joiner up to date and for post-undo rebroadcasts.
func (r *Room) Snapshot() ([]store.Stroke, error) {
	return r.strokes.Strokes(r.Code)
}
