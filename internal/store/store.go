package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store holds the authoritative stroke log for every live room. It is backed
// by an in-memory SQLite database: the log is volatile by design and is
// discarded when the process exits. Callers must treat the service as
// ephemeral — there is no recovery path after a restart.
type Store struct {
	db *sql.DB
}

// Stroke is one committed drawing segment. Seq is assigned by the store on
// insert and is the authoritative server-receipt order within a room.
type Stroke struct {
	Seq      int64   `json:"-"`
	RoomCode string  `json:"-"`
	StrokeID string  `json:"strokeId"`
	UserID   string  `json:"userId"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	X2       float64 `json:"x2"`
	Y2       float64 `json:"y2"`
	Tool     string  `json:"tool"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
}

func New() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}

	// A single connection keeps every statement on the same in-memory
	// database; a pooled second connection would see an empty one.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS strokes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL,
		stroke_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		x1 REAL NOT NULL,
		y1 REAL NOT NULL,
		x2 REAL NOT NULL,
		y2 REAL NOT NULL,
		tool TEXT NOT NULL,
		color TEXT NOT NULL,
		width REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_strokes_room ON strokes(room_code);
	CREATE INDEX IF NOT EXISTS idx_strokes_room_user ON strokes(room_code, user_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendStroke inserts a stroke at the tail of its room's log and fills in
// the assigned sequence number.
func (s *Store) AppendStroke(stroke *Stroke) error {
	result, err := s.db.Exec(
		`INSERT INTO strokes (room_code, stroke_id, user_id, x1, y1, x2, y2, tool, color, width)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stroke.RoomCode, stroke.StrokeID, stroke.UserID,
		stroke.X1, stroke.Y1, stroke.X2, stroke.Y2,
		stroke.Tool, stroke.Color, stroke.Width,
	)
	if err != nil {
		return fmt.Errorf("append stroke: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("append stroke: %w", err)
	}
	stroke.Seq = seq
	return nil
}

// Strokes returns a room's full log in commit order. The slice is never nil
// so an empty log serializes as an empty JSON array.
func (s *Store) Strokes(roomCode string) ([]Stroke, error) {
	rows, err := s.db.Query(
		`SELECT seq, room_code, stroke_id, user_id, x1, y1, x2, y2, tool, color, width
		 FROM strokes WHERE room_code = ? ORDER BY seq ASC`,
		roomCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strokes := make([]Stroke, 0)
	for rows.Next() {
		var st Stroke
		if err := rows.Scan(
			&st.Seq, &st.RoomCode, &st.StrokeID, &st.UserID,
			&st.X1, &st.Y1, &st.X2, &st.Y2,
			&st.Tool, &st.Color, &st.Width,
		); err != nil {
			return nil, err
		}
		strokes = append(strokes, st)
	}
	return strokes, rows.Err()
}

// UndoLast removes the single most recent stroke authored by userID in the
// given room. It reports false, with no error, when the user has no strokes
// there; other members' strokes are never candidates.
func (s *Store) UndoLast(roomCode, userID string) (Stroke, bool, error) {
	row := s.db.QueryRow(
		`SELECT seq, room_code, stroke_id, user_id, x1, y1, x2, y2, tool, color, width
		 FROM strokes WHERE room_code = ? AND user_id = ?
		 ORDER BY seq DESC LIMIT 1`,
		roomCode, userID,
	)

	var st Stroke
	err := row.Scan(
		&st.Seq, &st.RoomCode, &st.StrokeID, &st.UserID,
		&st.X1, &st.Y1, &st.X2, &st.Y2,
		&st.Tool, &st.Color, &st.Width,
	)
	if err == sql.ErrNoRows {
		return Stroke{}, false, nil
	}
	if err != nil {
		return Stroke{}, false, err
	}

	if _, err := s.db.Exec("DELETE FROM strokes WHERE seq = ?", st.Seq); err != nil {
		return Stroke{}, false, fmt.Errorf("undo stroke: %w", err)
	}
	return st, true, nil
}

// DeleteRoom drops every stroke belonging to a room. Called when the room is
// destroyed; the log is unrecoverable afterwards.
func (s *Store) DeleteRoom(roomCode string) error {
	_, err := s.db.Exec("DELETE FROM strokes WHERE room_code = ?", roomCode)
	return err
}

func (s *Store) StrokeCount(roomCode string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM strokes WHERE room_code = ?",
		roomCode,
	).Scan(&count)
	return count, err
}

func (s *Store) TotalStrokes() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM strokes").Scan(&count)
	return count, err
}
