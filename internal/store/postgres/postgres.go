// Package postgres implements store.Store on top of sqlx + lib/pq, the
// teacher's persistence stack, repurposed as a document store: each
// collection is one jsonb column plus a handful of plain columns, written
// alongside the document, for the predicates the spec's read paths need
// (code lookup, visibility, participant membership).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/relaymesh/conclave/internal/store"
)

// Connect opens the database and applies migrations, mirroring the
// teacher's db.Connect/runMigrations shape.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_rooms (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE,
			visibility TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			document JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chat_rooms_visibility_idx ON chat_rooms (visibility);`,
		`CREATE INDEX IF NOT EXISTS chat_rooms_participants_idx ON chat_rooms USING GIN (participants);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			document JSONB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chat_messages_room_ts_idx ON chat_messages (room_id, ts DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS video_rooms (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE,
			updated_at TIMESTAMPTZ NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			max_participants INT NOT NULL DEFAULT 0,
			document JSONB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS video_participants (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL,
			document JSONB NOT NULL,
			PRIMARY KEY (room_id, user_id)
		);`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("store: postgres migrations applied")
	return nil
}

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

type chatRoomDoc struct {
	store.ChatRoom
}

func (s *Store) CreateChatRoom(ctx context.Context, room store.ChatRoom) (store.ChatRoom, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := nowUTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	doc, err := json.Marshal(chatRoomDoc{room})
	if err != nil {
		return store.ChatRoom{}, err
	}
	var code sql.NullString
	if room.Code != "" {
		code = sql.NullString{String: room.Code, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chat_rooms (id, code, visibility, updated_at, participants, document)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		room.ID, code, string(room.Visibility), room.UpdatedAt, pqStringArray(room.Participants), doc)
	if err != nil {
		return store.ChatRoom{}, translate(err)
	}
	return room, nil
}

func (s *Store) GetChatRoom(ctx context.Context, id string) (store.ChatRoom, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM chat_rooms WHERE id = $1`, id)
	if err != nil {
		return store.ChatRoom{}, translate(err)
	}
	return decodeChatRoom(raw)
}

func (s *Store) GetChatRoomByCode(ctx context.Context, code string) (store.ChatRoom, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM chat_rooms WHERE code = $1`, code)
	if err != nil {
		return store.ChatRoom{}, translate(err)
	}
	return decodeChatRoom(raw)
}

func (s *Store) ChatRoomCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE code = $1)`, code)
	return exists, translate(err)
}

func (s *Store) ListPublicChatRooms(ctx context.Context) ([]store.ChatRoom, error) {
	return s.queryChatRooms(ctx, `SELECT document FROM chat_rooms WHERE visibility = $1 ORDER BY updated_at DESC`, string(store.VisibilityPublic))
}

func (s *Store) ListPrivateChatRoomsForUser(ctx context.Context, userID string) ([]store.ChatRoom, error) {
	return s.queryChatRooms(ctx, `SELECT document FROM chat_rooms WHERE visibility = $1 AND $2 = ANY(participants) ORDER BY updated_at DESC`,
		string(store.VisibilityPrivate), userID)
}

func (s *Store) queryChatRooms(ctx context.Context, query string, args ...any) ([]store.ChatRoom, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []store.ChatRoom
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		room, err := decodeChatRoom(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// AddChatParticipant runs the read-check-write under a row lock, so two
// concurrent joiners cannot overwrite each other's participant append.
func (s *Store) AddChatParticipant(ctx context.Context, roomID, userID string) (store.ChatRoom, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.ChatRoom{}, translate(err)
	}
	defer tx.Rollback()

	var raw []byte
	if err := tx.GetContext(ctx, &raw, `SELECT document FROM chat_rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
		return store.ChatRoom{}, translate(err)
	}
	room, err := decodeChatRoom(raw)
	if err != nil {
		return store.ChatRoom{}, err
	}
	if room.HasParticipant(userID) {
		return room, nil
	}
	room.Participants = append(room.Participants, userID)
	room.UpdatedAt = nowUTC()
	doc, err := json.Marshal(chatRoomDoc{room})
	if err != nil {
		return store.ChatRoom{}, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE chat_rooms SET participants = $2, updated_at = $3, document = $4 WHERE id = $1`,
		roomID, pqStringArray(room.Participants), room.UpdatedAt, doc)
	if err != nil {
		return store.ChatRoom{}, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return store.ChatRoom{}, translate(err)
	}
	return room, nil
}

func (s *Store) TouchChatRoom(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_rooms SET updated_at = $2,
		document = jsonb_set(document, '{UpdatedAt}', to_jsonb($2::timestamptz)) WHERE id = $1`, roomID, nowUTC())
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateChatMessage(ctx context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = nowUTC()
	}
	doc, err := json.Marshal(msg)
	if err != nil {
		return store.ChatMessage{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chat_messages (id, room_id, ts, document) VALUES ($1, $2, $3, $4)`,
		msg.ID, msg.RoomID, msg.Timestamp, doc)
	if err != nil {
		return store.ChatMessage{}, translate(err)
	}
	return msg, nil
}

func (s *Store) ListChatMessages(ctx context.Context, roomID string, limit int, cursor *store.Cursor) ([]store.ChatMessage, error) {
	query := `SELECT document FROM chat_messages WHERE room_id = $1`
	args := []any{roomID}
	if cursor != nil && !cursor.Timestamp.IsZero() {
		query += fmt.Sprintf(` AND (ts < $%d OR (ts = $%d AND id < $%d))`, len(args)+1, len(args)+1, len(args)+2)
		args = append(args, cursor.Timestamp, cursor.ID)
	}
	query += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []store.ChatMessage
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var msg store.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) CreateVideoRoom(ctx context.Context, room store.VideoRoom) (store.VideoRoom, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := nowUTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	doc, err := json.Marshal(room)
	if err != nil {
		return store.VideoRoom{}, err
	}
	var code sql.NullString
	if room.Code != "" {
		code = sql.NullString{String: room.Code, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO video_rooms (id, code, updated_at, participants, max_participants, document)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		room.ID, code, room.UpdatedAt, pqStringArray(room.Participants), room.MaxParticipants, doc)
	if err != nil {
		return store.VideoRoom{}, translate(err)
	}
	return room, nil
}

func (s *Store) GetVideoRoom(ctx context.Context, id string) (store.VideoRoom, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM video_rooms WHERE id = $1`, id)
	if err != nil {
		return store.VideoRoom{}, translate(err)
	}
	var room store.VideoRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return store.VideoRoom{}, err
	}
	return room, nil
}

func (s *Store) GetVideoRoomByCode(ctx context.Context, code string) (store.VideoRoom, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM video_rooms WHERE code = $1`, code)
	if err != nil {
		return store.VideoRoom{}, translate(err)
	}
	var room store.VideoRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return store.VideoRoom{}, err
	}
	return room, nil
}

func (s *Store) VideoRoomCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM video_rooms WHERE code = $1)`, code)
	return exists, translate(err)
}

// AddVideoParticipant runs the read-check-write inside a single transaction
// with a row lock, so it behaves as the atomic compare-and-set the video
// engine's capacity invariant (spec §5) requires even across connections.
func (s *Store) AddVideoParticipant(ctx context.Context, roomID string, participant store.VideoParticipant) (store.VideoRoom, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.VideoRoom{}, translate(err)
	}
	defer tx.Rollback()

	var raw []byte
	var maxParticipants int
	row := tx.QueryRowxContext(ctx, `SELECT document, max_participants FROM video_rooms WHERE id = $1 FOR UPDATE`, roomID)
	if err := row.Scan(&raw, &maxParticipants); err != nil {
		return store.VideoRoom{}, translate(err)
	}

	var room store.VideoRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return store.VideoRoom{}, err
	}
	if room.HasParticipant(participant.UserID) {
		return room, nil
	}
	if maxParticipants > 0 && len(room.Participants) >= maxParticipants {
		return store.VideoRoom{}, store.ErrRoomFull
	}
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = nowUTC()
	}
	room.Participants = append(room.Participants, participant.UserID)
	room.UpdatedAt = nowUTC()

	doc, err := json.Marshal(room)
	if err != nil {
		return store.VideoRoom{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE video_rooms SET participants = $2, updated_at = $3, document = $4 WHERE id = $1`,
		roomID, pqStringArray(room.Participants), room.UpdatedAt, doc); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	pdoc, err := json.Marshal(participant)
	if err != nil {
		return store.VideoRoom{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO video_participants (room_id, user_id, joined_at, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, user_id) DO UPDATE SET document = EXCLUDED.document`,
		roomID, participant.UserID, participant.JoinedAt, pdoc); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	return room, nil
}

func (s *Store) RemoveVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoRoom, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.VideoRoom{}, translate(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx, `SELECT document FROM video_rooms WHERE id = $1 FOR UPDATE`, roomID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	var room store.VideoRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return store.VideoRoom{}, err
	}
	kept := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	room.UpdatedAt = nowUTC()
	doc, err := json.Marshal(room)
	if err != nil {
		return store.VideoRoom{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE video_rooms SET participants = $2, updated_at = $3, document = $4 WHERE id = $1`,
		roomID, pqStringArray(room.Participants), room.UpdatedAt, doc); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM video_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return store.VideoRoom{}, translate(err)
	}
	return room, nil
}

func (s *Store) DeleteVideoParticipants(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE video_rooms SET participants = '{}', updated_at = $2,
		document = jsonb_set(document, '{Participants}', '[]'::jsonb) WHERE id = $1`, roomID, nowUTC())
	if err != nil {
		return translate(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM video_participants WHERE room_id = $1`, roomID); err != nil {
		return translate(err)
	}
	return translate(tx.Commit())
}

func (s *Store) GetVideoParticipant(ctx context.Context, roomID, userID string) (store.VideoParticipant, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT document FROM video_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return store.VideoParticipant{}, translate(err)
	}
	var p store.VideoParticipant
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.VideoParticipant{}, err
	}
	return p, nil
}

func (s *Store) ListVideoParticipants(ctx context.Context, roomID string) ([]store.VideoParticipant, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT document FROM video_participants WHERE room_id = $1 ORDER BY joined_at ASC`, roomID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []store.VideoParticipant
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p store.VideoParticipant
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVideoParticipant(ctx context.Context, roomID, userID string, mutate func(*store.VideoParticipant)) (store.VideoParticipant, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.VideoParticipant{}, translate(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx, `SELECT document FROM video_participants WHERE room_id = $1 AND user_id = $2 FOR UPDATE`, roomID, userID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return store.VideoParticipant{}, translate(err)
	}
	var p store.VideoParticipant
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.VideoParticipant{}, err
	}
	mutate(&p)
	doc, err := json.Marshal(p)
	if err != nil {
		return store.VideoParticipant{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE video_participants SET document = $3 WHERE room_id = $1 AND user_id = $2`, roomID, userID, doc); err != nil {
		return store.VideoParticipant{}, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return store.VideoParticipant{}, translate(err)
	}
	return p, nil
}

func decodeChatRoom(raw []byte) (store.ChatRoom, error) {
	var room store.ChatRoom
	if err := json.Unmarshal(raw, &room); err != nil {
		return store.ChatRoom{}, err
	}
	return room, nil
}

func pqStringArray(in []string) any {
	if in == nil {
		in = []string{}
	}
	return pq.Array(in)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

var _ store.Store = (*Store)(nil)
