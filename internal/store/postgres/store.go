// Package postgres implements the chat persistence collaborators on
// PostgreSQL. Each conversation is kept as a single JSONB document so the
// message log is read and written atomically with its flow state.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"

	"github.com/listingchat/chat-app/internal/chat"
)

// Store manages rooms, conversations and user profiles in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ chat.Store = (*Store)(nil)

// Open connects to PostgreSQL, verifies the connection and applies
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const roomColumns = `id, listing_id, participants, status, last_message, last_message_sender,
	last_message_at, read_by, has_messages, first_message_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*chat.Room, error) {
	var (
		r          chat.Room
		status     string
		lastText   sql.NullString
		lastSender sql.NullString
		lastAt     sql.NullTime
		firstAt    sql.NullTime
	)
	err := row.Scan(&r.ID, &r.ListingID, pq.Array(&r.Participants), &status, &lastText, &lastSender,
		&lastAt, pq.Array(&r.ReadBy), &r.HasMessages, &firstAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = chat.RoomStatus(status)
	if lastText.Valid {
		r.LastMessage = &chat.LastMessage{Text: lastText.String, SenderID: lastSender.String, At: lastAt.Time}
	}
	if firstAt.Valid {
		at := firstAt.Time
		r.FirstMessageAt = &at
	}
	return &r, nil
}

// GetRoom loads a room by id.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, roomID)
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: room %s", chat.ErrNotFound, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: get room: %v", chat.ErrInternal, err)
	}
	return r, nil
}

// SaveRoom upserts a room.
func (s *Store) SaveRoom(ctx context.Context, r *chat.Room) error {
	var (
		lastText, lastSender sql.NullString
		lastAt, firstAt      sql.NullTime
	)
	if r.LastMessage != nil {
		lastText = sql.NullString{String: r.LastMessage.Text, Valid: true}
		lastSender = sql.NullString{String: r.LastMessage.SenderID, Valid: true}
		lastAt = sql.NullTime{Time: r.LastMessage.At, Valid: true}
	}
	if r.FirstMessageAt != nil {
		firstAt = sql.NullTime{Time: *r.FirstMessageAt, Valid: true}
	}
	createdAt, updatedAt := r.CreatedAt, r.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	readBy := r.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	const query = `
		INSERT INTO chat_rooms (` + roomColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			participants = EXCLUDED.participants,
			status = EXCLUDED.status,
			last_message = EXCLUDED.last_message,
			last_message_sender = EXCLUDED.last_message_sender,
			last_message_at = EXCLUDED.last_message_at,
			read_by = EXCLUDED.read_by,
			has_messages = EXCLUDED.has_messages,
			first_message_at = EXCLUDED.first_message_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ListingID, pq.Array(r.Participants), string(r.Status), lastText, lastSender,
		lastAt, pq.Array(readBy), r.HasMessages, firstAt, createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: postgres: save room: %v", chat.ErrInternal, err)
	}
	return nil
}

// ListActiveRooms returns active rooms userID participates in, most recent
// activity first.
func (s *Store) ListActiveRooms(ctx context.Context, userID string) ([]*chat.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM chat_rooms
		WHERE status = 'active' AND $1 = ANY(participants)
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: list rooms: %v", chat.ErrInternal, err)
	}
	defer rows.Close()

	var rooms []*chat.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres: scan room: %v", chat.ErrInternal, err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: postgres: list rooms: %v", chat.ErrInternal, err)
	}
	return rooms, nil
}

// GetConversation loads the conversation document of a room.
func (s *Store) GetConversation(ctx context.Context, roomID string) (*chat.Conversation, error) {
	var (
		mode     string
		messages []byte
		c        = chat.Conversation{RoomID: roomID}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, current_state, messages, updated_at FROM conversations WHERE room_id = $1`, roomID,
	).Scan(&mode, &c.CurrentState, &messages, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", chat.ErrNotFound, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: get conversation: %v", chat.ErrInternal, err)
	}
	c.Mode = chat.Mode(mode)
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return nil, fmt.Errorf("%w: postgres: decode messages for %s: %v", chat.ErrInternal, roomID, err)
	}
	if c.Messages == nil {
		c.Messages = []chat.Message{}
	}
	return &c, nil
}

// SaveConversation upserts the conversation document.
func (s *Store) SaveConversation(ctx context.Context, c *chat.Conversation) error {
	msgs := c.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("%w: postgres: encode messages: %v", chat.ErrInternal, err)
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO conversations (room_id, mode, current_state, messages, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			current_state = EXCLUDED.current_state,
			messages = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, c.RoomID, string(c.Mode), c.CurrentState, data, updatedAt); err != nil {
		return fmt.Errorf("%w: postgres: save conversation: %v", chat.ErrInternal, err)
	}
	return nil
}

// GetProfile loads the chat-relevant part of a user profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*chat.Profile, error) {
	p := chat.Profile{ID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, avatar, phone, push_token, notifications_enabled FROM chat_users WHERE id = $1`, userID,
	).Scan(&p.Name, &p.Avatar, &p.Phone, &p.PushToken, &p.NotificationsEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", chat.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: get profile: %v", chat.ErrInternal, err)
	}
	return &p, nil
}

// PutProfile upserts a profile. The marketplace owns user records; this is
// used for seeding and tests.
func (s *Store) PutProfile(ctx context.Context, p chat.Profile) error {
	const query = `
		INSERT INTO chat_users (id, name, avatar, phone, push_token, notifications_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			avatar = EXCLUDED.avatar,
			phone = EXCLUDED.phone,
			push_token = EXCLUDED.push_token,
			notifications_enabled = EXCLUDED.notifications_enabled`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Avatar, p.Phone, p.PushToken, p.NotificationsEnabled)
	if err != nil {
		return fmt.Errorf("%w: postgres: put profile: %v", chat.ErrInternal, err)
	}
	return nil
}

// Seed upserts the rooms and profiles of a seed document. Existing
// conversations are left alone.
func (s *Store) Seed(ctx context.Context, r io.Reader) error {
	data, err := chat.DecodeSeed(r)
	if err != nil {
		return err
	}
	for i := range data.Rooms {
		if err := s.SaveRoom(ctx, &data.Rooms[i]); err != nil {
			return err
		}
	}
	for _, p := range data.Profiles {
		if err := s.PutProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
