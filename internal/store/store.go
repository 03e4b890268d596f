// Package store implements the durable message store on top of SQLite.
// Every aggregate it returns is computed from the messages table on demand.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/hellochat/internal/models"
)

// ErrNotFound is returned when a user or message row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const userColumns = `id, username, display_name, avatar_url, bio, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.Bio, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return u, nil
}

func (s *Store) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// ListUsersExcept returns every user other than id ordered by username.
func (s *Store) ListUsersExcept(ctx context.Context, id int64) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY username`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// UsersByID returns the users with the given ids. Unknown ids are skipped.
func (s *Store) UsersByID(ctx context.Context, ids []int64) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `) ORDER BY username`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]*models.User, error) {
	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
}

// UpdateProfile overwrites the non-nil fields. Last write wins.
func (s *Store) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate) (*models.User, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			display_name = COALESCE(?, display_name),
			bio = COALESCE(?, bio),
			avatar_url = COALESCE(?, avatar_url),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, p.DisplayName, p.Bio, p.AvatarURL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.GetUser(ctx, id)
}

const messageColumns = `id, sender_id, receiver_id, text, image_url, seen, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	m := &models.Message{}
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ImageURL, &m.Seen, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMessage inserts an unseen message and returns the stored row.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID int64, text, imageURL string) (*models.Message, error) {
	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		ImageURL:   imageURL,
		CreatedAt:  s.now().UTC(),
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, text, image_url, seen, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, msg.SenderID, msg.ReceiverID, msg.Text, msg.ImageURL, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return m, nil
}

// DeleteMessage removes the row. Deleting a missing row returns ErrNotFound.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSeen flips seen on one message. It reports whether the row changed.
func (s *Store) MarkSeen(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "UPDATE messages SET seen = 1 WHERE id = ? AND seen = 0", id)
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	return n > 0, nil
}

// MarkConversationSeen marks every unseen message from senderID to receiverID
// as seen and returns how many rows changed.
func (s *Store) MarkConversationSeen(ctx context.Context, receiverID, senderID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = 1
		WHERE receiver_id = ? AND sender_id = ? AND seen = 0
	`, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to update messages: %w", err)
	}
	return result.RowsAffected()
}

// Conversation returns all messages between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UnseenCounts groups the receiver's unseen messages by sender.
func (s *Store) UnseenCounts(ctx context.Context, receiverID int64) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = ? AND seen = 0
		GROUP BY sender_id
	`, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unseen messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var sender int64
		var n int
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unseen count: %w", err)
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

func (s *Store) UnseenCountFrom(ctx context.Context, receiverID, senderID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND sender_id = ? AND seen = 0
	`, receiverID, senderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unseen messages: %w", err)
	}
	return n, nil
}

// Counterparties returns the distinct users that exchanged at least one
// message with userID, in either direction.
func (s *Store) Counterparties(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT receiver_id FROM messages WHERE sender_id = ?
		UNION
		SELECT sender_id FROM messages WHERE receiver_id = ?
		ORDER BY 1
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation members: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
