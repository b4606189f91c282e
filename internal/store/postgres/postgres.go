// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"getchat/internal/models"
	"getchat/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool, pings it and applies the schema.
func Connect(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info("database connected", zap.String("driver", "postgres"))
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mediaArg(m *models.MediaType) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

func mediaValue(s *string) *models.MediaType {
	if s == nil {
		return nil
	}
	m := models.MediaType(*s)
	return &m
}

// Users

const userColumns = `id, username, email, password_hash, security_codes, bio, avatar_url, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.SecurityCodes,
		&u.Bio, &u.AvatarURL, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.SecurityCodes, u.Bio, u.AvatarURL, u.IsOnline, u.LastSeen, u.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users SET
			username   = COALESCE($2, username),
			bio        = COALESCE($3, bio),
			avatar_url = COALESCE($4, avatar_url)
		WHERE id = $1
		RETURNING `+userColumns,
		id, upd.Username, upd.Bio, upd.AvatarURL))
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	return u, err
}

func (s *Store) ResetPassword(ctx context.Context, email, code, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $3, security_codes = array_remove(security_codes, $2)
		WHERE email = $1 AND $2 = ANY(security_codes)
	`, email, code, passwordHash)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`, id, online, at)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Messages

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, media_url, media_type, timestamp, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.SenderID, m.ReceiverID, m.Content, m.MediaURL, mediaArg(m.MediaType), m.Timestamp, m.IsRead)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, content, media_url, media_type, timestamp, is_read
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY timestamp ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var mediaType *string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.MediaURL, &mediaType, &m.Timestamp, &m.IsRead); err != nil {
			return nil, err
		}
		m.MediaType = mediaValue(mediaType)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, readerID string, ids []string) ([]models.ReadMessage, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE receiver_id = $1 AND id = ANY($2) AND NOT is_read
		RETURNING id, sender_id
	`, readerID, ids)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	defer rows.Close()

	var read []models.ReadMessage
	for rows.Next() {
		var r models.ReadMessage
		if err := rows.Scan(&r.ID, &r.SenderID); err != nil {
			return nil, err
		}
		read = append(read, r)
	}
	return read, rows.Err()
}

// Groups

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO groups (id, name, picture_url, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, g.Name, g.PictureURL, g.CreatedBy, g.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	for _, m := range g.Members {
		_, err = tx.Exec(ctx, `
			INSERT INTO group_members (group_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, g.ID, m.UserID, string(m.Role), m.JoinedAt)
		if err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) members(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, role, joined_at FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []models.GroupMember{}
	for rows.Next() {
		var m models.GroupMember
		var role string
		if err := rows.Scan(&m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	var g models.Group
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, picture_url, created_by, created_at FROM groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.PictureURL, &g.CreatedBy, &g.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	g.Members, err = s.members(ctx, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id
		FROM groups g
		INNER JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroup(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, nil
}

func (s *Store) UpdateGroup(ctx context.Context, id string, upd models.GroupUpdate) (*models.Group, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE groups SET
			name        = COALESCE($2, name),
			picture_url = COALESCE($3, picture_url)
		WHERE id = $1
	`, id, upd.Name, upd.PictureURL)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetGroup(ctx, id)
}

func (s *Store) AddMember(ctx context.Context, groupID string, m models.GroupMember) error {
	return addMember(ctx, s.pool, groupID, m)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func addMember(ctx context.Context, db execer, groupID string, m models.GroupMember) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
		return fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyMember
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertGroupMessage(ctx context.Context, m *models.GroupMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_messages (id, group_id, sender_id, content, media_url, media_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.GroupID, m.SenderID, m.Content, m.MediaURL, mediaArg(m.MediaType), m.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return store.ErrNotFound
		}
		return fmt.Errorf("insert group message: %w", err)
	}
	return nil
}

func (s *Store) GroupMessages(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, sender_id, content, media_url, media_type, timestamp
		FROM group_messages
		WHERE group_id = $1
		ORDER BY timestamp ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.GroupMessage{}
	for rows.Next() {
		var m models.GroupMessage
		var mediaType *string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Content, &m.MediaURL, &mediaType, &m.Timestamp); err != nil {
			return nil, err
		}
		m.MediaType = mediaValue(mediaType)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) UpsertReadMarker(ctx context.Context, marker models.GroupReadMarker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_read_markers (group_id, user_id, timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET timestamp = EXCLUDED.timestamp
	`, marker.GroupID, marker.UserID, marker.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert read marker: %w", err)
	}
	return nil
}

func (s *Store) ReadMarkers(ctx context.Context, groupID string) ([]models.GroupReadMarker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, user_id, timestamp FROM group_read_markers
		WHERE group_id = $1
		ORDER BY user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query read markers: %w", err)
	}
	defer rows.Close()

	markers := []models.GroupReadMarker{}
	for rows.Next() {
		var m models.GroupReadMarker
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Timestamp); err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// Invitations

const invitationColumns = `id, group_id, invited_user_id, invited_by, status, created_at, updated_at`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	var status string
	err := row.Scan(&inv.ID, &inv.GroupID, &inv.InvitedUserID, &inv.InvitedBy, &status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	inv.Status = models.InvitationStatus(status)
	return &inv, nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.GroupID, inv.InvitedUserID, inv.InvitedBy, string(inv.Status), inv.CreatedAt, inv.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrPendingInvitation
	}
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	return scanInvitation(s.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM group_invitations WHERE id = $1`, id))
}

func (s *Store) PendingInvitations(ctx context.Context, userID string) ([]models.Invitation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+invitationColumns+` FROM group_invitations
		WHERE invited_user_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query invitations: %w", err)
	}
	defer rows.Close()

	invs := []models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}

func (s *Store) RespondInvitation(ctx context.Context, id string, status models.InvitationStatus, at time.Time) (*models.Invitation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := scanInvitation(tx.QueryRow(ctx, `
		UPDATE group_invitations SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+invitationColumns,
		id, string(status), at))
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := s.GetInvitation(ctx, id); getErr == nil {
			return nil, store.ErrInvitationClosed
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if status == models.InvitationAccepted {
		err := addMember(ctx, tx, inv.GroupID, models.GroupMember{
			UserID:   inv.InvitedUserID,
			Role:     models.RoleMember,
			JoinedAt: at,
		})
		if err != nil && !errors.Is(err, store.ErrAlreadyMember) {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inv, nil
}

// Truncate empties every table. Used by tests.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE group_invitations, group_read_markers, group_messages,
			group_members, groups, messages, users
	`)
	return err
}
