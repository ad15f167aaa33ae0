package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"office_server/server/office/domain"
)

//go:embed schema.sql
var schemaSQL string

// ChatRepository archives chat threads and messages. Writes are idempotent
// so redelivered events are harmless.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(schemaSQL) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (r *ChatRepository) SaveThread(ctx context.Context, organizationID string, thread domain.ChatThread) error {
	participants := thread.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO office_threads(org_id, thread_id, kind, name, participants, created_by, last_seq, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, thread_id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    name = EXCLUDED.name,
		    participants = EXCLUDED.participants,
		    created_by = EXCLUDED.created_by,
		    last_seq = GREATEST(office_threads.last_seq, EXCLUDED.last_seq)
	`, organizationID, thread.ID, string(thread.Kind), thread.Name, participants, thread.CreatedBy, int64(thread.LastSeq), thread.CreatedAt)
	return err
}

// SaveMessage stores msg and advances the thread's last sequence. It
// reports false when the message was already archived.
func (r *ChatRepository) SaveMessage(ctx context.Context, organizationID string, msg domain.ChatMessage) (bool, error) {
	var attachment []byte
	if msg.Attachment != nil {
		raw, err := json.Marshal(msg.Attachment)
		if err != nil {
			return false, err
		}
		attachment = raw
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO office_messages(org_id, thread_id, seq, message_id, sender_id, content, message_type, attachment, client_msg_id, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`, organizationID, msg.ThreadID, int64(msg.Seq), msg.ID, msg.SenderID, msg.Content, string(msg.Type), attachment, msg.ClientMsgID, msg.Timestamp)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// Threads can be seen for the first time through a message (general).
	if _, err := tx.Exec(ctx, `
		INSERT INTO office_threads(org_id, thread_id, kind, last_seq, created_at, last_message_preview, last_message_at)
		VALUES($1, $2, $3, $4, $5, $6, $5)
		ON CONFLICT (org_id, thread_id) DO UPDATE
		SET last_seq = GREATEST(office_threads.last_seq, EXCLUDED.last_seq),
		    last_message_preview = CASE WHEN EXCLUDED.last_seq >= office_threads.last_seq
		        THEN EXCLUDED.last_message_preview ELSE office_threads.last_message_preview END,
		    last_message_at = CASE WHEN EXCLUDED.last_seq >= office_threads.last_seq
		        THEN EXCLUDED.last_message_at ELSE office_threads.last_message_at END
	`, organizationID, msg.ThreadID, string(ThreadKindFromID(msg.ThreadID)), int64(msg.Seq), msg.Timestamp, msg.Preview()); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListMessages returns up to limit messages with seq < beforeSeq, oldest
// first. A zero beforeSeq starts from the newest message.
func (r *ChatRepository) ListMessages(ctx context.Context, organizationID, threadID string, beforeSeq uint64, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT message_id, thread_id, seq, sender_id, content, message_type, attachment, client_msg_id, created_at
		FROM office_messages
		WHERE org_id=$1 AND thread_id=$2`
	args := []any{organizationID, threadID}
	if beforeSeq > 0 {
		query += ` AND seq < $3 ORDER BY seq DESC LIMIT $4`
		args = append(args, int64(beforeSeq), limit)
	} else {
		query += ` ORDER BY seq DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ChatMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func scanMessage(rows pgx.Rows) (domain.ChatMessage, error) {
	var (
		msg        domain.ChatMessage
		seq        int64
		msgType    string
		attachment []byte
	)
	if err := rows.Scan(&msg.ID, &msg.ThreadID, &seq, &msg.SenderID, &msg.Content, &msgType, &attachment, &msg.ClientMsgID, &msg.Timestamp); err != nil {
		return msg, err
	}
	msg.Seq = uint64(seq)
	msg.Type = domain.MessageType(msgType)
	if len(attachment) > 0 {
		msg.Attachment = &domain.Attachment{}
		if err := json.Unmarshal(attachment, msg.Attachment); err != nil {
			return msg, fmt.Errorf("decode attachment of %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

// ListThreads returns every archived thread of the organization.
func (r *ChatRepository) ListThreads(ctx context.Context, organizationID string) ([]domain.ChatThread, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT thread_id, kind, name, participants, created_by, last_seq, created_at, last_message_preview, last_message_at
		FROM office_threads
		WHERE org_id=$1
		ORDER BY created_at, thread_id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ChatThread, 0)
	for rows.Next() {
		var (
			t       domain.ChatThread
			kind    string
			lastSeq int64
		)
		if err := rows.Scan(&t.ID, &kind, &t.Name, &t.Participants, &t.CreatedBy, &lastSeq, &t.CreatedAt, &t.LastMessagePreview, &t.LastMessageAt); err != nil {
			return nil, err
		}
		t.Kind = domain.ThreadKind(kind)
		t.LastSeq = uint64(lastSeq)
		items = append(items, t)
	}
	return items, rows.Err()
}

// ThreadKindFromID derives the thread kind from its id format.
func ThreadKindFromID(threadID string) domain.ThreadKind {
	switch {
	case threadID == domain.GeneralThreadID:
		return domain.ThreadKindGeneral
	case strings.HasPrefix(threadID, "dm:"):
		return domain.ThreadKindDirect
	default:
		return domain.ThreadKindGroup
	}
}
