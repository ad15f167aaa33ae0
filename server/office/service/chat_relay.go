package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

// HistoryArchive serves messages older than the in-memory tail, oldest first.
type HistoryArchive interface {
	ListMessages(ctx context.Context, organizationID, threadID string, beforeSeq uint64, limit int) ([]domain.ChatMessage, error)
}

type threadState struct {
	thread  domain.ChatThread
	members map[string]struct{}
	tail    []domain.ChatMessage
	readSeq map[string]uint64
	// messages restored from the archive count as read for everyone
	baseSeq uint64
}

func newThreadState(thread domain.ChatThread) *threadState {
	sort.Strings(thread.Participants)
	t := &threadState{
		thread:  thread,
		members: make(map[string]struct{}, len(thread.Participants)),
		readSeq: map[string]uint64{},
	}
	for _, id := range thread.Participants {
		t.members[id] = struct{}{}
	}
	return t
}

// view is the thread as participantID sees it, unread count included.
func (t *threadState) view(participantID string) domain.ChatThread {
	out := t.thread.Clone()
	out.UnreadCount = 0
	if read := t.readCursor(participantID); t.thread.LastSeq > read {
		out.UnreadCount = t.thread.LastSeq - read
	}
	return out
}

func (t *threadState) subscribed(participantID string) bool {
	if t.thread.Kind == domain.ThreadKindGeneral {
		return true
	}
	_, ok := t.members[participantID]
	return ok
}

func (t *threadState) filter() subscriberFilter {
	if t.thread.Kind == domain.ThreadKindGeneral {
		return allBound
	}
	return t.subscribed
}

func (t *threadState) readCursor(participantID string) uint64 {
	if read := t.readSeq[participantID]; read > t.baseSeq {
		return read
	}
	return t.baseSeq
}

// DirectThreadID is the same for both orderings of a pair.
func DirectThreadID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// GetOrCreateDirectThread returns the direct thread between a and b, creating
// it on first use. Concurrent callers converge on one thread.
func (o *Office) GetOrCreateDirectThread(a, b string) (domain.ChatThread, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.participantLocked(a); err != nil {
		return domain.ChatThread{}, err
	}
	return o.directThreadLocked(a, b)
}

func (o *Office) CreateDirect(sessionID, otherID string) (domain.ChatThread, error) {
	var out domain.ChatThread
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		var err error
		out, err = o.directThreadLocked(st.record.Participant.ID, otherID)
		return err
	})
	return out, err
}

func (o *Office) directThreadLocked(a, b string) (domain.ChatThread, error) {
	b = strings.TrimSpace(b)
	if a == b || b == "" {
		return domain.ChatThread{}, domain.ErrInvalidCommand
	}
	id := DirectThreadID(a, b)
	if t, ok := o.threads[id]; ok {
		return t.view(a), nil
	}
	if _, ok := o.presence[b]; !ok {
		commonlog.Warnf("event=office_chat action=create_direct status=rejected reason=unknown_participant participant_id=%s other_id=%s", a, b)
		return domain.ChatThread{}, domain.ErrUnknownParticipant
	}
	t := newThreadState(domain.ChatThread{
		ID:           id,
		Kind:         domain.ThreadKindDirect,
		Name:         o.presence[a].record.Participant.Name + " & " + o.presence[b].record.Participant.Name,
		Participants: []string{a, b},
		CreatedBy:    a,
		CreatedAt:    o.now(),
	})
	o.threads[id] = t
	o.publishThreadLocked(t)
	return t.thread.Clone(), nil
}

// CreateGroupThread opens a named thread for creator and members.
func (o *Office) CreateGroupThread(creatorID, name string, memberIDs []string) (domain.ChatThread, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.participantLocked(creatorID); err != nil {
		return domain.ChatThread{}, err
	}
	return o.groupThreadLocked(creatorID, name, memberIDs)
}

func (o *Office) CreateGroup(sessionID, name string, memberIDs []string) (domain.ChatThread, error) {
	var out domain.ChatThread
	err := o.withActor(sessionID, "", func(st *presenceState) error {
		var err error
		out, err = o.groupThreadLocked(st.record.Participant.ID, name, memberIDs)
		return err
	})
	return out, err
}

func (o *Office) groupThreadLocked(creatorID, name string, memberIDs []string) (domain.ChatThread, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ChatThread{}, domain.ErrInvalidCommand
	}
	seen := map[string]struct{}{creatorID: {}}
	participants := []string{creatorID}
	for _, raw := range memberIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if _, ok := o.presence[id]; !ok {
			return domain.ChatThread{}, domain.ErrUnknownParticipant
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return domain.ChatThread{}, domain.ErrInvalidCommand
	}
	t := newThreadState(domain.ChatThread{
		ID:           "grp:" + uuid.NewString(),
		Kind:         domain.ThreadKindGroup,
		Name:         name,
		Participants: participants,
		CreatedBy:    creatorID,
		CreatedAt:    o.now(),
	})
	o.threads[t.thread.ID] = t
	o.publishThreadLocked(t)
	return t.thread.Clone(), nil
}

func (o *Office) publishThreadLocked(t *threadState) {
	thread := t.thread.Clone()
	o.publishLocked(domain.Event{Type: domain.EventThreadCreated, Version: o.nextVersion(), Thread: &thread}, t.filter())
	commonlog.Infof("event=office_chat action=create_thread status=ok thread_id=%s kind=%s members=%d", thread.ID, thread.Kind, len(thread.Participants))
}

// Route appends a message to a thread and delivers it to the thread's bound
// subscribers in sequence order. A client_msg_id already seen from the same
// sender in the same thread is rejected with ErrDuplicateMessage.
func (o *Office) Route(ctx context.Context, senderID string, p domain.ChatSendPayload) (domain.ChatMessage, error) {
	if err := p.Validate(); err != nil {
		return domain.ChatMessage{}, err
	}
	if p.AttachmentKey != "" && !OwnsAttachment(senderID, p.AttachmentKey) {
		return domain.ChatMessage{}, fmt.Errorf("%w: attachment was not uploaded by the sender", domain.ErrInvalidMessage)
	}
	if p.ThumbnailKey != "" && p.ThumbnailKey != ThumbnailKey(p.AttachmentKey) {
		return domain.ChatMessage{}, fmt.Errorf("%w: thumbnail does not match the attachment", domain.ErrInvalidMessage)
	}

	key := ""
	if p.ClientMsgID != "" {
		key = chatIdempotencyKey(o.opts.OrganizationID, p.ThreadID, senderID, p.ClientMsgID)
		ok, err := o.opts.Dedupe.Reserve(ctx, key)
		if err != nil {
			commonlog.Errorf("event=office_chat action=reserve_client_msg_id status=failed thread_id=%s sender_id=%s error=%v", p.ThreadID, senderID, err)
			return domain.ChatMessage{}, fmt.Errorf("reserve client_msg_id: %w", err)
		}
		if !ok {
			return domain.ChatMessage{}, domain.ErrDuplicateMessage
		}
	}

	o.mu.Lock()
	msg, err := o.routeLocked(senderID, p)
	o.mu.Unlock()

	if err != nil && key != "" {
		o.opts.Dedupe.Release(ctx, key)
	}
	return msg, err
}

// SendChat routes a message on behalf of a session.
func (o *Office) SendChat(ctx context.Context, sessionID string, p domain.ChatSendPayload) (domain.ChatMessage, error) {
	senderID, ok := o.SessionParticipant(sessionID)
	if !ok {
		return domain.ChatMessage{}, domain.ErrUnauthenticated
	}
	return o.Route(ctx, senderID, p)
}

func (o *Office) routeLocked(senderID string, p domain.ChatSendPayload) (domain.ChatMessage, error) {
	t, ok := o.threads[p.ThreadID]
	if !ok {
		commonlog.Warnf("event=office_chat action=send status=rejected reason=unknown_thread thread_id=%s sender_id=%s", p.ThreadID, senderID)
		return domain.ChatMessage{}, domain.ErrUnknownThread
	}
	if _, err := o.participantLocked(senderID); err != nil {
		return domain.ChatMessage{}, err
	}
	if !t.subscribed(senderID) {
		return domain.ChatMessage{}, domain.ErrForbidden
	}

	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		ThreadID:    t.thread.ID,
		Seq:         t.thread.LastSeq + 1,
		SenderID:    senderID,
		Content:     p.Content,
		Type:        p.Type,
		ClientMsgID: p.ClientMsgID,
		Timestamp:   o.now(),
	}
	if p.AttachmentKey != "" {
		msg.Attachment = &domain.Attachment{
			ObjectKey:    p.AttachmentKey,
			ThumbnailKey: strings.TrimSpace(p.ThumbnailKey),
			ContentType:  strings.TrimSpace(p.ContentType),
		}
		o.attachmentThreads[msg.Attachment.ObjectKey] = t.thread.ID
		o.attachmentThreads[ThumbnailKey(msg.Attachment.ObjectKey)] = t.thread.ID
	}
	t.thread.Summarize(msg)
	t.readSeq[senderID] = msg.Seq
	t.tail = append(t.tail, msg)
	if over := len(t.tail) - o.opts.ChatTail; over > 0 {
		t.tail = append(t.tail[:0:0], t.tail[over:]...)
	}
	out := msg
	fanout := o.publishLocked(domain.Event{Type: domain.EventChatMessage, Version: o.nextVersion(), Message: &out}, t.filter())
	commonlog.Debugf("event=office_chat action=send status=ok thread_id=%s seq=%d sender_id=%s fanout_count=%d", t.thread.ID, msg.Seq, senderID, fanout)
	return msg, nil
}

// History returns up to limit messages before beforeSeq (0 means latest),
// oldest first. Pages reaching past the in-memory tail are completed from the
// archive when one is configured.
func (o *Office) History(ctx context.Context, requesterID, threadID string, beforeSeq uint64, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	o.mu.Lock()
	t, ok := o.threads[threadID]
	if !ok {
		o.mu.Unlock()
		return nil, domain.ErrUnknownThread
	}
	if !t.subscribed(requesterID) {
		o.mu.Unlock()
		return nil, domain.ErrForbidden
	}
	if beforeSeq == 0 {
		beforeSeq = t.thread.LastSeq + 1
	}
	end := sort.Search(len(t.tail), func(i int) bool { return t.tail[i].Seq >= beforeSeq })
	start := end - limit
	if start < 0 {
		start = 0
	}
	page := append([]domain.ChatMessage{}, t.tail[start:end]...)
	o.mu.Unlock()

	missing := limit - len(page)
	oldest := beforeSeq
	if len(page) > 0 {
		oldest = page[0].Seq
	}
	if missing <= 0 || oldest <= 1 || o.opts.Archive == nil {
		return page, nil
	}
	older, err := o.opts.Archive.ListMessages(ctx, o.opts.OrganizationID, threadID, oldest, missing)
	if err != nil {
		commonlog.Errorf("event=office_chat action=history status=archive_failed thread_id=%s before_seq=%d error=%v", threadID, oldest, err)
		return page, fmt.Errorf("load archived messages: %w", err)
	}
	return append(older, page...), nil
}

// SessionHistory is History for the participant bound to a session.
func (o *Office) SessionHistory(ctx context.Context, sessionID, threadID string, beforeSeq uint64, limit int) ([]domain.ChatMessage, error) {
	requesterID, ok := o.SessionParticipant(sessionID)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return o.History(ctx, requesterID, threadID, beforeSeq, limit)
}

// CanReadAttachment reports whether participantID may fetch key: the uploader
// always can, anyone else only through a thread they belong to that carried it.
func (o *Office) CanReadAttachment(participantID, key string) bool {
	if OwnsAttachment(participantID, key) {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	threadID, ok := o.attachmentThreads[key]
	if !ok {
		return false
	}
	t, ok := o.threads[threadID]
	return ok && t.subscribed(participantID)
}

// MarkRead moves participantID's read cursor in a thread forward to seq. A
// zero seq, or one past the newest message, marks the whole thread read. The
// cursor never moves backwards.
func (o *Office) MarkRead(participantID, threadID string, seq uint64) (domain.ChatThread, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.participantLocked(participantID); err != nil {
		return domain.ChatThread{}, err
	}
	t, ok := o.threads[threadID]
	if !ok {
		return domain.ChatThread{}, domain.ErrUnknownThread
	}
	if !t.subscribed(participantID) {
		return domain.ChatThread{}, domain.ErrForbidden
	}
	if seq == 0 || seq > t.thread.LastSeq {
		seq = t.thread.LastSeq
	}
	if seq > t.readCursor(participantID) {
		t.readSeq[participantID] = seq
	}
	commonlog.Debugf("event=office_chat action=mark_read status=ok thread_id=%s participant_id=%s read_seq=%d", threadID, participantID, t.readCursor(participantID))
	return t.view(participantID), nil
}

// SessionMarkRead is MarkRead for the participant bound to a session.
func (o *Office) SessionMarkRead(sessionID, threadID string, seq uint64) (domain.ChatThread, error) {
	participantID, ok := o.SessionParticipant(sessionID)
	if !ok {
		return domain.ChatThread{}, domain.ErrUnauthenticated
	}
	return o.MarkRead(participantID, threadID, seq)
}

// ThreadsFor lists the threads a participant subscribes to.
func (o *Office) ThreadsFor(participantID string) []domain.ChatThread {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.threadsForLocked(participantID)
}

func (o *Office) threadsForLocked(participantID string) []domain.ChatThread {
	out := []domain.ChatThread{}
	for _, t := range o.threads {
		if t.subscribed(participantID) {
			out = append(out, t.view(participantID))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind == domain.ThreadKindGeneral || out[j].Kind == domain.ThreadKindGeneral {
			return out[i].Kind == domain.ThreadKindGeneral
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RestoreThreads loads archived threads at startup so sequence numbers keep
// increasing across restarts.
func (o *Office) RestoreThreads(threads []domain.ChatThread) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, thread := range threads {
		if existing, ok := o.threads[thread.ID]; ok {
			if thread.LastSeq > existing.thread.LastSeq {
				existing.thread.LastSeq = thread.LastSeq
				existing.baseSeq = thread.LastSeq
				existing.thread.LastMessagePreview = thread.LastMessagePreview
				existing.thread.LastMessageAt = thread.Clone().LastMessageAt
			}
			continue
		}
		if thread.Kind != domain.ThreadKindDirect && thread.Kind != domain.ThreadKindGroup {
			continue
		}
		restored := newThreadState(thread.Clone())
		restored.baseSeq = thread.LastSeq
		restored.thread.UnreadCount = 0
		o.threads[thread.ID] = restored
	}
}
