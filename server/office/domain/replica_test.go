package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presenceEvent(id string, version uint64, pos Position) Event {
	record := PresenceRecord{Participant: Participant{ID: id}, Position: pos, Version: version}
	return Event{
		Type:     EventPresenceUpdated,
		Version:  version,
		Presence: &PresenceDelta{ParticipantID: id, Version: version, Fields: []string{FieldPosition}, Record: record},
	}
}

func TestReplicaIgnoresDuplicateAndStaleDeltas(t *testing.T) {
	r := NewReplica(Snapshot{
		Version: 3,
		Roster:  []PresenceRecord{{Participant: Participant{ID: "p1"}, Version: 3}},
	})

	first := presenceEvent("p1", 7, Position{X: 20, Y: 20})
	require.True(t, r.Apply(first))
	before := r.Presence["p1"]

	assert.False(t, r.Apply(first), "duplicate delivery must not change state")
	assert.Equal(t, before, r.Presence["p1"])

	assert.False(t, r.Apply(presenceEvent("p1", 5, Position{X: 1, Y: 1})))
	assert.Equal(t, Position{X: 20, Y: 20}, r.Presence["p1"].Position)
	assert.Equal(t, uint64(7), r.Version)
}

func TestReplicaSpacesAndRoster(t *testing.T) {
	r := NewReplica(Snapshot{Spaces: []Space{{ID: "desk-1", Capacity: 1, Version: 2}}})

	update := Event{Type: EventSpaceUpdated, Version: 4, Space: &Space{ID: "desk-1", Capacity: 1, Occupants: []string{"p1"}, Version: 4}}
	require.True(t, r.Apply(update))
	assert.False(t, r.Apply(update))
	assert.Equal(t, []string{"p1"}, r.Spaces["desk-1"].Occupants)

	joined := Event{Type: EventRosterUpdated, Version: 5, Roster: &RosterDelta{Joined: []PresenceRecord{{Participant: Participant{ID: "p2"}, Version: 5}}}}
	require.True(t, r.Apply(joined))
	assert.Contains(t, r.Presence, "p2")

	left := Event{Type: EventRosterUpdated, Version: 9, Roster: &RosterDelta{Left: []string{"p2"}}}
	require.True(t, r.Apply(left))
	assert.NotContains(t, r.Presence, "p2")
	assert.False(t, r.Apply(left))
}

func TestReplicaChatSequence(t *testing.T) {
	r := NewReplica(Snapshot{Threads: []ChatThread{{ID: GeneralThreadID, Kind: ThreadKindGeneral}}})

	msg := func(seq uint64) Event {
		return Event{Type: EventChatMessage, Message: &ChatMessage{ThreadID: GeneralThreadID, Seq: seq, Content: "hi"}}
	}
	require.True(t, r.Apply(msg(1)))
	require.True(t, r.Apply(msg(2)))
	assert.False(t, r.Apply(msg(2)))
	assert.Len(t, r.Messages[GeneralThreadID], 2)
	assert.Equal(t, uint64(2), r.Threads[GeneralThreadID].LastSeq)
}

func TestReplicaObjects(t *testing.T) {
	r := NewReplica(Snapshot{})
	placed := Event{Type: EventObjectPlaced, Object: &WorkspaceObject{ID: "o1", Kind: ObjectKindPlant}}
	require.True(t, r.Apply(placed))
	assert.False(t, r.Apply(placed))
	require.True(t, r.Apply(Event{Type: EventObjectRemoved, ObjectID: "o1"}))
	assert.Empty(t, r.Objects)
}

func TestReplicaLeftParticipantStaysGone(t *testing.T) {
	r := NewReplica(Snapshot{Roster: []PresenceRecord{{Participant: Participant{ID: "p1"}, Version: 3}}})

	move := presenceEvent("p1", 7, Position{X: 20, Y: 20})
	require.True(t, r.Apply(move))
	left := Event{Type: EventRosterUpdated, Version: 9, Roster: &RosterDelta{Left: []string{"p1"}}}
	require.True(t, r.Apply(left))

	assert.False(t, r.Apply(move), "late delta must not bring a departed participant back")
	stale := Event{Type: EventRosterUpdated, Version: 8, Roster: &RosterDelta{Joined: []PresenceRecord{{Participant: Participant{ID: "p1"}, Version: 8}}}}
	assert.False(t, r.Apply(stale))
	assert.NotContains(t, r.Presence, "p1")

	rejoin := Event{Type: EventRosterUpdated, Version: 12, Roster: &RosterDelta{Joined: []PresenceRecord{{Participant: Participant{ID: "p1"}, Version: 12}}}}
	require.True(t, r.Apply(rejoin))
	assert.False(t, r.Apply(move))
	assert.Equal(t, uint64(12), r.Presence["p1"].Version)
}

func TestReplicaRemovedObjectStaysGone(t *testing.T) {
	r := NewReplica(Snapshot{})
	placed := Event{Type: EventObjectPlaced, Version: 4, Object: &WorkspaceObject{ID: "o1", Kind: ObjectKindPlant, Version: 4}}
	require.True(t, r.Apply(placed))
	require.True(t, r.Apply(Event{Type: EventObjectRemoved, Version: 6, ObjectID: "o1"}))

	assert.False(t, r.Apply(placed), "late placement must not restore a removed object")
	assert.Empty(t, r.Objects)
}

func TestReplicaAppliesPresenceAndSpacesTogether(t *testing.T) {
	r := NewReplica(Snapshot{
		Roster: []PresenceRecord{{Participant: Participant{ID: "p1"}, Version: 1}},
		Spaces: []Space{{ID: "desk-1", Capacity: 1, Version: 1}},
	})
	record := PresenceRecord{Participant: Participant{ID: "p1"}, CurrentSpaceID: "desk-1", Version: 3}
	ev := Event{
		Type:     EventSpaceUpdated,
		Version:  3,
		Space:    &Space{ID: "desk-1", Capacity: 1, Occupants: []string{"p1"}, Version: 2},
		Presence: &PresenceDelta{ParticipantID: "p1", Version: 3, Fields: []string{FieldSpace}, Record: record},
	}
	require.True(t, r.Apply(ev))
	assert.Equal(t, "desk-1", r.Presence["p1"].CurrentSpaceID)
	assert.Equal(t, []string{"p1"}, r.Spaces["desk-1"].Occupants)
	assert.False(t, r.Apply(ev))
}

func TestReplicaThreadSummary(t *testing.T) {
	r := NewReplica(Snapshot{
		Self:    PresenceRecord{Participant: Participant{ID: "p1"}},
		Threads: []ChatThread{{ID: GeneralThreadID, Kind: ThreadKindGeneral, LastSeq: 4, UnreadCount: 1}},
	})
	require.True(t, r.Apply(Event{Type: EventChatMessage, Message: &ChatMessage{ThreadID: GeneralThreadID, Seq: 5, SenderID: "p2", Content: "standup in five"}}))
	require.True(t, r.Apply(Event{Type: EventChatMessage, Message: &ChatMessage{ThreadID: GeneralThreadID, Seq: 6, SenderID: "p1", Content: "omw"}}))
	assert.False(t, r.Apply(Event{Type: EventChatMessage, Message: &ChatMessage{ThreadID: GeneralThreadID, Seq: 5, SenderID: "p2", Content: "standup in five"}}))

	thread := r.Threads[GeneralThreadID]
	assert.Equal(t, "omw", thread.LastMessagePreview)
	assert.Equal(t, uint64(6), thread.LastSeq)
	assert.Equal(t, uint64(2), thread.UnreadCount)
	require.NotNil(t, thread.LastMessageAt)
}
