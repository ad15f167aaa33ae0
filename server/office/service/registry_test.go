package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"office_server/server/office/domain"
)

func TestIdentifySendsWelcomeAndAnnouncesParticipant(t *testing.T) {
	o := newTestOffice(t)
	_, observer := join(t, o, "observer")
	observer.reset()

	sink := &recordingSink{}
	sessionID := o.Connect(sink)
	snapshot, err := o.Identify(sessionID, participant("alice"))
	require.NoError(t, err)

	assert.Equal(t, sessionID, snapshot.SessionID)
	assert.Equal(t, domain.StatusOnline, snapshot.Self.Status)
	assert.False(t, snapshot.Self.InOffice)
	assert.Empty(t, snapshot.Self.CurrentSpaceID)
	assert.Equal(t, DefaultLobby, snapshot.Self.Position)
	assert.Len(t, snapshot.Roster, 2)
	assert.Len(t, snapshot.Spaces, 4)
	require.NotEmpty(t, snapshot.Threads)
	assert.Equal(t, domain.GeneralThreadID, snapshot.Threads[0].ID)
	assert.False(t, snapshot.Restored)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventWelcome, events[0].Type)
	assert.Equal(t, testOrg, events[0].OrganizationID)

	joined := observer.ofType(domain.EventRosterUpdated)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].Roster.Joined[0].Participant.ID)
}

func TestIdentifyIsIdempotentForSameSession(t *testing.T) {
	o := newTestOffice(t)
	sessionID, sink := join(t, o, "alice")
	before := o.Version()

	_, err := o.Identify(sessionID, participant("alice"))
	require.NoError(t, err)

	assert.Equal(t, before, o.Version())
	assert.Len(t, o.Roster(), 1)
	assert.Len(t, sink.ofType(domain.EventWelcome), 2)
}

func TestIdentifyRejections(t *testing.T) {
	o := newTestOffice(t)
	sessionID, _ := join(t, o, "alice")

	_, err := o.Identify(sessionID, participant("bob"))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	other := o.Connect(&recordingSink{})
	foreign := participant("mallory")
	foreign.OrganizationID = "org-2"
	_, err = o.Identify(other, foreign)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = o.Identify(other, domain.Participant{OrganizationID: testOrg})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = o.Identify("missing-session", participant("carol"))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	assert.Len(t, o.Roster(), 1)
}

func TestUnboundSessionCannotMutate(t *testing.T) {
	o := newTestOffice(t)
	_, observer := join(t, o, "observer")
	observer.reset()
	before := o.Version()

	unbound := o.Connect(&recordingSink{})
	_, err := o.Move(unbound, "", domain.Position{X: 10, Y: 10})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = o.SetSessionStatus(unbound, "", domain.StatusBusy)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = o.EnterSpace(unbound, "desk-1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = o.SendChat(t.Context(), unbound, domain.ChatSendPayload{ThreadID: domain.GeneralThreadID, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = o.PlaceObject(unbound, domain.PlaceObjectPayload{Kind: domain.ObjectKindPlant})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	assert.Equal(t, before, o.Version())
	assert.Empty(t, observer.all())
}

func TestRebindSupersedesPriorSession(t *testing.T) {
	o := newTestOffice(t)
	first, firstSink := join(t, o, "alice")
	_, err := o.SetSessionStatus(first, "", domain.StatusBusy)
	require.NoError(t, err)

	second, secondSink := join(t, o, "alice")

	assert.True(t, firstSink.isClosed())
	require.Len(t, firstSink.ofType(domain.EventSuperseded), 1)
	assert.Len(t, o.Roster(), 1)

	welcome := secondSink.ofType(domain.EventWelcome)
	require.Len(t, welcome, 1)
	assert.True(t, welcome[0].Snapshot.Restored)
	assert.Equal(t, domain.StatusBusy, welcome[0].Snapshot.Self.Status)

	// The old transport closing later must not touch the live session.
	o.Disconnect(first)
	record, err := o.Presence("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBusy, record.Status)

	participantID, ok := o.SessionParticipant(second)
	assert.True(t, ok)
	assert.Equal(t, "alice", participantID)
	_, ok = o.SessionParticipant(first)
	assert.False(t, ok)
}

func TestDisconnectRetainsRecordAndReconnectRestores(t *testing.T) {
	o := newTestOffice(t)
	_, observer := join(t, o, "observer")
	sessionID, _ := joinAt(t, o, "alice", domain.Position{X: 52, Y: 51})
	_, err := o.EnterSpace(sessionID, "desk-1")
	require.NoError(t, err)
	_, err = o.SetSessionStatus(sessionID, "", domain.StatusAway)
	require.NoError(t, err)
	observer.reset()

	o.Disconnect(sessionID)

	record, err := o.Presence("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, record.Status)
	assert.Equal(t, "desk-1", record.CurrentSpaceID)
	updates := observer.ofType(domain.EventPresenceUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{domain.FieldStatus}, updates[0].Presence.Fields)

	_, sink := join(t, o, "alice")
	welcome := sink.ofType(domain.EventWelcome)
	require.Len(t, welcome, 1)
	assert.True(t, welcome[0].Snapshot.Restored)
	assert.Equal(t, domain.StatusAway, welcome[0].Snapshot.Self.Status)
	assert.Equal(t, "desk-1", welcome[0].Snapshot.Self.CurrentSpaceID)
	assertConsistent(t, o)
}

func TestGraceExpiryRemovesParticipantAndReleasesSpace(t *testing.T) {
	o := newTestOffice(t, func(opts *Options) { opts.GracePeriod = 20 * time.Millisecond })
	_, observer := join(t, o, "observer")
	sessionID, _ := joinAt(t, o, "alice", domain.Position{X: 52, Y: 51})
	_, err := o.EnterSpace(sessionID, "desk-1")
	require.NoError(t, err)
	observer.reset()

	o.Disconnect(sessionID)

	require.Eventually(t, func() bool {
		_, err := o.Presence("alice")
		return err != nil
	}, time.Second, 5*time.Millisecond)

	desk, err := o.Space("desk-1")
	require.NoError(t, err)
	assert.Empty(t, desk.Occupants)

	left := observer.ofType(domain.EventRosterUpdated)
	require.Len(t, left, 1)
	assert.Equal(t, []string{"alice"}, left[0].Roster.Left)
	require.Len(t, left[0].Spaces, 1)
	assert.Equal(t, "desk-1", left[0].Spaces[0].ID)
	assert.Empty(t, left[0].Spaces[0].Occupants)
	assert.Empty(t, observer.ofType(domain.EventSpaceUpdated))
	assertConsistent(t, o)
}

func TestStaleGraceTimerDoesNothingAfterReconnect(t *testing.T) {
	o := newTestOffice(t)
	sessionID, _ := join(t, o, "alice")
	o.Disconnect(sessionID)

	o.mu.Lock()
	staleGen := o.presence["alice"].graceGen
	o.mu.Unlock()

	join(t, o, "alice")
	o.expireGrace("alice", staleGen)

	record, err := o.Presence("alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, record.Status)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	o := newTestOffice(t)
	slow := &recordingSink{limit: 1}
	slowSession := o.Connect(slow)
	_, err := o.Identify(slowSession, participant("slow"))
	require.NoError(t, err)

	sessionID, fast := join(t, o, "alice")
	for i := 0; i < 3; i++ {
		_, err := o.Move(sessionID, "", domain.Position{X: float64(10 + i), Y: 10})
		require.NoError(t, err)
	}

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Len(t, fast.ofType(domain.EventPresenceUpdated), 3)
}
