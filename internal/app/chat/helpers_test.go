package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"buzzline/internal/app/user"
)

// fakeSender records every payload queued to it. With fail set it rejects all
// sends, standing in for a half-closed transport.
type fakeSender struct {
	mu     sync.Mutex
	events [][]byte
	fail   bool
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("transport gone")
	}

	f.events = append(f.events, data)
	return nil
}

// eventsOfType decodes the sender's recorded payloads and returns those whose
// type field matches.
func (f *fakeSender) eventsOfType(t *testing.T, eventType string) []map[string]any {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, raw := range f.events {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("sender recorded invalid JSON: %v", err)
		}
		if decoded["type"] == eventType {
			out = append(out, decoded)
		}
	}
	return out
}

type memberKey struct {
	userID int64
	roomID int64
}

// fakeStore is the in-memory Store used by gateway tests.
type fakeStore struct {
	mu          sync.Mutex
	memberships map[memberKey]bool
	nextMsgID   int64
	created     []ChatMessage
	markers     map[memberKey]int64
	failCreate  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: make(map[memberKey]bool),
		markers:     make(map[memberKey]int64),
	}
}

func (s *fakeStore) addMember(userID, roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[memberKey{userID, roomID}] = true
}

func (s *fakeStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberships[memberKey{userID, roomID}], nil
}

func (s *fakeStore) RoomMembers(ctx context.Context, roomID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []int64
	for key, ok := range s.memberships {
		if ok && key.roomID == roomID {
			members = append(members, key.userID)
		}
	}
	return members, nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, roomID, userID int64, body string) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate {
		return ChatMessage{}, errors.New("store unavailable")
	}

	s.nextMsgID++
	msg := ChatMessage{
		ID:        s.nextMsgID,
		RoomID:    roomID,
		AuthorID:  userID,
		Body:      body,
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	s.created = append(s.created, msg)
	return msg, nil
}

func (s *fakeStore) AdvanceReadMarker(ctx context.Context, userID, roomID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{userID, roomID}
	if messageID > s.markers[key] {
		s.markers[key] = messageID
	}
	return nil
}

func (s *fakeStore) marker(userID, roomID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers[memberKey{userID, roomID}]
}

func (s *fakeStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

// fakeResolver resolves tokens from a fixed table.
type fakeResolver struct {
	sessions map[string]user.User
}

func (r *fakeResolver) Resolve(ctx context.Context, token string) (*user.User, error) {
	u, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// testEngine bundles a fully wired gateway with the pieces tests poke at.
type testEngine struct {
	gateway  *MessageGateway
	registry *ConnectionRegistry
	index    *SubscriptionIndex
	store    *fakeStore
	clock    *fixedClock
}

func newTestEngine(store *fakeStore, resolver *fakeResolver) *testEngine {
	index := NewSubscriptionIndex()
	registry := NewConnectionRegistry(resolver, index)
	broadcaster := NewBroadcaster(registry, index, store)

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	buzz := NewBuzzLimiter(DefaultBuzzCooldown)
	buzz.now = clock.now

	return &testEngine{
		gateway:  NewMessageGateway(registry, index, store, buzz, broadcaster),
		registry: registry,
		index:    index,
		store:    store,
		clock:    clock,
	}
}

// connect admits a sender and runs auth + join so scenario tests start from a
// subscribed connection.
func (e *testEngine) connect(t *testing.T, sender *fakeSender, token string, roomID int64) ConnID {
	t.Helper()

	id := e.gateway.Admit(sender)
	e.event(id, `{"type":"auth","sessionToken":"`+token+`"}`)
	if roomID != 0 {
		e.eventf(id, map[string]any{"type": "join", "roomId": roomID})
	}
	return id
}

func (e *testEngine) event(id ConnID, raw string) {
	e.gateway.HandleEvent(context.Background(), id, []byte(raw))
}

func (e *testEngine) eventf(id ConnID, fields map[string]any) {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	e.gateway.HandleEvent(context.Background(), id, raw)
}
