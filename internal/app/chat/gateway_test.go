package chat

import (
	"testing"
	"time"

	"buzzline/internal/app/user"
)

func fixtureResolver() *fakeResolver {
	return &fakeResolver{sessions: map[string]user.User{
		"token-ada":  {ID: 100, Username: "ada", AvatarURL: "/avatars/ada.svg"},
		"token-brin": {ID: 200, Username: "brin"},
		"token-cass": {ID: 300, Username: "cass"},
	}}
}

func fixtureStore() *fakeStore {
	s := newFakeStore()
	s.addMember(100, 7)
	s.addMember(200, 7)
	// cass (300) is not a member of room 7.
	return s
}

func TestAuthSuccessAndFailure(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	good := &fakeSender{}
	id := engine.gateway.Admit(good)
	engine.event(id, `{"type":"auth","sessionToken":"token-ada"}`)

	if got := good.eventsOfType(t, EventAuthSuccess); len(got) != 1 {
		t.Fatalf("auth_success events = %d, want 1", len(got))
	}

	bad := &fakeSender{}
	id2 := engine.gateway.Admit(bad)
	engine.event(id2, `{"type":"auth","sessionToken":"no-such-token"}`)

	if got := bad.eventsOfType(t, EventAuthFailed); len(got) != 1 {
		t.Fatalf("auth_failed events = %d, want 1", len(got))
	}
	if engine.registry.State(id2) != StateUnauthenticated {
		t.Error("failed auth changed connection state")
	}

	// The connection stays open and usable for retry.
	engine.event(id2, `{"type":"auth","sessionToken":"token-brin"}`)
	if got := bad.eventsOfType(t, EventAuthSuccess); len(got) != 1 {
		t.Fatalf("auth retry did not succeed")
	}
}

func TestJoinAsMember(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	joined := sender.eventsOfType(t, EventJoined)
	if len(joined) != 1 {
		t.Fatalf("joined events = %d, want 1", len(joined))
	}
	if joined[0]["roomId"] != float64(7) {
		t.Errorf("joined roomId = %v, want 7", joined[0]["roomId"])
	}

	if roomID, ok := engine.index.RoomOf(id); !ok || roomID != 7 {
		t.Errorf("RoomOf = %d, %v, want 7, true", roomID, ok)
	}
}

func TestJoinRejectedForNonMember(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-cass", 7)

	failed := sender.eventsOfType(t, EventJoinFailed)
	if len(failed) != 1 {
		t.Fatalf("join_failed events = %d, want 1", len(failed))
	}
	if failed[0]["error"] != "Not a member" {
		t.Errorf("join_failed error = %v", failed[0]["error"])
	}

	if _, ok := engine.index.RoomOf(id); ok {
		t.Error("rejected join left a subscription behind")
	}

	// A message from the unsubscribed connection is dropped whole.
	engine.event(id, `{"type":"message","content":"hi"}`)
	if n := store.createdCount(); n != 0 {
		t.Errorf("persistence called %d times for unsubscribed sender", n)
	}
}

func TestJoinAcceptsStringRoomID(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	sender := &fakeSender{}
	id := engine.gateway.Admit(sender)
	engine.event(id, `{"type":"auth","sessionToken":"token-ada"}`)
	engine.event(id, `{"type":"join","roomId":"7"}`)

	if len(sender.eventsOfType(t, EventJoined)) != 1 {
		t.Fatal("join with string roomId rejected")
	}
}

func TestMessageFanOutDualPath(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	// ada: two connections in room 7. brin: member, connected but on the
	// dashboard. cass: connected, not a member.
	adaTab1 := &fakeSender{}
	adaTab2 := &fakeSender{}
	brinDash := &fakeSender{}
	cassDash := &fakeSender{}

	engine.connect(t, adaTab1, "token-ada", 7)
	engine.connect(t, adaTab2, "token-ada", 7)
	engine.connect(t, brinDash, "token-brin", 0)
	engine.connect(t, cassDash, "token-cass", 0)

	engine.event(engine.connect(t, &fakeSender{}, "token-ada", 7), `{"type":"message","content":"hi"}`)

	// Every connection subscribed to room 7 gets the full payload once.
	for name, sender := range map[string]*fakeSender{"adaTab1": adaTab1, "adaTab2": adaTab2} {
		msgs := sender.eventsOfType(t, EventMessage)
		if len(msgs) != 1 {
			t.Fatalf("%s message events = %d, want 1", name, len(msgs))
		}
		payload := msgs[0]["message"].(map[string]any)
		if payload["body"] != "hi" {
			t.Errorf("%s body = %v, want hi", name, payload["body"])
		}
		if payload["authorName"] != "ada" {
			t.Errorf("%s authorName = %v, want ada", name, payload["authorName"])
		}
		if len(sender.eventsOfType(t, EventRoomUpdate)) != 0 {
			t.Errorf("%s received a room_update alongside the full payload", name)
		}
	}

	// brin is a member with a live connection outside the room: exactly one
	// room_update per connection, never the full payload.
	updates := brinDash.eventsOfType(t, EventRoomUpdate)
	if len(updates) != 1 {
		t.Fatalf("brin room_update events = %d, want 1", len(updates))
	}
	if updates[0]["lastMessagePreview"] != "hi" {
		t.Errorf("preview = %v, want hi", updates[0]["lastMessagePreview"])
	}
	if updates[0]["fromUserId"] != float64(100) {
		t.Errorf("fromUserId = %v, want 100", updates[0]["fromUserId"])
	}
	if len(brinDash.eventsOfType(t, EventMessage)) != 0 {
		t.Error("absent member received the full payload")
	}

	// cass is not a member: no trace of the message in either shape.
	if n := len(cassDash.eventsOfType(t, EventMessage)) + len(cassDash.eventsOfType(t, EventRoomUpdate)); n != 0 {
		t.Errorf("non-member received %d message-related events", n)
	}

	// Read markers advanced for in-room users only, once per user.
	if got := store.marker(100, 7); got != 1 {
		t.Errorf("ada read marker = %d, want 1", got)
	}
	if got := store.marker(200, 7); got != 0 {
		t.Errorf("brin read marker = %d, want 0", got)
	}
}

func TestMessagePreviewTruncation(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	brinDash := &fakeSender{}
	engine.connect(t, brinDash, "token-brin", 0)

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	long := ""
	for i := 0; i < 8; i++ {
		long += "0123456789"
	}
	engine.eventf(id, map[string]any{"type": "message", "content": long})

	updates := brinDash.eventsOfType(t, EventRoomUpdate)
	if len(updates) != 1 {
		t.Fatalf("room_update events = %d, want 1", len(updates))
	}

	preview := updates[0]["lastMessagePreview"].(string)
	if preview != long[:50]+"..." {
		t.Errorf("preview = %q, want first 50 chars plus ellipsis", preview)
	}
}

func TestEmptyMessageIsDropped(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	engine.event(id, `{"type":"message","content":"   "}`)

	if n := store.createdCount(); n != 0 {
		t.Errorf("persistence called %d times for empty body", n)
	}
	if len(sender.eventsOfType(t, EventMessage)) != 0 {
		t.Error("empty message was fanned out")
	}
}

func TestStoreFailureAbortsFanOut(t *testing.T) {
	store := fixtureStore()
	store.failCreate = true
	engine := newTestEngine(store, fixtureResolver())

	other := &fakeSender{}
	engine.connect(t, other, "token-brin", 7)

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	engine.event(id, `{"type":"message","content":"hi"}`)

	if len(other.eventsOfType(t, EventMessage)) != 0 {
		t.Error("fan-out ran despite persistence failure")
	}
	if got := store.marker(200, 7); got != 0 {
		t.Errorf("read marker advanced despite persistence failure: %d", got)
	}
}

func TestFailedTargetDoesNotAbortFanOut(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	broken := &fakeSender{fail: true}
	healthy := &fakeSender{}
	engine.connect(t, broken, "token-brin", 7)
	engine.connect(t, healthy, "token-brin", 7)

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	engine.event(id, `{"type":"message","content":"hi"}`)

	if len(healthy.eventsOfType(t, EventMessage)) != 1 {
		t.Error("delivery to healthy target aborted by broken sibling")
	}
	// brin still received one copy, so the marker advances.
	if got := store.marker(200, 7); got != 1 {
		t.Errorf("brin read marker = %d, want 1", got)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	adaSender := &fakeSender{}
	brinSender := &fakeSender{}
	adaID := engine.connect(t, adaSender, "token-ada", 7)
	engine.connect(t, brinSender, "token-brin", 7)

	engine.event(adaID, `{"type":"typing"}`)

	typing := brinSender.eventsOfType(t, EventTyping)
	if len(typing) != 1 {
		t.Fatalf("typing events = %d, want 1", len(typing))
	}
	if typing[0]["username"] != "ada" {
		t.Errorf("typing username = %v, want ada", typing[0]["username"])
	}

	if len(adaSender.eventsOfType(t, EventTyping)) != 0 {
		t.Error("typing echoed back to the sender")
	}
}

func TestBuzzIncludesSenderAndCooldown(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	adaSender := &fakeSender{}
	brinSender := &fakeSender{}
	adaID := engine.connect(t, adaSender, "token-ada", 7)
	engine.connect(t, brinSender, "token-brin", 7)

	engine.event(adaID, `{"type":"buzz"}`)

	for name, sender := range map[string]*fakeSender{"ada": adaSender, "brin": brinSender} {
		buzzes := sender.eventsOfType(t, EventBuzz)
		if len(buzzes) != 1 {
			t.Fatalf("%s buzz events = %d, want 1", name, len(buzzes))
		}
		if buzzes[0]["fromUserId"] != float64(100) {
			t.Errorf("%s buzz fromUserId = %v, want 100", name, buzzes[0]["fromUserId"])
		}
	}

	// Second buzz one second later: rejected with the remaining wait.
	engine.clock.advance(1 * time.Second)
	engine.event(adaID, `{"type":"buzz"}`)

	cooldowns := adaSender.eventsOfType(t, EventBuzzCooldown)
	if len(cooldowns) != 1 {
		t.Fatalf("buzz_cooldown events = %d, want 1", len(cooldowns))
	}
	if cooldowns[0]["remainingMs"] != float64(4000) {
		t.Errorf("remainingMs = %v, want 4000", cooldowns[0]["remainingMs"])
	}
	if len(brinSender.eventsOfType(t, EventBuzz)) != 1 {
		t.Error("rejected buzz still reached the room")
	}

	// After the window the buzz fires again.
	engine.clock.advance(5 * time.Second)
	engine.event(adaID, `{"type":"buzz"}`)
	if len(brinSender.eventsOfType(t, EventBuzz)) != 2 {
		t.Error("buzz after cooldown window did not fire")
	}
}

func TestDisconnectCleansUpAndLaterFanOutSkips(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	adaSender := &fakeSender{}
	adaID := engine.connect(t, adaSender, "token-ada", 7)

	brinSender := &fakeSender{}
	brinID := engine.connect(t, brinSender, "token-brin", 7)

	engine.gateway.Disconnect(adaID)

	if members := engine.index.RoomMembers(7); len(members) != 1 {
		t.Errorf("room members after disconnect = %v, want only brin's conn", members)
	}
	if conns := engine.index.UserConnections(100); len(conns) != 0 {
		t.Errorf("user index after disconnect = %v, want empty", conns)
	}

	// A message sent right after must not reach the dead connection and
	// must not panic.
	engine.event(brinID, `{"type":"message","content":"still here"}`)

	if len(adaSender.eventsOfType(t, EventMessage)) != 0 {
		t.Error("dead connection received a message")
	}
	if len(brinSender.eventsOfType(t, EventMessage)) != 1 {
		t.Error("surviving connection missed the message")
	}
}

func TestEventsFromUnauthenticatedConnAreDropped(t *testing.T) {
	store := fixtureStore()
	engine := newTestEngine(store, fixtureResolver())

	sender := &fakeSender{}
	id := engine.gateway.Admit(sender)

	engine.eventf(id, map[string]any{"type": "join", "roomId": 7})
	engine.event(id, `{"type":"message","content":"hi"}`)
	engine.event(id, `{"type":"typing"}`)
	engine.event(id, `{"type":"buzz"}`)

	if len(sender.events) != 0 {
		t.Errorf("unauthenticated connection received %d events", len(sender.events))
	}
	if n := store.createdCount(); n != 0 {
		t.Errorf("persistence called %d times", n)
	}
}

func TestMalformedEventsAreIgnored(t *testing.T) {
	engine := newTestEngine(fixtureStore(), fixtureResolver())

	sender := &fakeSender{}
	id := engine.connect(t, sender, "token-ada", 7)

	engine.event(id, `{not json`)
	engine.event(id, `{"type":"launch_missiles"}`)

	// The connection survives and keeps working.
	engine.event(id, `{"type":"typing"}`)
	if _, ok := engine.index.RoomOf(id); !ok {
		t.Error("malformed event broke the subscription")
	}
}
