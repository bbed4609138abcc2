package streamhub

import "testing"

type fakeSub struct {
	id  string
	got []Frame
}

func (f *fakeSub) TrySend(fr Frame) bool {
	f.got = append(f.got, fr)
	return true
}
func (f *fakeSub) ID() string { return f.id }

func TestPublishSubscribeBroadcast(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	h.Publish(id, OriginLocal)

	sub := &fakeSub{id: "sub1"}
	if ok := h.Subscribe(id, sub); !ok {
		t.Fatal("expected Subscribe to succeed for a published stream")
	}
	if h.SubscriberCount(id) != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", h.SubscriberCount(id))
	}

	h.BroadcastFrame(id, Frame{Kind: FrameVideo, Payload: []byte{1}})
	if len(sub.got) != 1 {
		t.Fatalf("subscriber received %d frames, want 1", len(sub.got))
	}
}

func TestSubscribeWithoutPublisherFails(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	sub := &fakeSub{id: "sub1"}
	if ok := h.Subscribe(id, sub); ok {
		t.Fatal("expected Subscribe to fail when no publisher exists")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	h.Publish(id, OriginLocal)
	sub := &fakeSub{id: "sub1"}
	h.Subscribe(id, sub)
	h.Unsubscribe(id, sub)

	h.BroadcastFrame(id, Frame{Kind: FrameVideo, Payload: []byte{1}})
	if len(sub.got) != 0 {
		t.Errorf("unsubscribed subscriber received %d frames, want 0", len(sub.got))
	}
}

func TestLateJoinerGetsCachedSequenceHeaders(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	h.Publish(id, OriginLocal)

	h.BroadcastFrame(id, Frame{Kind: FrameVideo, IsSequenceHeader: true, Payload: []byte{0xAA}})

	late := &fakeSub{id: "late"}
	h.Subscribe(id, late)

	if len(late.got) != 1 || late.got[0].Payload[0] != 0xAA {
		t.Fatalf("expected the late joiner to receive the cached sequence header, got %v", late.got)
	}
}

func TestUnpublishFiresOnStreamRemoved(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	h.Publish(id, OriginLocal)

	var removed Identifier
	called := false
	h.OnStreamRemoved(func(got Identifier) {
		removed = got
		called = true
	})

	h.Unpublish(id)
	if !called || removed != id {
		t.Fatalf("expected OnStreamRemoved callback to fire with %v, called=%v got=%v", id, called, removed)
	}
}

func TestOnFrameObservesBroadcasts(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}
	h.Publish(id, OriginLocal)

	var seen []Frame
	h.OnFrame(func(_ Identifier, f Frame) { seen = append(seen, f) })

	h.BroadcastFrame(id, Frame{Kind: FrameAudio, Payload: []byte{9}})
	if len(seen) != 1 {
		t.Fatalf("OnFrame observed %d frames, want 1", len(seen))
	}
}

func TestOriginReportsPublisherOrigin(t *testing.T) {
	h := New()
	id := Identifier{App: "room1", Stream: "media1"}

	if _, ok := h.Origin(id); ok {
		t.Fatal("expected Origin to report false before any publish")
	}

	h.Publish(id, OriginPulled)
	origin, ok := h.Origin(id)
	if !ok || origin != OriginPulled {
		t.Fatalf("Origin() = %v, %v; want OriginPulled, true", origin, ok)
	}
}

func TestIdentifierKey(t *testing.T) {
	id := Identifier{App: "room1", Stream: "media1"}
	if id.Key() != "room1/media1" {
		t.Errorf("Key() = %q, want %q", id.Key(), "room1/media1")
	}
}
