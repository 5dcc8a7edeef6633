package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeOwnerStore is an in-memory OwnerStore.
type fakeOwnerStore struct {
	mu    sync.Mutex
	owner string
	err   error
}

func (f *fakeOwnerStore) Get(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner, f.err
}

func (f *fakeOwnerStore) Set(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.owner = userID
	return nil
}

func (f *fakeOwnerStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.owner = ""
	return nil
}

// fakeSub counts closes.
type fakeSub struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeSub) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSub) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFeed records subscriptions and exposes the callbacks so tests can drive
// status transitions after Subscribe returns. Callbacks are never invoked
// inside Subscribe itself, matching the transport's asynchronous reporting.
type fakeFeed struct {
	mu       sync.Mutex
	err      error
	subs     []*fakeSub
	users    []string
	onEvent  func(Event)
	onStatus func(Status)
}

func (f *fakeFeed) Subscribe(ctx context.Context, userID string, onEvent func(Event), onStatus func(Status)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	f.users = append(f.users, userID)
	f.onEvent = onEvent
	f.onStatus = onStatus
	return sub, nil
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) reportStatus(s Status) {
	f.mu.Lock()
	onStatus := f.onStatus
	f.mu.Unlock()
	onStatus(s)
}

func (f *fakeFeed) emit(ev Event) {
	f.mu.Lock()
	onEvent := f.onEvent
	f.mu.Unlock()
	onEvent(ev)
}

// sinkRecorder collects delivered events.
type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (s *sinkRecorder) OnStickerEvent(ctx context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestManager(feed Feed, owners OwnerStore) (*Manager, *sinkRecorder) {
	sink := &sinkRecorder{}
	m := NewManager(feed, owners, sink, Config{KeepaliveInterval: 24 * time.Second}, zap.NewNop())
	return m, sink
}

func TestManager_StartPersistsOwnerAndSubscribes(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if owners.owner != "user-1" {
		t.Fatalf("expected owner persisted, got %q", owners.owner)
	}
	if feed.subscribeCount() != 1 {
		t.Fatalf("expected one subscription, got %d", feed.subscribeCount())
	}

	joined, userID := m.Status()
	if joined {
		t.Fatal("must not report joined before the channel confirms")
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %q", userID)
	}

	feed.reportStatus(StatusSubscribed)
	joined, _ = m.Status()
	if !joined {
		t.Fatal("expected joined after subscribed status")
	}
}

func TestManager_StartRejectsEmptyUser(t *testing.T) {
	feed := &fakeFeed{}
	m, _ := newTestManager(feed, &fakeOwnerStore{})

	if err := m.Start(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if feed.subscribeCount() != 0 {
		t.Fatal("must not subscribe without a user")
	}
}

func TestManager_SecondStartReplacesChannel(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	if err := m.Start(ctx, "user-2"); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	if feed.subscribeCount() != 2 {
		t.Fatalf("expected two subscriptions total, got %d", feed.subscribeCount())
	}
	if feed.subs[0].closeCount() != 1 {
		t.Fatal("expected the first channel to be closed, not stacked")
	}
	if owners.owner != "user-2" {
		t.Fatalf("expected persisted owner user-2, got %q", owners.owner)
	}
}

func TestManager_StaleStatusIgnored(t *testing.T) {
	feed := &fakeFeed{}
	m, _ := newTestManager(feed, &fakeOwnerStore{})
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	// Capture the first channel's status callback before it is replaced.
	staleStatus := feed.onStatus

	if err := m.Start(ctx, "user-2"); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	// The replaced channel erroring out must not flip the live one.
	staleStatus(StatusChannelError)

	joined, userID := m.Status()
	if !joined || userID != "user-2" {
		t.Fatalf("stale status leaked through: joined=%v user=%q", joined, userID)
	}
}

func TestManager_StopClearsOwnerAndCloses(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if owners.owner != "" {
		t.Fatalf("expected owner cleared, got %q", owners.owner)
	}
	if feed.subs[0].closeCount() != 1 {
		t.Fatal("expected channel closed on stop")
	}

	joined, userID := m.Status()
	if joined || userID != "" {
		t.Fatalf("expected disconnected status, got joined=%v user=%q", joined, userID)
	}

	// Stopping again is a no-op.
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("idempotent stop failed: %v", err)
	}
}

func TestManager_StopThenTickDoesNotReconnect(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	// The very next liveness check finds no owner and stays down.
	m.Tick(ctx)

	if feed.subscribeCount() != 1 {
		t.Fatalf("tick after stop must not reconnect, got %d subscribes", feed.subscribeCount())
	}
	if joined, _ := m.Status(); joined {
		t.Fatal("expected the subscription to stay down after stop")
	}
}

func TestManager_TickRacingStartConvergesOnRequestedOwner(t *testing.T) {
	// A liveness tick running concurrently with an explicit start for a new
	// user must not leave the old owner persisted or resubscribed.
	for i := 0; i < 50; i++ {
		feed := &fakeFeed{}
		owners := &fakeOwnerStore{owner: "user-1"}
		m, _ := newTestManager(feed, owners)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Tick(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := m.Start(ctx, "user-2"); err != nil {
				t.Errorf("start failed: %v", err)
			}
		}()
		wg.Wait()

		// Another tick settles whatever order the race produced.
		m.Tick(ctx)

		owner, err := owners.Get(ctx)
		if err != nil {
			t.Fatalf("owner read failed: %v", err)
		}
		if owner != "user-2" {
			t.Fatalf("stale owner persisted after explicit start: %q", owner)
		}

		feed.mu.Lock()
		last := feed.users[len(feed.users)-1]
		feed.mu.Unlock()
		if last != "user-2" {
			t.Fatalf("subscription converged on stale owner %q", last)
		}
	}
}

func TestManager_TickResumesPersistedOwner(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{owner: "user-9"}
	m, _ := newTestManager(feed, owners)

	// Cold start: nothing in memory, but an owner is on record.
	m.Tick(context.Background())

	if feed.subscribeCount() != 1 {
		t.Fatalf("expected tick to resume the subscription, got %d subscribes", feed.subscribeCount())
	}
	if feed.users[0] != "user-9" {
		t.Fatalf("expected resume for user-9, got %q", feed.users[0])
	}
}

func TestManager_TickNoopWhenHealthy(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	m.Tick(ctx)
	if feed.subscribeCount() != 1 {
		t.Fatalf("healthy tick must not resubscribe, got %d subscribes", feed.subscribeCount())
	}
}

func TestManager_TickReconnectsAfterChannelError(t *testing.T) {
	feed := &fakeFeed{}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)
	feed.reportStatus(StatusChannelError)

	m.Tick(ctx)
	if feed.subscribeCount() != 2 {
		t.Fatalf("expected tick to replace the errored channel, got %d subscribes", feed.subscribeCount())
	}
}

func TestManager_TickNoopWithoutOwner(t *testing.T) {
	feed := &fakeFeed{}
	m, _ := newTestManager(feed, &fakeOwnerStore{})

	m.Tick(context.Background())
	if feed.subscribeCount() != 0 {
		t.Fatal("tick with no recorded owner must do nothing")
	}
}

func TestManager_StartFailurePersistsOwnerForRetry(t *testing.T) {
	feed := &fakeFeed{err: errors.New("transport down")}
	owners := &fakeOwnerStore{}
	m, _ := newTestManager(feed, owners)
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err == nil {
		t.Fatal("expected start to surface the subscribe error")
	}

	// The owner stays on record so the liveness tick keeps retrying.
	if owners.owner != "user-1" {
		t.Fatalf("expected owner persisted despite failure, got %q", owners.owner)
	}

	feed.mu.Lock()
	feed.err = nil
	feed.mu.Unlock()

	m.Tick(ctx)
	if feed.subscribeCount() != 1 {
		t.Fatalf("expected the tick to retry, got %d subscribes", feed.subscribeCount())
	}
}

func TestManager_EventsReachSink(t *testing.T) {
	feed := &fakeFeed{}
	m, sink := newTestManager(feed, &fakeOwnerStore{})
	ctx := context.Background()

	if err := m.Start(ctx, "user-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	feed.reportStatus(StatusSubscribed)

	feed.emit(Event{ImageURL: "https://cdn.example/a.png"})
	feed.emit(Event{ImageURL: "https://cdn.example/b.png", Scary: true})

	if sink.count() != 2 {
		t.Fatalf("expected 2 events delivered to sink, got %d", sink.count())
	}
}
