package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/frame/data"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/models"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/protocol"
)

// fakeSession is a scriptable protocol.Session.
type fakeSession struct {
	mu         sync.Mutex
	registered bool
	pairCode   string
	pairErr    error
	pairCalls  int
	sent       []string
	closed     bool

	events    chan protocol.Event
	closeOnce sync.Once
}

func newFakeSession(registered bool) *fakeSession {
	return &fakeSession{
		registered: registered,
		pairCode:   "ABCD-1234",
		events:     make(chan protocol.Event, 16),
	}
}

func (s *fakeSession) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *fakeSession) RequestPairingCode(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairCalls++
	if s.pairErr != nil {
		return "", s.pairErr
	}
	return s.pairCode, nil
}

func (s *fakeSession) SendText(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Events() <-chan protocol.Event {
	return s.events
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSession) emit(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// emitClosed delivers a close event. The stream stays open afterwards, as it
// does for a real session whose socket dropped; only Close ends it.
func (s *fakeSession) emitClosed(reason string, authRejected bool) {
	s.emit(protocol.Event{Type: protocol.EventClosed, Reason: reason, AuthRejected: authRejected})
}

func (s *fakeSession) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out queued sessions in dial order.
type fakeDialer struct {
	mu       sync.Mutex
	queued   []*fakeSession
	dialErr  error
	dials    int
	restored map[string]data.JSONMap
}

func newFakeDialer(sessions ...*fakeSession) *fakeDialer {
	return &fakeDialer{queued: sessions, restored: make(map[string]data.JSONMap)}
}

func (d *fakeDialer) Restore(_ context.Context, accountID string, creds data.JSONMap) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restored[accountID] = creds
	return nil
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (protocol.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.queued) == 0 {
		sess := newFakeSession(true)
		return sess, nil
	}
	sess := d.queued[0]
	d.queued = d.queued[1:]
	return sess, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	mu    sync.Mutex
	creds map[string]data.JSONMap
	saves int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{creds: make(map[string]data.JSONMap)}
}

func (f *fakeSessionStore) GetByAccountID(_ context.Context, accountID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, ok := f.creds[accountID]
	if !ok {
		return nil, nil
	}
	return &models.Session{AccountID: accountID, Creds: creds}, nil
}

func (f *fakeSessionStore) SaveCredentials(_ context.Context, accountID string, creds data.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[accountID] = creds
	f.saves++
	return nil
}

func (f *fakeSessionStore) Reconcile(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (f *fakeSessionStore) DeleteByAccountID(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, accountID)
	return nil
}

func (f *fakeSessionStore) ListByRecency(_ context.Context) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessions := make([]*models.Session, 0, len(f.creds))
	for accountID, creds := range f.creds {
		sessions = append(sessions, &models.Session{AccountID: accountID, Creds: creds})
	}
	return sessions, nil
}

func (f *fakeSessionStore) has(accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.creds[accountID]
	return ok
}

// fakeSettingStore is an in-memory SettingStore.
type fakeSettingStore struct {
	mu      sync.Mutex
	options map[string]data.JSONMap
}

func newFakeSettingStore() *fakeSettingStore {
	return &fakeSettingStore{options: make(map[string]data.JSONMap)}
}

func (f *fakeSettingStore) GetByAccountID(_ context.Context, accountID string) (*models.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.options[accountID]
	if !ok {
		return nil, nil
	}
	return &models.Setting{AccountID: accountID, Options: opts}, nil
}

func (f *fakeSettingStore) Merge(_ context.Context, accountID string, partial data.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.options[accountID]
	if !ok {
		existing = data.JSONMap{}
	}
	for k, v := range partial {
		existing[k] = v
	}
	f.options[accountID] = existing
	return nil
}

func (f *fakeSettingStore) DeleteByAccountID(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.options, accountID)
	return nil
}

// fakeTrackedStore is an in-memory TrackedAccountStore.
type fakeTrackedStore struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeTrackedStore) Add(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ids {
		if id == accountID {
			return nil
		}
	}
	f.ids = append(f.ids, accountID)
	return nil
}

func (f *fakeTrackedStore) ListAccountIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...), nil
}

func (f *fakeTrackedStore) Remove(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.ids {
		if id == accountID {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeTrackedStore) contains(accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.ids {
		if id == accountID {
			return true
		}
	}
	return false
}

func instantSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func testLifecycleOptions() LifecycleOptions {
	return LifecycleOptions{
		PairingMaxRetries:  3,
		PairingRetryDelay:  time.Millisecond,
		ConnectSettleDelay: time.Millisecond,
		RestartDelayBase:   time.Millisecond,
		MaxRestartAttempts: 5,
	}
}
