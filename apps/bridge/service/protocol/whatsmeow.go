package protocol

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pitabwire/frame/data"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	credsKeyJID      = "jid"
	credsKeyPlatform = "platform"

	sessionEventBuffer = 32
)

// whatsmeowDialer opens WhatsApp sessions backed by a whatsmeow sqlstore
// container. Credential snapshots carry the device JID; Restore maps an
// account onto its stored device so Dial resumes instead of re-pairing.
type whatsmeowDialer struct {
	container   *sqlstore.Container
	displayName string

	mu       sync.Mutex
	restored map[string]types.JID
}

// NewWhatsmeowDialer creates a Dialer over a whatsmeow device store held in
// the given database. displayName is what pairing shows on the user's
// primary device.
func NewWhatsmeowDialer(ctx context.Context, db *sql.DB, dialect, displayName string) (Dialer, error) {
	container := sqlstore.NewWithDB(db, dialect, waLog.Noop)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("migrate device store: %w", err)
	}

	return &whatsmeowDialer{
		container:   container,
		displayName: displayName,
		restored:    make(map[string]types.JID),
	}, nil
}

// Restore records which stored device the account should resume from.
func (wd *whatsmeowDialer) Restore(_ context.Context, accountID string, creds data.JSONMap) error {
	if creds == nil {
		return nil
	}

	rawJID, ok := creds[credsKeyJID].(string)
	if !ok || rawJID == "" {
		return nil
	}

	jid, err := types.ParseJID(rawJID)
	if err != nil {
		return fmt.Errorf("parse stored jid %q: %w", rawJID, err)
	}

	wd.mu.Lock()
	wd.restored[accountID] = jid
	wd.mu.Unlock()
	return nil
}

// Dial opens a session for the account, resuming the restored device when one
// exists and creating a fresh unregistered device otherwise.
func (wd *whatsmeowDialer) Dial(ctx context.Context, accountID string) (Session, error) {
	wd.mu.Lock()
	jid, hasRestored := wd.restored[accountID]
	wd.mu.Unlock()

	device := wd.container.NewDevice()
	if hasRestored {
		stored, err := wd.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("load device for %s: %w", accountID, err)
		}
		if stored != nil {
			device = stored
		}
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	// The bridge owns reconnection; the client must not race it.
	cli.EnableAutoReconnect = false

	sess := &whatsmeowSession{
		cli:         cli,
		displayName: wd.displayName,
		events:      make(chan Event, sessionEventBuffer),
	}
	cli.AddEventHandler(sess.handleEvent)

	if err := cli.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", accountID, err)
	}

	return sess, nil
}

// whatsmeowSession adapts a whatsmeow client to the Session boundary.
type whatsmeowSession struct {
	cli         *whatsmeow.Client
	displayName string
	events      chan Event

	mu     sync.Mutex
	closed bool
}

func (ws *whatsmeowSession) Registered() bool {
	return ws.cli.Store.ID != nil
}

func (ws *whatsmeowSession) RequestPairingCode(ctx context.Context, accountID string) (string, error) {
	return ws.cli.PairPhone(ctx, accountID, true, whatsmeow.PairClientChrome, ws.displayName)
}

func (ws *whatsmeowSession) SendText(ctx context.Context, recipientAccountID, text string) error {
	recipient := types.NewJID(recipientAccountID, types.DefaultUserServer)
	_, err := ws.cli.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (ws *whatsmeowSession) Events() <-chan Event {
	return ws.events
}

func (ws *whatsmeowSession) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil
	}
	ws.closed = true
	ws.cli.Disconnect()
	close(ws.events)
	return nil
}

// credsSnapshot captures the persistable credential state of the session.
func (ws *whatsmeowSession) credsSnapshot() data.JSONMap {
	snapshot := data.JSONMap{}
	if id := ws.cli.Store.ID; id != nil {
		snapshot[credsKeyJID] = id.String()
	}
	if platform := ws.cli.Store.Platform; platform != "" {
		snapshot[credsKeyPlatform] = platform
	}
	return snapshot
}

// handleEvent translates whatsmeow events into the bridge's lifecycle events.
// whatsmeow dispatches handlers synchronously, so emission order is preserved.
func (ws *whatsmeowSession) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		ws.emit(Event{Type: EventOpened})
		ws.emit(Event{Type: EventCredentialsRotated, Creds: ws.credsSnapshot()})
	case *events.PairSuccess:
		ws.emit(Event{Type: EventCredentialsRotated, Creds: ws.credsSnapshot()})
	case *events.LoggedOut:
		ws.emit(Event{
			Type:         EventClosed,
			Reason:       fmt.Sprintf("logged out: %s", e.Reason),
			AuthRejected: true,
		})
	case *events.StreamReplaced:
		ws.emit(Event{Type: EventClosed, Reason: "stream replaced by another client"})
	case *events.Disconnected:
		ws.emit(Event{Type: EventClosed, Reason: "connection closed"})
	case *events.ConnectFailure:
		ws.emit(Event{
			Type:   EventClosed,
			Reason: fmt.Sprintf("connect failure: %s", e.Reason),
		})
	}
}

// emit never blocks while holding the mutex; a stalled consumer would
// otherwise deadlock Close against the event dispatcher. When the buffer is
// full the oldest event is evicted so close events still get through.
func (ws *whatsmeowSession) emit(event Event) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	for {
		select {
		case ws.events <- event:
			return
		default:
		}
		select {
		case <-ws.events:
		default:
		}
	}
}
