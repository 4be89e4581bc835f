package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wagate/internal/errors"
	"wagate/internal/models"
	"wagate/internal/poll"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver emits scripted events into its stream.
type fakeDriver struct {
	mu           sync.Mutex
	events       chan Event
	started      bool
	stopped      bool
	closed       bool
	sendID       string
	sendErr      error
	sent         []string
	lastMetadata map[string]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{events: make(chan Event, 16), sendID: "MSG-1"}
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if !d.closed {
		d.closed = true
		d.events <- Event{Kind: EventDisconnected}
		close(d.events)
	}
	return nil
}

func (d *fakeDriver) SendText(ctx context.Context, to, body string, metadata map[string]string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return "", d.sendErr
	}
	d.sent = append(d.sent, fmt.Sprintf("%s:%s", to, body))
	d.lastMetadata = metadata
	return d.sendID, nil
}

func (d *fakeDriver) Events() <-chan Event {
	return d.events
}

func (d *fakeDriver) emit(event Event) {
	d.events <- event
}

func (d *fakeDriver) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fakeFactory struct {
	mu      sync.Mutex
	drivers []*fakeDriver
	next    func() *fakeDriver
}

func newFakeFactory() *fakeFactory {
	f := &fakeFactory{}
	f.next = newFakeDriver
	return f
}

func (f *fakeFactory) NewDriver(sessionID string) (ConnectionDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.next()
	f.drivers = append(f.drivers, d)
	return d, nil
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

func (f *fakeFactory) driver(i int) *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[i]
}

// memoryStore records every write so tests can check the QR/status invariant
// at each observed point, not just the final state.
type memoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	snapshots []models.Session
	failQR    bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*models.Session)}
}

func (s *memoryStore) snapshot(session *models.Session) {
	copied := *session
	if session.QRCode != nil {
		qr := *session.QRCode
		copied.QRCode = &qr
	}
	s.snapshots = append(s.snapshots, copied)
}

func (s *memoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.ChatbotID]
	copied := *session
	if ok {
		copied.LastConnectedAt = existing.LastConnectedAt
	}
	s.sessions[session.ChatbotID] = &copied
	s.snapshot(&copied)
	return nil
}

func (s *memoryStore) GetSession(ctx context.Context, chatbotID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[chatbotID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *memoryStore) SetSessionQR(ctx context.Context, chatbotID, qrCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQR {
		return fmt.Errorf("simulated write failure")
	}
	session := s.sessions[chatbotID]
	session.Status = models.SessionStatusQRReady
	session.QRCode = &qrCode
	s.snapshot(session)
	return nil
}

func (s *memoryStore) SetSessionConnected(ctx context.Context, chatbotID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[chatbotID]
	session.Status = models.SessionStatusConnected
	session.QRCode = nil
	session.LastConnectedAt = &at
	s.snapshot(session)
	return nil
}

func (s *memoryStore) SetSessionDisconnected(ctx context.Context, chatbotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[chatbotID]
	session.Status = models.SessionStatusDisconnected
	session.QRCode = nil
	s.snapshot(session)
	return nil
}

func (s *memoryStore) allSnapshots() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (n *recordingNotifier) Notify(notification models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}

func (n *recordingNotifier) ofType(kind string) []models.Notification {
	var out []models.Notification
	for _, notification := range n.all() {
		if notification.Type == kind {
			out = append(out, notification)
		}
	}
	return out
}

func newTestManager(t *testing.T) (SessionManager, *memoryStore, *fakeFactory, *recordingNotifier) {
	t.Helper()
	store := newMemoryStore()
	factory := newFakeFactory()
	notifier := &recordingNotifier{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewSessionManager(store, factory, notifier, logger), store, factory, notifier
}

func waitForStatus(t *testing.T, store *memoryStore, chatbotID string, status models.SessionStatus) *models.Session {
	t.Helper()
	var session *models.Session
	require.Eventually(t, func() bool {
		session, _ = store.GetSession(context.Background(), chatbotID)
		return session != nil && session.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return session
}

func TestCreateSession(t *testing.T) {
	manager, store, factory, _ := newTestManager(t)

	session, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, models.SessionStatusConnecting, session.Status)
	assert.Equal(t, 1, factory.calls())
	assert.True(t, factory.driver(0).started)

	stored, err := store.GetSession(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, stored.SessionID)
	assert.Equal(t, models.SessionStatusConnecting, stored.Status)
}

func TestCreateSession_EmptyChatbotID(t *testing.T) {
	manager, _, _, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
}

func TestQRThenConnectedScenario(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	session, err := manager.CreateSession(context.Background(), "C1")
	require.NoError(t, err)
	driver := factory.driver(0)

	driver.emit(Event{Kind: EventQRGenerated, QRCode: "ABC"})
	stored := waitForStatus(t, store, "C1", models.SessionStatusQRReady)
	require.NotNil(t, stored.QRCode)
	assert.Equal(t, "ABC", *stored.QRCode)
	assert.Nil(t, stored.LastConnectedAt)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationQR)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	qrNotification := notifier.ofType(models.NotificationQR)[0]
	assert.Equal(t, session.SessionID, qrNotification.SessionID)
	assert.Equal(t, "ABC", qrNotification.Data)

	before := time.Now()
	driver.emit(Event{Kind: EventConnected})
	stored = waitForStatus(t, store, "C1", models.SessionStatusConnected)
	assert.Nil(t, stored.QRCode)
	require.NotNil(t, stored.LastConnectedAt)
	assert.WithinDuration(t, before, *stored.LastConnectedAt, 2*time.Second)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationConnected)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The invariant holds at every observed point, not just at the end.
	for _, snapshot := range store.allSnapshots() {
		if snapshot.Status == models.SessionStatusQRReady {
			assert.NotNil(t, snapshot.QRCode)
		} else {
			assert.Nil(t, snapshot.QRCode)
		}
	}
}

func TestQRRefreshRepersistsAndRenotifies(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "C1")
	require.NoError(t, err)
	driver := factory.driver(0)

	driver.emit(Event{Kind: EventQRGenerated, QRCode: "FIRST"})
	driver.emit(Event{Kind: EventQRGenerated, QRCode: "SECOND"})

	require.Eventually(t, func() bool {
		session, _ := store.GetSession(context.Background(), "C1")
		return session != nil && session.QRCode != nil && *session.QRCode == "SECOND"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationQR)) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateSession_RejoinsInFlightAttempt(t *testing.T) {
	manager, _, factory, _ := newTestManager(t)

	first, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	second, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, factory.calls(), "rejoin must not spawn a second driver")
}

func TestCreateSession_AlreadyConnected(t *testing.T) {
	manager, store, factory, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	factory.driver(0).emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)

	_, err = manager.CreateSession(context.Background(), "bot-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyConnected, errors.GetCode(err))
	assert.Equal(t, 1, factory.calls())
}

func TestDisconnect_Idempotent(t *testing.T) {
	manager, _, _, _ := newTestManager(t)

	require.NoError(t, manager.DisconnectSession(context.Background(), "never-created"))
	require.NoError(t, manager.DisconnectSession(context.Background(), "never-created"))
}

func TestDisconnect_TearsDownAndAllowsRecreate(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	factory.driver(0).emit(Event{Kind: EventConnected})
	connected := waitForStatus(t, store, "bot-1", models.SessionStatusConnected)
	require.NotNil(t, connected.LastConnectedAt)

	require.NoError(t, manager.DisconnectSession(context.Background(), "bot-1"))
	assert.True(t, factory.driver(0).stopped)

	stored := waitForStatus(t, store, "bot-1", models.SessionStatusDisconnected)
	assert.Nil(t, stored.QRCode)
	// Disconnecting must not clear the connection timestamp.
	require.NotNil(t, stored.LastConnectedAt)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationDisconnected)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A second disconnect after full teardown is still a no-op success.
	require.NoError(t, manager.DisconnectSession(context.Background(), "bot-1"))

	// The released binding must not block a fresh create.
	require.Eventually(t, func() bool {
		session, err := manager.CreateSession(context.Background(), "bot-1")
		return err == nil && session.Status == models.SessionStatusConnecting
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, factory.calls())
}

func TestDisconnect_ImmediateRecreateGetsFreshSession(t *testing.T) {
	manager, _, factory, _ := newTestManager(t)

	first, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	require.NoError(t, manager.DisconnectSession(context.Background(), "bot-1"))

	// No waiting: the binding must already be gone, so this create starts a
	// fresh attempt instead of rejoining the one that just got torn down.
	second, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, factory.calls())
}

func TestNetworkDropDrivesSameTeardown(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	driver := factory.driver(0)
	driver.emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)

	// Network-initiated drop, not an operator disconnect.
	driver.emit(Event{Kind: EventDisconnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusDisconnected)

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationDisconnected)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendMessage_RequiresConnected(t *testing.T) {
	manager, _, factory, _ := newTestManager(t)

	_, err := manager.SendMessage(context.Background(), "bot-1", "+5491112345678", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotConnected, errors.GetCode(err))

	_, err = manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	// Still CONNECTING: the driver must never be reached.
	_, err = manager.SendMessage(context.Background(), "bot-1", "+5491112345678", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotConnected, errors.GetCode(err))
	assert.Equal(t, 0, factory.driver(0).sentCount())
}

func TestSendMessage_Connected(t *testing.T) {
	manager, store, factory, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	factory.driver(0).emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)

	metadata := map[string]string{"campaign": "onboarding", "ref": "42"}
	messageID, err := manager.SendMessage(context.Background(), "bot-1", "+5491112345678", "hi", metadata)
	require.NoError(t, err)
	assert.Equal(t, "MSG-1", messageID)
	assert.Equal(t, 1, factory.driver(0).sentCount())

	// Metadata travels with the send all the way to the driver.
	driver := factory.driver(0)
	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, metadata, driver.lastMetadata)
}

func TestSendMessage_DriverErrorKeepsClassification(t *testing.T) {
	manager, store, factory, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	factory.driver(0).emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)

	driver := factory.driver(0)
	driver.mu.Lock()
	driver.sendErr = errors.WrapRetryable(fmt.Errorf("engine unavailable"), errors.ErrCodeEngineAPI, "failed to send message")
	driver.mu.Unlock()

	_, err = manager.SendMessage(context.Background(), "bot-1", "+5491112345678", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEngineAPI, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err), "retryable classification must survive the manager")
}

func TestMessageReceived_NotifiesWithoutStatusChange(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	session, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	driver := factory.driver(0)
	driver.emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)

	driver.emit(Event{Kind: EventMessageReceived, Message: &models.MessageEnvelope{
		From:      "+5491112345678",
		Message:   "hola",
		MessageID: "in-1",
		Timestamp: time.Now(),
	}})

	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationMessage)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	notification := notifier.ofType(models.NotificationMessage)[0]
	envelope, ok := notification.Data.(models.MessageEnvelope)
	require.True(t, ok)
	assert.Equal(t, session.SessionID, envelope.SessionID)
	assert.Equal(t, "hola", envelope.Message)

	stored, err := store.GetSession(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusConnected, stored.Status)
}

func TestStoreWriteFailureIsSwallowed(t *testing.T) {
	manager, store, factory, notifier := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	store.mu.Lock()
	store.failQR = true
	store.mu.Unlock()

	driver := factory.driver(0)
	driver.emit(Event{Kind: EventQRGenerated, QRCode: "ABC"})

	// The failed write is logged and swallowed; the notification still goes
	// out and the next event self-corrects the store.
	require.Eventually(t, func() bool {
		return len(notifier.ofType(models.NotificationQR)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	driver.emit(Event{Kind: EventConnected})
	waitForStatus(t, store, "bot-1", models.SessionStatusConnected)
}

func TestGetSession_NotFound(t *testing.T) {
	manager, _, _, _ := newTestManager(t)

	_, err := manager.GetSession(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.GetCode(err))
}

func TestWaitForQR(t *testing.T) {
	manager, _, factory, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		factory.driver(0).emit(Event{Kind: EventQRGenerated, QRCode: "WAITED"})
	}()

	session, err := manager.WaitForQR(context.Background(), "bot-1", poll.Config{
		MaxDuration:     2 * time.Second,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotNil(t, session.QRCode)
	assert.Equal(t, "WAITED", *session.QRCode)
}

func TestWaitForQR_Timeout(t *testing.T) {
	manager, _, _, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)

	_, err = manager.WaitForQR(context.Background(), "bot-1", poll.Config{
		MaxDuration:     50 * time.Millisecond,
		InitialInterval: 10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.GetCode(err))
}

func TestShutdownStopsDrivers(t *testing.T) {
	manager, _, factory, _ := newTestManager(t)

	_, err := manager.CreateSession(context.Background(), "bot-1")
	require.NoError(t, err)
	_, err = manager.CreateSession(context.Background(), "bot-2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	manager.Shutdown(ctx)

	assert.True(t, factory.driver(0).stopped)
	assert.True(t, factory.driver(1).stopped)
}
