package service

import (
	"context"
	"sync"
	"time"

	"wagate/internal/errors"
	"wagate/internal/metrics"
	"wagate/internal/models"
	"wagate/internal/poll"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionStore is the persistence surface the manager writes session state
// through. The manager is the store's only writer.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, chatbotID string) (*models.Session, error)
	SetSessionQR(ctx context.Context, chatbotID, qrCode string) error
	SetSessionConnected(ctx context.Context, chatbotID string, at time.Time) error
	SetSessionDisconnected(ctx context.Context, chatbotID string) error
}

// SessionManager orchestrates one connection driver per chatbot and keeps the
// session store consistent with the driver's actual state.
type SessionManager interface {
	CreateSession(ctx context.Context, chatbotID string) (*models.Session, error)
	GetSession(ctx context.Context, chatbotID string) (*models.Session, error)
	WaitForQR(ctx context.Context, chatbotID string, cfg poll.Config) (*models.Session, error)
	DisconnectSession(ctx context.Context, chatbotID string) error
	SendMessage(ctx context.Context, chatbotID, to, message string, metadata map[string]string) (string, error)
	Shutdown(ctx context.Context)
}

// binding ties a chatbot to its live driver handle. Pointer identity matters:
// release only removes the binding it was called for, so a stale event loop
// can never evict a newer binding for the same chatbot.
type binding struct {
	chatbotID string
	sessionID string
	driver    ConnectionDriver
}

type sessionManager struct {
	store    SessionStore
	factory  DriverFactory
	notifier Notifier
	logger   *logrus.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	wg       sync.WaitGroup
}

func NewSessionManager(store SessionStore, factory DriverFactory, notifier Notifier, logger *logrus.Logger) SessionManager {
	return &sessionManager{
		store:    store,
		factory:  factory,
		notifier: notifier,
		logger:   logger,
		bindings: make(map[string]*binding),
	}
}

// CreateSession allocates a session and binds a fresh driver. A create for a
// chatbot whose attempt is already in flight rejoins that attempt and returns
// the existing record; a create for a CONNECTED session is a conflict.
func (m *sessionManager) CreateSession(ctx context.Context, chatbotID string) (*models.Session, error) {
	if chatbotID == "" {
		return nil, errors.NewValidationError("chatbotId", "must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.GetSession(ctx, chatbotID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}

	if existing != nil && existing.Status == models.SessionStatusConnected {
		return nil, errors.NewAlreadyConnectedError(chatbotID)
	}

	if bound, ok := m.bindings[chatbotID]; ok {
		// Rejoin the in-flight attempt rather than spawning a second driver.
		metrics.SessionRejoins.Inc()
		m.logger.WithFields(logrus.Fields{
			"chatbot_id": chatbotID,
			"session_id": bound.sessionID,
		}).Info("Create rejoined in-flight session")
		if existing != nil {
			return existing, nil
		}
		return &models.Session{
			ChatbotID: chatbotID,
			SessionID: bound.sessionID,
			Status:    models.SessionStatusConnecting,
		}, nil
	}

	session := &models.Session{
		ChatbotID: chatbotID,
		SessionID: uuid.NewString(),
		Status:    models.SessionStatusConnecting,
	}

	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, errors.NewDatabaseError("save session", err)
	}

	driver, err := m.factory.NewDriver(session.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeEngineAPI, "failed to create connection driver")
	}

	if err := driver.Start(ctx); err != nil {
		if stopErr := driver.Stop(ctx); stopErr != nil {
			m.logger.WithError(stopErr).Warn("Failed to release driver after start failure")
		}
		if dbErr := m.store.SetSessionDisconnected(ctx, chatbotID); dbErr != nil {
			m.logger.WithError(dbErr).Warn("Failed to mark session disconnected after start failure")
		}
		if appErr, ok := err.(*errors.AppError); ok {
			return nil, appErr
		}
		return nil, errors.Wrap(err, errors.ErrCodeEngineAPI, "failed to start connection driver")
	}

	bound := &binding{
		chatbotID: chatbotID,
		sessionID: session.SessionID,
		driver:    driver,
	}
	m.bindings[chatbotID] = bound

	m.wg.Add(1)
	go m.consumeEvents(bound)

	metrics.SessionsCreated.Inc()
	metrics.LiveSessions.Inc()
	m.logger.WithFields(logrus.Fields{
		"chatbot_id": chatbotID,
		"session_id": session.SessionID,
	}).Info("Session created")

	return session, nil
}

// GetSession is a pure read of the session store.
func (m *sessionManager) GetSession(ctx context.Context, chatbotID string) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, chatbotID)
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	if session == nil {
		return nil, errors.NewSessionNotFoundError(chatbotID)
	}
	return session, nil
}

// WaitForQR polls the store until the session is scannable (QR_READY) or
// already CONNECTED. Transient read errors never abort the wait; only the
// poll deadline does.
func (m *sessionManager) WaitForQR(ctx context.Context, chatbotID string, cfg poll.Config) (*models.Session, error) {
	result := poll.Until(ctx, cfg, func(ctx context.Context) (*models.Session, error) {
		return m.GetSession(ctx, chatbotID)
	}, func(session *models.Session) bool {
		return session != nil &&
			(session.Status == models.SessionStatusQRReady || session.Status == models.SessionStatusConnected)
	}, m.logger)

	if result.TimedOut {
		return nil, errors.New(errors.ErrCodeTimeout, "session did not become scannable in time").
			WithContext("chatbot_id", chatbotID)
	}
	return result.Value, nil
}

// DisconnectSession tears down the chatbot's driver. It is idempotent:
// disconnecting a chatbot with no live driver succeeds as a no-op.
func (m *sessionManager) DisconnectSession(ctx context.Context, chatbotID string) error {
	m.mu.Lock()
	bound, ok := m.bindings[chatbotID]
	m.mu.Unlock()

	if !ok {
		// No live driver. Self-correct a record stranded in a live status,
		// e.g. after a process restart.
		session, err := m.store.GetSession(ctx, chatbotID)
		if err == nil && session != nil && session.Status.Live() {
			if dbErr := m.store.SetSessionDisconnected(ctx, chatbotID); dbErr != nil {
				m.logger.WithError(dbErr).WithField("chatbot_id", chatbotID).
					Warn("Failed to mark stranded session disconnected")
			}
		}
		return nil
	}

	if err := bound.driver.Stop(ctx); err != nil {
		// The driver could not shut down cleanly; force the teardown so a
		// later create is not blocked by a stale binding.
		m.logger.WithError(err).WithFields(logrus.Fields{
			"chatbot_id": chatbotID,
			"session_id": bound.sessionID,
		}).Warn("Driver stop failed, forcing teardown")
		m.handleDisconnected(context.Background(), bound)
		return nil
	}

	// Release the binding synchronously. The event loop is still draining the
	// driver's final events, but a create arriving now must start a fresh
	// attempt, not rejoin this dying one.
	m.release(bound)
	return nil
}

// SendMessage delivers a text message through the chatbot's driver. The
// session must be CONNECTED; the driver is never reached otherwise.
func (m *sessionManager) SendMessage(ctx context.Context, chatbotID, to, message string, metadata map[string]string) (string, error) {
	session, err := m.store.GetSession(ctx, chatbotID)
	if err != nil {
		return "", errors.NewDatabaseError("get session", err)
	}
	if session == nil || session.Status != models.SessionStatusConnected {
		metrics.MessagesFailed.Inc()
		return "", errors.NewNotConnectedError(chatbotID)
	}

	m.mu.Lock()
	bound, ok := m.bindings[chatbotID]
	m.mu.Unlock()
	if !ok {
		metrics.MessagesFailed.Inc()
		return "", errors.NewNotConnectedError(chatbotID)
	}

	messageID, err := bound.driver.SendText(ctx, to, message, metadata)
	if err != nil {
		metrics.MessagesFailed.Inc()
		if appErr, ok := err.(*errors.AppError); ok {
			return "", appErr
		}
		return "", errors.Wrap(err, errors.ErrCodeEngineAPI, "failed to send message")
	}

	metrics.MessagesSent.Inc()
	m.logger.WithFields(logrus.Fields{
		"chatbot_id": chatbotID,
		"session_id": bound.sessionID,
		"message_id": messageID,
	}).Debug("Message sent")
	return messageID, nil
}

// Shutdown stops every live driver and waits for their event loops to drain.
func (m *sessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	bindings := make([]*binding, 0, len(m.bindings))
	for _, bound := range m.bindings {
		bindings = append(bindings, bound)
	}
	m.mu.Unlock()

	for _, bound := range bindings {
		if err := bound.driver.Stop(ctx); err != nil {
			m.logger.WithError(err).WithField("session_id", bound.sessionID).
				Warn("Failed to stop driver during shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline reached before event loops drained")
	}
}

// consumeEvents serializes one session's events. Running exactly one loop per
// binding guarantees the store never observes QR_READY after CONNECTED for
// the same attempt; different chatbots' loops proceed independently.
func (m *sessionManager) consumeEvents(bound *binding) {
	defer m.wg.Done()

	for event := range bound.driver.Events() {
		m.handleEvent(context.Background(), bound, event)
	}

	// Channel closed: the driver is gone. Release the binding in case no
	// disconnected event preceded the close.
	m.release(bound)
}

func (m *sessionManager) handleEvent(ctx context.Context, bound *binding, event Event) {
	metrics.DriverEvents.WithLabelValues(string(event.Kind)).Inc()

	switch event.Kind {
	case EventQRGenerated:
		// May recur on driver-issued QR refreshes; each occurrence
		// re-persists and re-notifies.
		m.persist(ctx, bound, "set session qr", func() error {
			return m.store.SetSessionQR(ctx, bound.chatbotID, event.QRCode)
		})
		m.notifier.Notify(models.Notification{
			Type:      models.NotificationQR,
			ChatbotID: bound.chatbotID,
			SessionID: bound.sessionID,
			Data:      event.QRCode,
		})

	case EventConnected:
		m.persist(ctx, bound, "set session connected", func() error {
			return m.store.SetSessionConnected(ctx, bound.chatbotID, time.Now())
		})
		m.notifier.Notify(models.Notification{
			Type:      models.NotificationConnected,
			ChatbotID: bound.chatbotID,
			SessionID: bound.sessionID,
		})

	case EventDisconnected:
		m.handleDisconnected(ctx, bound)

	case EventMessageReceived:
		if event.Message == nil {
			m.logger.WithField("session_id", bound.sessionID).Warn("Message event without envelope")
			return
		}
		envelope := *event.Message
		envelope.SessionID = bound.sessionID
		m.notifier.Notify(models.Notification{
			Type:      models.NotificationMessage,
			ChatbotID: bound.chatbotID,
			SessionID: bound.sessionID,
			Data:      envelope,
		})

	default:
		m.logger.WithFields(logrus.Fields{
			"session_id": bound.sessionID,
			"kind":       event.Kind,
		}).Warn("Unknown driver event")
	}
}

// handleDisconnected serves both network-initiated drops and explicit
// operator disconnects; both paths converge here.
func (m *sessionManager) handleDisconnected(ctx context.Context, bound *binding) {
	m.persist(ctx, bound, "set session disconnected", func() error {
		return m.store.SetSessionDisconnected(ctx, bound.chatbotID)
	})
	m.notifier.Notify(models.Notification{
		Type:      models.NotificationDisconnected,
		ChatbotID: bound.chatbotID,
		SessionID: bound.sessionID,
	})
	m.release(bound)
}

// persist runs a store write and swallows its failure. The driver's state has
// already changed regardless of whether the write lands; the store may lag
// and self-corrects on the next event.
func (m *sessionManager) persist(ctx context.Context, bound *binding, operation string, write func() error) {
	if err := write(); err != nil {
		metrics.StoreWriteFailures.Inc()
		m.logger.WithError(err).WithFields(logrus.Fields{
			"chatbot_id": bound.chatbotID,
			"session_id": bound.sessionID,
			"operation":  operation,
		}).Error("Session store write failed")
	}
}

func (m *sessionManager) release(bound *binding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.bindings[bound.chatbotID]; ok && current == bound {
		delete(m.bindings, bound.chatbotID)
		metrics.LiveSessions.Dec()
	}
}
