// Package database implements the session store on sqlite. It is the system
// of record for session status; the session manager is its only writer.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"wagate/internal/migrations"
	"wagate/internal/models"
	"wagate/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSession inserts the session record for a chatbot, or resets the
// existing record to the new attempt. last_connected_at from a previous
// attempt is preserved.
func (d *Database) SaveSession(ctx context.Context, session *models.Session) error {
	qr, err := d.encryptedQR(session.QRCode)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertSessionQuery,
			session.ChatbotID,
			session.SessionID,
			session.Status,
			qr,
		)
		return err
	}, "save session")
}

// GetSession returns the session record for a chatbot, or nil when the
// chatbot has never requested a session.
func (d *Database) GetSession(ctx context.Context, chatbotID string) (*models.Session, error) {
	return retryableDBOperation(ctx, func() (*models.Session, error) {
		var session models.Session
		var qr sql.NullString
		var lastConnectedAt sql.NullTime

		err := d.db.QueryRowContext(ctx, SelectSessionByChatbotIDQuery, chatbotID).Scan(
			&session.ID,
			&session.ChatbotID,
			&session.SessionID,
			&session.Status,
			&qr,
			&lastConnectedAt,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		if qr.Valid {
			decrypted, err := d.encryptor.DecryptIfEnabled(qr.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt QR code: %w", err)
			}
			session.QRCode = &decrypted
		}
		if lastConnectedAt.Valid {
			t := lastConnectedAt.Time
			session.LastConnectedAt = &t
		}

		return &session, nil
	}, "get session")
}

// SetSessionQR moves the session to QR_READY and stores the (possibly
// refreshed) QR payload.
func (d *Database) SetSessionQR(ctx context.Context, chatbotID, qrCode string) error {
	qr, err := d.encryptedQR(&qrCode)
	if err != nil {
		return err
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateSessionQRQuery, models.SessionStatusQRReady, qr, chatbotID)
		return err
	}, "set session qr")
}

// SetSessionConnected moves the session to CONNECTED, clears the QR payload
// and records the connection time.
func (d *Database) SetSessionConnected(ctx context.Context, chatbotID string, at time.Time) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateSessionConnectedQuery, models.SessionStatusConnected, at.UTC(), chatbotID)
		return err
	}, "set session connected")
}

// SetSessionDisconnected moves the session to DISCONNECTED and clears the QR
// payload. last_connected_at is left untouched.
func (d *Database) SetSessionDisconnected(ctx context.Context, chatbotID string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateSessionDisconnectedQuery, models.SessionStatusDisconnected, chatbotID)
		return err
	}, "set session disconnected")
}

func (d *Database) encryptedQR(qrCode *string) (interface{}, error) {
	if qrCode == nil {
		return nil, nil
	}
	encrypted, err := d.encryptor.EncryptIfEnabled(*qrCode)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt QR code: %w", err)
	}
	return encrypted, nil
}
