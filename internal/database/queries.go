package database

// Session queries
const (
	UpsertSessionQuery = `
		INSERT INTO sessions (chatbot_id, session_id, status, qr_code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chatbot_id) DO UPDATE SET
			session_id = excluded.session_id,
			status = excluded.status,
			qr_code = excluded.qr_code
	`

	SelectSessionByChatbotIDQuery = `
		SELECT id, chatbot_id, session_id, status, qr_code,
		       last_connected_at, created_at, updated_at
		FROM sessions
		WHERE chatbot_id = ?
	`

	UpdateSessionQRQuery = `
		UPDATE sessions
		SET status = ?, qr_code = ?
		WHERE chatbot_id = ?
	`

	UpdateSessionConnectedQuery = `
		UPDATE sessions
		SET status = ?, qr_code = NULL, last_connected_at = ?
		WHERE chatbot_id = ?
	`

	UpdateSessionDisconnectedQuery = `
		UPDATE sessions
		SET status = ?, qr_code = NULL
		WHERE chatbot_id = ?
	`
)
