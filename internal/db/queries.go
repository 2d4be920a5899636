package db

const recordColumns = `id, hash, fz_one_hash, file_name, file_size, content_type, storage_name,
	uploader_id, uploader_email, notify_uploader, password, created_at, expires_at,
	extends_count, del_notif_sent, download_count, version`

const (
	insertFile = `
		INSERT INTO files (hash, fz_one_hash, file_name, file_size, content_type, storage_name,
			uploader_id, uploader_email, notify_uploader, password, created_at, expires_at,
			extends_count, del_notif_sent, download_count, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	selectByHash = `SELECT ` + recordColumns + ` FROM files WHERE hash = ?`

	selectByFzOneHash = `SELECT ` + recordColumns + ` FROM files WHERE fz_one_hash = ?`

	selectExpired = `SELECT ` + recordColumns + ` FROM files WHERE expires_at <= ?`

	selectExpiringWithin = `
		SELECT ` + recordColumns + ` FROM files
		WHERE expires_at > ? AND expires_at <= ?
			AND del_notif_sent = FALSE AND notify_uploader = TRUE`

	selectByUploader = `
		SELECT ` + recordColumns + ` FROM files
		WHERE uploader_id = ?
			OR (uploader_id IS NULL AND uploader_email <> '' AND lower(uploader_email) = lower(?))
		ORDER BY created_at DESC`

	updateFile = `
		UPDATE files SET file_name = ?, password = ?, notify_uploader = ?, expires_at = ?,
			extends_count = ?, del_notif_sent = ?, version = version + 1
		WHERE hash = ? AND version = ?`

	incrementDownloadCount = `UPDATE files SET download_count = download_count + 1 WHERE hash = ?`

	selectExists = `SELECT COUNT(*) FROM files WHERE hash = ?`

	deleteByHash = `DELETE FROM files WHERE hash = ?`
)
