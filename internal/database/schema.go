package database

// MySQL schema for the Document Store. Version snapshots are append-only:
// nothing in this service updates or deletes document_versions rows.
const (
	CreateDocumentsTable = `
		CREATE TABLE IF NOT EXISTS documents (
			id          VARCHAR(64)  NOT NULL PRIMARY KEY,
			title       VARCHAR(255) NOT NULL,
			content     LONGBLOB     NOT NULL,
			version     BIGINT       NOT NULL DEFAULT 1,
			azienda_id  VARCHAR(64)  NULL,
			extension   VARCHAR(16)  NOT NULL DEFAULT '',
			versioning  TINYINT(1)   NOT NULL DEFAULT 1,
			modified_by VARCHAR(128) NOT NULL DEFAULT '',
			created_at  DATETIME(6)  NOT NULL,
			updated_at  DATETIME(6)  NOT NULL,
			KEY idx_documents_azienda (azienda_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	CreateDocumentVersionsTable = `
		CREATE TABLE IF NOT EXISTS document_versions (
			id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
			document_id VARCHAR(64)  NOT NULL,
			version     BIGINT       NOT NULL,
			content     LONGBLOB     NOT NULL,
			modified_by VARCHAR(128) NOT NULL DEFAULT '',
			created_at  DATETIME(6)  NOT NULL,
			UNIQUE KEY uq_document_version (document_id, version),
			CONSTRAINT fk_versions_document FOREIGN KEY (document_id) REFERENCES documents (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
)

// Migrations lists the statements applied, in order, by Migrate.
var Migrations = []string{
	CreateDocumentsTable,
	CreateDocumentVersionsTable,
}

// Document queries
const (
	InsertDocumentQuery = `
		INSERT INTO documents (id, title, content, version, azienda_id, extension, versioning, modified_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	GetDocumentQuery = `
		SELECT id, title, content, version, azienda_id, extension, versioning, modified_by, created_at, updated_at
		FROM documents
		WHERE id = ?`

	// LockDocumentQuery takes the row lock that serializes concurrent commits.
	LockDocumentQuery = GetDocumentQuery + ` FOR UPDATE`

	ListDocumentsQuery = `
		SELECT id, title, version, azienda_id, extension, versioning, modified_by, created_at, updated_at
		FROM documents
		WHERE (? = '' OR azienda_id IS NULL OR azienda_id = ?)
		ORDER BY updated_at DESC`

	UpdateDocumentContentQuery = `
		UPDATE documents
		SET content = ?, version = ?, title = ?, modified_by = ?, updated_at = ?
		WHERE id = ? AND version = ?`

	InsertVersionQuery = `
		INSERT INTO document_versions (document_id, version, content, modified_by, created_at)
		VALUES (?, ?, ?, ?, ?)`

	ListVersionsQuery = `
		SELECT document_id, version, modified_by, created_at
		FROM document_versions
		WHERE document_id = ?
		ORDER BY version ASC`

	GetVersionQuery = `
		SELECT document_id, version, content, modified_by, created_at
		FROM document_versions
		WHERE document_id = ? AND version = ?`
)
