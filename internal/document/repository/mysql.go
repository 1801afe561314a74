package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/xid"

	"github.com/aziende/editorbridge/internal/database"
	"github.com/aziende/editorbridge/internal/document"
)

// MySQL error numbers that mean the write can never succeed as issued.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrNoReferencedRow = 1452
	mysqlErrRowIsReferenced = 1451
)

// errVersionMoved means the guarded UPDATE matched no row even though the
// row was locked; it is reported as a retryable storage failure.
var errVersionMoved = errors.New("document version moved during commit")

// MySQLRepo is the relational Document Store. Commits lock the document row
// with SELECT ... FOR UPDATE so concurrent callbacks for the same document
// observe each other's version increments.
type MySQLRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLRepo(db *sql.DB) *MySQLRepo {
	return &MySQLRepo{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, withContent bool) (*document.Document, error) {
	var (
		d      document.Document
		tenant sql.NullString
		err    error
	)
	if withContent {
		err = row.Scan(&d.ID, &d.Title, &d.Content, &d.Version, &tenant, &d.Extension, &d.Versioning, &d.ModifiedBy, &d.CreatedAt, &d.UpdatedAt)
	} else {
		err = row.Scan(&d.ID, &d.Title, &d.Version, &tenant, &d.Extension, &d.Versioning, &d.ModifiedBy, &d.CreatedAt, &d.UpdatedAt)
	}
	if err != nil {
		return nil, err
	}
	d.Tenant = tenant.String
	return &d, nil
}

func nullTenant(t string) sql.NullString {
	return sql.NullString{String: t, Valid: t != ""}
}

// classify maps driver errors onto the document error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDuplicateEntry, mysqlErrNoReferencedRow, mysqlErrRowIsReferenced:
			return fmt.Errorf("%s: %w: %w", op, document.ErrIntegrity, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, document.ErrStorage, err)
}

func (r *MySQLRepo) Create(ctx context.Context, doc *document.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = xid.New().String()
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	now := r.now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	content := doc.Content
	if content == nil {
		content = []byte{}
	}
	_, err := r.db.ExecContext(ctx, database.InsertDocumentQuery,
		doc.ID, doc.Title, content, doc.Version, nullTenant(doc.Tenant), doc.Extension, doc.Versioning, doc.ModifiedBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return "", classify("insert document", err)
	}
	return doc.ID, nil
}

func (r *MySQLRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx, database.GetDocumentQuery, id), true)
	if err != nil {
		return nil, classify("get document", err)
	}
	return d, nil
}

func (r *MySQLRepo) List(ctx context.Context, tenant string) ([]*document.Document, error) {
	rows, err := r.db.QueryContext(ctx, database.ListDocumentsQuery, tenant, tenant)
	if err != nil {
		return nil, classify("list documents", err)
	}
	defer rows.Close()
	out := []*document.Document{}
	for rows.Next() {
		d, err := scanDocument(rows, false)
		if err != nil {
			return nil, classify("scan document", err)
		}
		out = append(out, d)
	}
	return out, classify("list documents", rows.Err())
}

// CommitContent performs the read-modify-write of a commit in a single
// transaction. Any failure rolls the whole transaction back.
func (r *MySQLRepo) CommitContent(ctx context.Context, id string, c document.Commit) (out *document.Document, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin commit", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	d, err := scanDocument(tx.QueryRowContext(ctx, database.LockDocumentQuery, id), true)
	if err != nil {
		return nil, classify("lock document", err)
	}
	if !d.Changes(c) {
		if err = tx.Commit(); err != nil {
			return nil, classify("commit", err)
		}
		return d, nil
	}
	prev := d.Version
	if snap := d.Apply(c, r.now().UTC()); snap != nil {
		if _, err = tx.ExecContext(ctx, database.InsertVersionQuery,
			snap.DocumentID, snap.Version, snap.Content, snap.ModifiedBy, snap.CreatedAt); err != nil {
			return nil, classify("insert version", err)
		}
	}
	res, err := tx.ExecContext(ctx, database.UpdateDocumentContentQuery,
		d.Content, d.Version, d.Title, d.ModifiedBy, d.UpdatedAt, id, prev)
	if err != nil {
		return nil, classify("update document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify("update document", err)
	}
	if n != 1 {
		return nil, classify("update document", errVersionMoved)
	}
	if err = tx.Commit(); err != nil {
		return nil, classify("commit", err)
	}
	return d, nil
}

func (r *MySQLRepo) ListVersions(ctx context.Context, id string) ([]*document.Version, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, database.ListVersionsQuery, id)
	if err != nil {
		return nil, classify("list versions", err)
	}
	defer rows.Close()
	out := []*document.Version{}
	for rows.Next() {
		var v document.Version
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.ModifiedBy, &v.CreatedAt); err != nil {
			return nil, classify("scan version", err)
		}
		out = append(out, &v)
	}
	return out, classify("list versions", rows.Err())
}

func (r *MySQLRepo) GetVersion(ctx context.Context, id string, version int64) (*document.Version, error) {
	var v document.Version
	err := r.db.QueryRowContext(ctx, database.GetVersionQuery, id, version).
		Scan(&v.DocumentID, &v.Version, &v.Content, &v.ModifiedBy, &v.CreatedAt)
	if err != nil {
		return nil, classify("get version", err)
	}
	return &v, nil
}

func (r *MySQLRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
