package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrForbidden = errors.New("access to document denied")
	// ErrStorage wraps failures of the Document Store that may succeed on retry.
	ErrStorage = errors.New("document store failure")
	// ErrIntegrity marks constraint violations; retrying cannot fix them.
	ErrIntegrity = errors.New("document store integrity violation")
)

// Document is one editable artifact owned by a tenant (azienda), or global
// when Tenant is empty.
type Document struct {
	ID         string    `json:"id" bson:"id"`
	Title      string    `json:"title" bson:"title"`
	Content    []byte    `json:"-" bson:"content"`
	Version    int64     `json:"version" bson:"version"`
	Tenant     string    `json:"azienda,omitempty" bson:"azienda,omitempty"`
	Extension  string    `json:"extension" bson:"extension"`
	Versioning bool      `json:"versioning" bson:"versioning"`
	ModifiedBy string    `json:"modifiedBy,omitempty" bson:"modifiedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Version is an immutable snapshot of a document's content taken right
// before the content was overwritten.
type Version struct {
	DocumentID string    `json:"documentId" bson:"documentId"`
	Version    int64     `json:"version" bson:"version"`
	Content    []byte    `json:"-" bson:"content"`
	ModifiedBy string    `json:"modifiedBy,omitempty" bson:"modifiedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// Source tells where a commit originated.
type Source string

const (
	SourceEditor Source = "editor"
	SourceForm   Source = "form"
)

// Commit is a whole-document replacement. It is the only way content changes.
type Commit struct {
	Content    []byte
	ModifiedBy string
	Source     Source
	Title      *string
}

// Changes reports whether committing c produces a new version of d. With
// versioning off, a commit that repeats the current content and title is a
// no-op.
func (d *Document) Changes(c Commit) bool {
	if d.Versioning {
		return true
	}
	if c.Title != nil && *c.Title != d.Title {
		return true
	}
	return !bytes.Equal(d.Content, c.Content)
}

// Apply moves d to the next version. The caller must hold whatever lock or
// transaction the store uses; the returned snapshot is nil when versioning
// is disabled for d.
func (d *Document) Apply(c Commit, now time.Time) *Version {
	var snap *Version
	if d.Versioning {
		snap = &Version{
			DocumentID: d.ID,
			Version:    d.Version,
			Content:    append([]byte(nil), d.Content...),
			ModifiedBy: d.ModifiedBy,
			CreatedAt:  now,
		}
	}
	d.Content = append([]byte(nil), c.Content...)
	d.Version++
	d.ModifiedBy = c.ModifiedBy
	if c.Title != nil {
		d.Title = *c.Title
	}
	d.UpdatedAt = now
	return snap
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	cp := *d
	cp.Content = append([]byte(nil), d.Content...)
	return &cp
}

const keyHashLen = 20

// Key is the document key handed to the editor: the id followed by a
// fingerprint of the current version, so a reopen after a save never reuses
// a stale editor session.
func (d *Document) Key() string {
	h := sha256.New()
	h.Write([]byte(d.ID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(d.Version, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(d.UpdatedAt.UnixNano(), 10)))
	return d.ID + "-" + hex.EncodeToString(h.Sum(nil))[:keyHashLen]
}

// DocumentIDFromKey returns the id part of a document key.
func DocumentIDFromKey(key string) (string, bool) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || len(key)-i-1 != keyHashLen {
		return "", false
	}
	return key[:i], true
}
