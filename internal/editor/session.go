// Package editor builds the configuration handed to the external document
// editor when a requester opens a document.
package editor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/models"
	"github.com/aziende/editorbridge/internal/tokens"
	"github.com/aziende/editorbridge/pkg/logger"
	"github.com/aziende/editorbridge/pkg/metrics"
)

const (
	ModeEdit = "edit"
	ModeView = "view"

	DegradedUnsupportedFormat = "unsupported_format"
)

// DocumentGetter is the read side of the Document Store used here.
type DocumentGetter interface {
	Get(ctx context.Context, id string) (*document.Document, error)
}

type Permissions struct {
	Download bool `json:"download"`
	Edit     bool `json:"edit"`
	Print    bool `json:"print"`
	Review   bool `json:"review"`
	Comment  bool `json:"comment"`
}

// Writes reports whether the permissions let the editor post content back.
func (p Permissions) Writes() bool { return p.Edit || p.Review || p.Comment }

// PermissionsFor maps a role to editor permissions.
func PermissionsFor(role models.Role) Permissions {
	switch role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleEditor:
		return Permissions{Download: true, Edit: true, Print: true, Review: true, Comment: true}
	case models.RoleReviewer:
		return Permissions{Download: true, Print: true, Review: true, Comment: true}
	default:
		return Permissions{Download: true, Print: true}
	}
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Config is the editor-native bootstrap object. When editor JWT is enabled
// it is signed and the signature placed in Token.
type Config struct {
	Document struct {
		FileType    string      `json:"fileType"`
		Key         string      `json:"key"`
		Title       string      `json:"title"`
		URL         string      `json:"url"`
		Permissions Permissions `json:"permissions"`
	} `json:"document"`
	DocumentType string `json:"documentType"`
	EditorConfig struct {
		CallbackURL string `json:"callbackUrl"`
		Mode        string `json:"mode"`
		User        User   `json:"user"`
	} `json:"editorConfig"`
	Token string `json:"token,omitempty"`
}

// SessionConfig is returned by the session-open endpoint.
type SessionConfig struct {
	DocumentID     string      `json:"documentId"`
	DocumentKey    string      `json:"documentKey"`
	Version        int64       `json:"version"`
	Title          string      `json:"title"`
	FileType       string      `json:"fileType"`
	DocumentType   string      `json:"documentType"`
	URL            string      `json:"url"`
	CallbackURL    string      `json:"callbackUrl"`
	Mode           string      `json:"mode"`
	Permissions    Permissions `json:"permissions"`
	User           User        `json:"user"`
	Degraded       bool        `json:"degraded"`
	DegradedReason string      `json:"degradedReason,omitempty"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	EditorAPIURL   string      `json:"editorApiUrl,omitempty"`
	Config         Config      `json:"config"`
}

type Options struct {
	PublicURL   string        // base URL of this service as seen by the editor server
	EditorURL   string        // base URL of the editor server
	TokenTTL    time.Duration // read token lifetime
	CallbackTTL time.Duration // write token lifetime
}

// Builder assembles editor sessions. It never writes to the store.
type Builder struct {
	repo      DocumentGetter
	issuer    *tokens.Issuer
	editorJWT *tokens.EditorJWT
	opts      Options
}

// NewBuilder wires a Builder; editorJWT may be nil when the editor server
// runs without JWT.
func NewBuilder(repo DocumentGetter, issuer *tokens.Issuer, editorJWT *tokens.EditorJWT, opts Options) *Builder {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.CallbackTTL <= 0 {
		opts.CallbackTTL = 12 * time.Hour
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	opts.EditorURL = strings.TrimRight(opts.EditorURL, "/")
	return &Builder{repo: repo, issuer: issuer, editorJWT: editorJWT, opts: opts}
}

// Build loads the document, checks the requester's tenant access and
// returns the session configuration. Unsupported formats still produce a
// session, in view mode and flagged as degraded.
func (b *Builder) Build(ctx context.Context, documentID string, req models.Requester) (*SessionConfig, error) {
	d, err := b.repo.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return nil, document.ErrNotFound
		}
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if !req.CanAccess(d.Tenant) {
		return nil, document.ErrForbidden
	}

	perms := PermissionsFor(req.Role)
	format, ferr := d.Format()
	degraded := errors.Is(ferr, document.ErrUnsupportedFormat)
	if degraded || !format.Editable {
		perms.Edit, perms.Review, perms.Comment = false, false, false
	}
	mode := ModeView
	if perms.Writes() {
		mode = ModeEdit
	}

	base := jwt.RegisteredClaims{Subject: req.ID}
	readTok, exp, err := b.issuer.Issue(tokens.Claims{
		DocumentID: d.ID, Tenant: d.Tenant, Ops: []string{tokens.OpRead}, RegisteredClaims: base,
	}, b.opts.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue read token: %w", err)
	}
	cbOps := []string{}
	if perms.Writes() {
		cbOps = append(cbOps, tokens.OpWrite)
	}
	cbTok, _, err := b.issuer.Issue(tokens.Claims{
		DocumentID: d.ID, Tenant: d.Tenant, Ops: cbOps, RegisteredClaims: base,
	}, b.opts.CallbackTTL)
	if err != nil {
		return nil, fmt.Errorf("issue callback token: %w", err)
	}

	docPath := b.opts.PublicURL + "/api/documents/" + url.PathEscape(d.ID)
	sc := &SessionConfig{
		DocumentID:   d.ID,
		DocumentKey:  d.Key(),
		Version:      d.Version,
		Title:        d.Title,
		FileType:     format.Extension,
		DocumentType: format.DocumentType,
		URL:          docPath + "/content?token=" + url.QueryEscape(readTok),
		CallbackURL:  docPath + "/callback?token=" + url.QueryEscape(cbTok),
		Mode:         mode,
		Permissions:  perms,
		User:         User{ID: req.ID, Name: req.DisplayName()},
		Degraded:     degraded,
		ExpiresAt:    exp,
	}
	if degraded {
		sc.DegradedReason = DegradedUnsupportedFormat
		logger.With("doc", d.ID, "extension", d.Extension, "requester", req.ID).
			Warnf("session built read-only: %v", ferr)
	}
	if b.opts.EditorURL != "" {
		sc.EditorAPIURL = b.opts.EditorURL + "/web-apps/apps/api/documents/api.js"
	}

	sc.Config.Document.FileType = sc.FileType
	sc.Config.Document.Key = sc.DocumentKey
	sc.Config.Document.Title = sc.Title
	sc.Config.Document.URL = sc.URL
	sc.Config.Document.Permissions = perms
	sc.Config.DocumentType = sc.DocumentType
	sc.Config.EditorConfig.CallbackURL = sc.CallbackURL
	sc.Config.EditorConfig.Mode = mode
	sc.Config.EditorConfig.User = sc.User
	if b.editorJWT != nil {
		signed, err := b.editorJWT.Sign(sc.Config)
		if err != nil {
			return nil, fmt.Errorf("sign editor config: %w", err)
		}
		sc.Config.Token = signed
	}

	metrics.SessionsBuilt.WithLabelValues(mode).Inc()
	return sc, nil
}
