package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/tokens"
	"github.com/aziende/editorbridge/pkg/logger"
	"github.com/aziende/editorbridge/pkg/metrics"
)

var (
	ErrBadPayload    = errors.New("malformed callback payload")
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", ErrBadPayload)
	ErrMissingURL    = fmt.Errorf("%w: save without content url", ErrBadPayload)
	ErrKeyMismatch   = fmt.Errorf("%w: document key belongs to another document", tokens.ErrInvalidSignature)
)

// Committer is the slice of the document store the reconciler writes through.
type Committer interface {
	CommitContent(ctx context.Context, id string, c document.Commit) (*document.Document, error)
}

// PresenceTracker records who is currently editing a document.
type PresenceTracker interface {
	Record(ctx context.Context, documentID string, users []string) error
	Clear(ctx context.Context, documentID string) error
}

// Archiver keeps a copy of every committed version outside the store.
type Archiver interface {
	Archive(ctx context.Context, d *document.Document) error
}

type Reconciler struct {
	store     Committer
	fetcher   Fetcher
	issuer    *tokens.Issuer
	editorJWT *tokens.EditorJWT
	presence  PresenceTracker
	archiver  Archiver
}

type Option func(*Reconciler)

// WithEditorJWT enables verification of the editor server's signed payload.
func WithEditorJWT(e *tokens.EditorJWT) Option { return func(r *Reconciler) { r.editorJWT = e } }

func WithPresence(p PresenceTracker) Option { return func(r *Reconciler) { r.presence = p } }

func WithArchiver(a Archiver) Option { return func(r *Reconciler) { r.archiver = a } }

func NewReconciler(store Committer, fetcher Fetcher, issuer *tokens.Issuer, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, fetcher: fetcher, issuer: issuer}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle authenticates, fetches and commits one callback. It never panics on
// payload shape and always yields an Outcome the caller can write back.
func (r *Reconciler) Handle(ctx context.Context, req Request) Outcome {
	received := time.Now()
	out, users := r.reconcile(ctx, req)
	out.Code, out.HTTPStatus = classify(out.Err)

	log := logger.With(
		"document_id", req.DocumentID,
		"status", out.Status.String(),
		"users", users,
		"received_at", received.UTC().Format(time.RFC3339Nano),
		"code", int(out.Code),
	)
	switch out.Code {
	case CodeOK:
		if out.Version > 0 {
			log.Infow("callback committed", "version", out.Version)
		} else {
			log.Debugw("callback acknowledged")
		}
	case CodeRetry:
		log.Warnw("callback failed transiently", "error", out.Err)
	case CodeIntegrity:
		log.Errorw("callback violated store integrity", "error", out.Err)
	default:
		if errors.Is(out.Err, tokens.ErrInvalidSignature) {
			log.Warnw("callback rejected: authentication failed", "error", out.Err)
		} else {
			log.Warnw("callback rejected", "error", out.Err)
		}
	}
	metrics.Callbacks.WithLabelValues(out.Status.String(), outcomeLabel(out.Code)).Inc()
	return out
}

func (r *Reconciler) reconcile(ctx context.Context, req Request) (Outcome, []string) {
	var out Outcome
	claims, err := r.issuer.Verify(req.AccessToken, req.DocumentID, tokens.OpWrite)
	if err != nil {
		out.Err = err
		return out, req.Payload.Users
	}

	p := req.Payload
	if r.editorJWT != nil {
		raw := p.Token
		if raw == "" {
			raw = req.EditorToken
		}
		if raw == "" {
			out.Err = fmt.Errorf("%w: missing editor token", tokens.ErrInvalidSignature)
			return out, p.Users
		}
		var signed Payload
		if err := r.editorJWT.Verify(raw, &signed); err != nil {
			out.Err = err
			return out, p.Users
		}
		p = signed
	}

	status, err := ParseStatus(p.Status)
	if err != nil {
		out.Err = err
		return out, p.Users
	}
	out.Status = status
	id, ok := document.DocumentIDFromKey(p.Key)
	if !ok {
		out.Err = fmt.Errorf("%w: key %q", ErrBadPayload, p.Key)
		return out, p.Users
	}
	if id != req.DocumentID {
		out.Err = ErrKeyMismatch
		return out, p.Users
	}

	switch status {
	case StatusEditing:
		r.recordPresence(ctx, req.DocumentID, p.Users)
	case StatusClosedNoChanges:
		r.clearPresence(ctx, req.DocumentID)
	case StatusSaveError, StatusForceSaveError:
		logger.With("document_id", req.DocumentID, "status", status.String()).
			Errorw("editor reported a failed save", "url", p.URL)
	case StatusReadyToSave, StatusForceSave:
		d, err := r.save(ctx, req.DocumentID, mutator(p.Users, claims), p.URL)
		if err != nil {
			out.Err = err
			return out, p.Users
		}
		out.Version = d.Version
		if status == StatusReadyToSave {
			r.clearPresence(ctx, req.DocumentID)
		}
		r.archive(ctx, d)
	}
	return out, p.Users
}

func (r *Reconciler) save(ctx context.Context, id, modifiedBy, contentURL string) (*document.Document, error) {
	if contentURL == "" {
		return nil, ErrMissingURL
	}
	start := time.Now()
	content, err := r.fetcher.Fetch(ctx, contentURL)
	metrics.CallbackFetchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return r.store.CommitContent(ctx, id, document.Commit{
		Content:    content,
		ModifiedBy: modifiedBy,
		Source:     document.SourceEditor,
	})
}

func (r *Reconciler) recordPresence(ctx context.Context, id string, users []string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.Record(ctx, id, users); err != nil {
		logger.Warnf("presence record for %s: %v", id, err)
	}
}

func (r *Reconciler) clearPresence(ctx context.Context, id string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.Clear(ctx, id); err != nil {
		logger.Warnf("presence clear for %s: %v", id, err)
	}
}

func (r *Reconciler) archive(ctx context.Context, d *document.Document) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.Archive(ctx, d); err != nil {
		logger.Warnf("archive %s v%d: %v", d.ID, d.Version, err)
	}
}

func mutator(users []string, claims *tokens.Claims) string {
	if len(users) > 0 && users[0] != "" {
		return users[0]
	}
	return claims.Subject
}

// classify maps a reconciliation error to the editor acknowledgment and the
// HTTP status. Unknown errors are treated as retryable.
func classify(err error) (Code, int) {
	switch {
	case err == nil:
		return CodeOK, http.StatusOK
	case errors.Is(err, tokens.ErrInvalidSignature), errors.Is(err, tokens.ErrOperationDenied):
		return CodeRejected, http.StatusForbidden
	case errors.Is(err, ErrBadPayload):
		return CodeRejected, http.StatusBadRequest
	case errors.Is(err, document.ErrNotFound):
		return CodeRejected, http.StatusNotFound
	case errors.Is(err, document.ErrIntegrity):
		return CodeIntegrity, http.StatusConflict
	case errors.Is(err, ErrFetchRejected):
		return CodeRejected, http.StatusBadGateway
	default:
		return CodeRetry, http.StatusServiceUnavailable
	}
}

func outcomeLabel(c Code) string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeRetry:
		return "retry"
	case CodeIntegrity:
		return "integrity"
	}
	return "rejected"
}
