package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aziende/editorbridge/internal/callback"
	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/internal/document/service"
	"github.com/aziende/editorbridge/internal/editor"
	"github.com/aziende/editorbridge/internal/tokens"
	"github.com/aziende/editorbridge/pkg/logger"
	"github.com/aziende/editorbridge/pkg/metrics"
	"github.com/aziende/editorbridge/pkg/middleware"
)

// ActiveEditors reports identities currently editing a document.
type ActiveEditors interface {
	Active(ctx context.Context, documentID string) ([]string, error)
}

// Deps are the collaborators the document routes need.
type Deps struct {
	Repo       repository.Repository
	Service    service.Service
	Builder    *editor.Builder
	Reconciler *callback.Reconciler
	Issuer     *tokens.Issuer
	Presence   ActiveEditors // optional
	JWTHeader  string        // header carrying the editor's callback JWT
}

type handler struct {
	Deps
}

// RegisterDocumentRoutes mounts the document API. The auth chain
// (authentication first, then any limiter keyed on the requester) guards
// everything except the token-authenticated content and callback endpoints
// the editor server calls.
func RegisterDocumentRoutes(r gin.IRouter, d Deps, auth ...gin.HandlerFunc) {
	if d.Service == nil {
		d.Service = service.New(d.Repo)
	}
	if d.JWTHeader == "" {
		d.JWTHeader = "Authorization"
	}
	h := &handler{Deps: d}

	editorAPI := r.Group("/api/documents/:id")
	editorAPI.GET("/content", h.content)
	editorAPI.POST("/callback", h.callback)

	r.GET("/api/me", append(append([]gin.HandlerFunc{}, auth...), h.me)...)

	api := r.Group("/api/documents", auth...)
	api.GET("", h.list)
	api.POST("", h.create)
	api.GET("/:id", h.get)
	api.PATCH("/:id", h.update)
	api.GET("/:id/editor-session", h.session)
	api.GET("/:id/versions", h.versions)
	api.GET("/:id/versions/:version", h.version)
}

type documentView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Version    int64     `json:"version"`
	Tenant     string    `json:"azienda,omitempty"`
	Extension  string    `json:"extension"`
	Versioning bool      `json:"versioning"`
	ModifiedBy string    `json:"modifiedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Editing    []string  `json:"editing,omitempty"`
}

func viewOf(d *document.Document) documentView {
	return documentView{
		ID: d.ID, Title: d.Title, Version: d.Version, Tenant: d.Tenant, Extension: d.Extension,
		Versioning: d.Versioning, ModifiedBy: d.ModifiedBy, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// statusFor maps store and authorization errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, document.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, document.ErrIntegrity):
		return http.StatusConflict, "conflict"
	case errors.Is(err, document.ErrStorage):
		return http.StatusServiceUnavailable, "storage unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func fail(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": msg})
}

// me echoes the requester resolved from the bearer token.
func (h *handler) me(c *gin.Context) {
	req, ok := middleware.RequesterFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requester": req, "permissions": editor.PermissionsFor(req.Role)})
}

func (h *handler) session(c *gin.Context) {
	req, ok := middleware.RequesterFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	cfg, err := h.Builder.Build(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// content serves document bytes to the editor server against a read token.
func (h *handler) content(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Issuer.Verify(c.Query("token"), id, tokens.OpRead); err != nil {
		metrics.ContentServed.WithLabelValues("denied").Inc()
		logger.Warnf("content %s: token rejected: %v", id, err)
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}
	d, err := h.Repo.Get(c.Request.Context(), id)
	if err != nil {
		metrics.ContentServed.WithLabelValues("error").Inc()
		fail(c, err)
		return
	}
	f, _ := d.Format()
	metrics.ContentServed.WithLabelValues("ok").Inc()
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, f.MIMEType, d.Content)
}

func (h *handler) callback(c *gin.Context) {
	req := callback.Request{
		DocumentID:  c.Param("id"),
		AccessToken: c.Query("token"),
		EditorToken: c.GetHeader(h.JWTHeader),
	}
	if err := c.ShouldBindJSON(&req.Payload); err != nil {
		logger.Warnf("callback %s: unreadable body: %v", req.DocumentID, err)
		metrics.Callbacks.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": int(callback.CodeRejected)})
		return
	}
	out := h.Reconciler.Handle(c.Request.Context(), req)
	c.JSON(out.HTTPStatus, out.Response())
}

func (h *handler) list(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	docs, err := h.Service.List(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, viewOf(d))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) create(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	var body struct {
		Title      string  `json:"title" binding:"required"`
		Extension  string  `json:"extension"`
		Content    string  `json:"content"`
		Tenant     *string `json:"azienda"`
		Versioning *bool   `json:"versioning"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.Service.Create(c.Request.Context(), req, service.NewDocument{
		Title:      body.Title,
		Extension:  body.Extension,
		Content:    []byte(body.Content),
		Tenant:     body.Tenant,
		Versioning: body.Versioning,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(d))
}

func (h *handler) get(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	d, err := h.Service.Get(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	v := viewOf(d)
	if h.Presence != nil {
		if users, err := h.Presence.Active(c.Request.Context(), d.ID); err == nil {
			v.Editing = users
		} else {
			logger.Warnf("presence for %s: %v", d.ID, err)
		}
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) update(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	var body struct {
		Title   *string `json:"title,omitempty"`
		Content string  `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.Service.Update(c.Request.Context(), req, c.Param("id"), []byte(body.Content), body.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(d))
}

func (h *handler) versions(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	vs, err := h.Service.Versions(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	type versionView struct {
		Version    int64     `json:"version"`
		ModifiedBy string    `json:"modifiedBy,omitempty"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	out := make([]versionView, 0, len(vs))
	for _, v := range vs {
		out = append(out, versionView{Version: v.Version, ModifiedBy: v.ModifiedBy, CreatedAt: v.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) version(c *gin.Context) {
	req, _ := middleware.RequesterFrom(c)
	n, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version"})
		return
	}
	ctx := c.Request.Context()
	v, err := h.Service.Version(ctx, req, c.Param("id"), n)
	if err != nil {
		fail(c, err)
		return
	}
	d, err := h.Service.Get(ctx, req, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	f, _ := d.Format()
	c.Header("X-Document-Version", strconv.FormatInt(v.Version, 10))
	c.Data(http.StatusOK, f.MIMEType, v.Content)
}
