package editor

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/internal/models"
	"github.com/aziende/editorbridge/internal/tokens"
)

const secret = "builder-test-secret-0123456789abcdef"

type fixture struct {
	repo    *repository.MemoryRepo
	issuer  *tokens.Issuer
	builder *Builder
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: repository.NewMemoryRepo(), now: time.Now()}
	f.issuer = tokens.NewIssuer(tokens.NewKeyring("v1", secret, nil), tokens.WithClock(func() time.Time { return f.now }))
	f.builder = NewBuilder(f.repo, f.issuer, tokens.NewEditorJWT("editor-secret-0123456789abcdef0123"), Options{
		PublicURL: "http://bridge.local/",
		EditorURL: "http://docs.local",
		TokenTTL:  time.Hour,
	})
	return f
}

func (f *fixture) create(t *testing.T, d *document.Document) string {
	t.Helper()
	id, err := f.repo.Create(context.Background(), d)
	require.NoError(t, err)
	return id
}

func tokenFrom(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

var editor = models.Requester{ID: "u1", Name: "Anna", Tenant: "acme", Role: models.RoleEditor}

func TestBuild_EditorSession(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, &document.Document{Title: "Offerta.docx", Extension: "docx", Tenant: "acme", Content: []byte("x")})

	sc, err := f.builder.Build(context.Background(), id, editor)
	require.NoError(t, err)
	require.Equal(t, ModeEdit, sc.Mode)
	require.False(t, sc.Degraded)
	require.Equal(t, "word", sc.DocumentType)
	require.Equal(t, "docx", sc.FileType)
	require.True(t, sc.Permissions.Edit)
	require.Equal(t, "Anna", sc.User.Name)
	require.True(t, strings.HasPrefix(sc.URL, "http://bridge.local/api/documents/"+id+"/content?token="))
	require.True(t, strings.HasPrefix(sc.CallbackURL, "http://bridge.local/api/documents/"+id+"/callback?token="))
	require.Equal(t, "http://docs.local/web-apps/apps/api/documents/api.js", sc.EditorAPIURL)
	require.NotEmpty(t, sc.Config.Token)
	require.Equal(t, sc.DocumentKey, sc.Config.Document.Key)
	require.WithinDuration(t, f.now.Add(time.Hour), sc.ExpiresAt, time.Second)

	// read token is scoped to this document and read-only
	readTok := tokenFrom(t, sc.URL)
	_, err = f.issuer.Verify(readTok, id, tokens.OpRead)
	require.NoError(t, err)
	_, err = f.issuer.Verify(readTok, id, tokens.OpWrite)
	require.ErrorIs(t, err, tokens.ErrOperationDenied)
	_, err = f.issuer.Verify(readTok, "other", tokens.OpRead)
	require.ErrorIs(t, err, tokens.ErrDocumentMismatch)

	cbTok := tokenFrom(t, sc.CallbackURL)
	c, err := f.issuer.Verify(cbTok, id, tokens.OpWrite)
	require.NoError(t, err)
	require.Equal(t, "u1", c.Subject)
	require.Equal(t, "acme", c.Tenant)
}

func TestBuild_KeyChangesAfterSave(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, &document.Document{Extension: "docx"})
	ctx := context.Background()

	first, err := f.builder.Build(ctx, id, editor)
	require.NoError(t, err)
	again, err := f.builder.Build(ctx, id, editor)
	require.NoError(t, err)
	require.Equal(t, first.DocumentKey, again.DocumentKey)

	_, err = f.repo.CommitContent(ctx, id, document.Commit{Content: []byte("new")})
	require.NoError(t, err)
	after, err := f.builder.Build(ctx, id, editor)
	require.NoError(t, err)
	require.NotEqual(t, first.DocumentKey, after.DocumentKey)
}

func TestBuild_NotFoundAndForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.Build(ctx, "missing", editor)
	require.ErrorIs(t, err, document.ErrNotFound)

	id := f.create(t, &document.Document{Extension: "docx", Tenant: "globex"})
	_, err = f.builder.Build(ctx, id, editor)
	require.ErrorIs(t, err, document.ErrForbidden)

	_, err = f.builder.Build(ctx, id, models.Requester{ID: "root", Role: models.RoleSuperAdmin})
	require.NoError(t, err)

	global := f.create(t, &document.Document{Extension: "docx"})
	_, err = f.builder.Build(ctx, global, editor)
	require.NoError(t, err)
}

func TestBuild_UnsupportedFormatIsDegraded(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, &document.Document{Title: "scan", Extension: "", Tenant: "acme"})

	sc, err := f.builder.Build(context.Background(), id, editor)
	require.NoError(t, err)
	require.True(t, sc.Degraded)
	require.Equal(t, DegradedUnsupportedFormat, sc.DegradedReason)
	require.Equal(t, ModeView, sc.Mode)
	require.Equal(t, document.FallbackExtension, sc.FileType)
	require.False(t, sc.Permissions.Edit)

	// a degraded session cannot write back
	_, err = f.issuer.Verify(tokenFrom(t, sc.CallbackURL), id, tokens.OpWrite)
	require.ErrorIs(t, err, tokens.ErrOperationDenied)
}

func TestBuild_ViewerAndReviewer(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, &document.Document{Extension: "xlsx", Tenant: "acme"})
	ctx := context.Background()

	sc, err := f.builder.Build(ctx, id, models.Requester{ID: "v", Tenant: "acme", Role: models.RoleViewer})
	require.NoError(t, err)
	require.Equal(t, ModeView, sc.Mode)
	require.False(t, sc.Permissions.Review)

	sc, err = f.builder.Build(ctx, id, models.Requester{ID: "r", Tenant: "acme", Role: models.RoleReviewer})
	require.NoError(t, err)
	require.Equal(t, ModeEdit, sc.Mode, "review changes are saved through the callback")
	require.False(t, sc.Permissions.Edit)
	require.True(t, sc.Permissions.Review)
}

func TestBuild_PDFIsViewOnly(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, &document.Document{Extension: "pdf"})

	sc, err := f.builder.Build(context.Background(), id, editor)
	require.NoError(t, err)
	require.False(t, sc.Degraded)
	require.Equal(t, ModeView, sc.Mode)
}
