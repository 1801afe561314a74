package callback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aziende/editorbridge/internal/document"
	"github.com/aziende/editorbridge/internal/document/repository"
	"github.com/aziende/editorbridge/internal/sessions"
	"github.com/aziende/editorbridge/internal/tokens"
)

const tokenSecret = "callback-test-secret-0123456789abcdef"

type fixture struct {
	repo   *repository.MemoryRepo
	issuer *tokens.Issuer
	now    time.Time
	srv    *httptest.Server
	hits   int64
	mu     sync.Mutex
	bodies map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: repository.NewMemoryRepo(), now: time.Now(), bodies: map[string]string{}}
	f.issuer = tokens.NewIssuer(tokens.NewKeyring("v1", tokenSecret, nil), tokens.WithClock(func() time.Time { return f.now }))
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.hits, 1)
		f.mu.Lock()
		body, ok := f.bodies[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) reconciler(opts ...Option) *Reconciler {
	return NewReconciler(f.repo, NewHTTPFetcher(2*time.Second, 1<<20, ""), f.issuer, opts...)
}

// seed stores document 7 at version 3 with versioning on.
func (f *fixture) seed(t *testing.T) *document.Document {
	t.Helper()
	_, err := f.repo.Create(context.Background(), &document.Document{
		ID: "7", Title: "Contratto", Content: []byte("Hello"), Version: 3,
		Tenant: "acme", Extension: "docx", Versioning: true,
	})
	require.NoError(t, err)
	d, err := f.repo.Get(context.Background(), "7")
	require.NoError(t, err)
	return d
}

func (f *fixture) writeToken(t *testing.T, doc string, ops ...string) string {
	t.Helper()
	if len(ops) == 0 {
		ops = []string{tokens.OpWrite}
	}
	tok, _, err := f.issuer.Issue(tokens.Claims{DocumentID: doc, Tenant: "acme", Ops: ops}, 12*time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) serve(path, body string) string {
	f.mu.Lock()
	f.bodies[path] = body
	f.mu.Unlock()
	return f.srv.URL + path
}

func (f *fixture) saveRequest(t *testing.T, d *document.Document, url string) Request {
	return Request{
		DocumentID:  d.ID,
		AccessToken: f.writeToken(t, d.ID),
		Payload:     Payload{Key: d.Key(), Status: int(StatusReadyToSave), URL: url, Users: []string{"u1"}},
	}
}

func (f *fixture) requireUnchanged(t *testing.T) {
	t.Helper()
	d, err := f.repo.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, int64(3), d.Version)
	require.Equal(t, "Hello", string(d.Content))
	require.Empty(t, d.ModifiedBy)
	vs, err := f.repo.ListVersions(context.Background(), "7")
	require.NoError(t, err)
	require.Empty(t, vs)
}

func TestHandle_SaveCommitsAndSnapshots(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)

	out := f.reconciler().Handle(context.Background(), f.saveRequest(t, d, f.serve("/v", "Hello World")))
	require.NoError(t, out.Err)
	require.Equal(t, CodeOK, out.Code)
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.Equal(t, int64(4), out.Version)
	require.Equal(t, map[string]int{"error": 0}, out.Response())

	got, err := f.repo.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, int64(4), got.Version)
	require.Equal(t, "Hello World", string(got.Content))
	require.Equal(t, "u1", got.ModifiedBy)

	vs, err := f.repo.ListVersions(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, int64(3), vs[0].Version)
	snap, err := f.repo.GetVersion(context.Background(), "7", 3)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(snap.Content))
}

func TestHandle_RepeatedSavesSnapshotEachPreviousState(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	r := f.reconciler()

	bodies := []string{"one", "two", "three", "four"}
	for _, b := range bodies {
		out := r.Handle(context.Background(), f.saveRequest(t, d, f.serve("/"+b, b)))
		require.Equal(t, CodeOK, out.Code, b)
	}

	got, _ := f.repo.Get(context.Background(), "7")
	require.Equal(t, int64(3+len(bodies)), got.Version)
	vs, _ := f.repo.ListVersions(context.Background(), "7")
	require.Len(t, vs, len(bodies))
	prev := append([]string{"Hello"}, bodies[:len(bodies)-1]...)
	for i, want := range prev {
		snap, err := f.repo.GetVersion(context.Background(), "7", int64(3+i))
		require.NoError(t, err)
		require.Equal(t, want, string(snap.Content))
	}
}

func TestHandle_UnchangedSaveWithoutVersioningKeepsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.Create(ctx, &document.Document{
		ID: "8", Title: "Verbale", Content: []byte("Hello"), Version: 3,
		Tenant: "acme", Extension: "docx", ModifiedBy: "anna",
	})
	require.NoError(t, err)
	d, err := f.repo.Get(ctx, "8")
	require.NoError(t, err)
	r := f.reconciler()

	out := r.Handle(ctx, f.saveRequest(t, d, f.serve("/same", "Hello")))
	require.NoError(t, out.Err)
	require.Equal(t, CodeOK, out.Code)
	require.Equal(t, int64(3), out.Version)

	got, err := f.repo.Get(ctx, "8")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Version)
	require.Equal(t, "anna", got.ModifiedBy)
	require.Equal(t, d.Key(), got.Key())
	vs, err := f.repo.ListVersions(ctx, "8")
	require.NoError(t, err)
	require.Empty(t, vs)

	// a real change still moves the version
	out = r.Handle(ctx, f.saveRequest(t, d, f.serve("/changed", "Hello World")))
	require.Equal(t, CodeOK, out.Code)
	require.Equal(t, int64(4), out.Version)
}

func TestHandle_ExpiredTokenRejected(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	req := f.saveRequest(t, d, f.serve("/v", "Hello World"))
	f.now = f.now.Add(13 * time.Hour)

	out := f.reconciler().Handle(context.Background(), req)
	require.ErrorIs(t, out.Err, tokens.ErrExpired)
	require.Equal(t, CodeRejected, out.Code)
	require.Equal(t, http.StatusForbidden, out.HTTPStatus)
	require.Zero(t, atomic.LoadInt64(&f.hits))
	f.requireUnchanged(t)
}

func TestHandle_InvalidSignatureLeavesDocumentUntouched(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	forged := tokens.NewIssuer(tokens.NewKeyring("v1", "not-the-right-secret-0123456789abcd", nil))
	tok, _, err := forged.Issue(tokens.Claims{DocumentID: "7", Ops: []string{tokens.OpWrite}}, time.Hour)
	require.NoError(t, err)

	req := f.saveRequest(t, d, f.serve("/v", "evil"))
	req.AccessToken = tok
	out := f.reconciler().Handle(context.Background(), req)
	require.ErrorIs(t, out.Err, tokens.ErrInvalidSignature)
	require.Equal(t, CodeRejected, out.Code)
	f.requireUnchanged(t)

	req.AccessToken = ""
	out = f.reconciler().Handle(context.Background(), req)
	require.Equal(t, http.StatusForbidden, out.HTTPStatus)
	f.requireUnchanged(t)
}

func TestHandle_TokenForOtherDocumentRejected(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	req := f.saveRequest(t, d, f.serve("/v", "x"))
	req.AccessToken = f.writeToken(t, "8")

	out := f.reconciler().Handle(context.Background(), req)
	require.ErrorIs(t, out.Err, tokens.ErrDocumentMismatch)
	require.Equal(t, http.StatusForbidden, out.HTTPStatus)
	f.requireUnchanged(t)
}

func TestHandle_ReadTokenCannotSave(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	req := f.saveRequest(t, d, f.serve("/v", "x"))
	req.AccessToken = f.writeToken(t, "7", tokens.OpRead)

	out := f.reconciler().Handle(context.Background(), req)
	require.ErrorIs(t, out.Err, tokens.ErrOperationDenied)
	require.Equal(t, CodeRejected, out.Code)
	f.requireUnchanged(t)
}

func TestHandle_KeyOfOtherDocumentRejected(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	req := f.saveRequest(t, d, f.serve("/v", "x"))
	req.Payload.Key = "8-0123456789abcdef0123"

	out := f.reconciler().Handle(context.Background(), req)
	require.ErrorIs(t, out.Err, ErrKeyMismatch)
	require.Equal(t, http.StatusForbidden, out.HTTPStatus)
	f.requireUnchanged(t)
}

func TestHandle_EditingNeverMutates(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	mr := miniredis.RunT(t)
	presence := sessions.NewPresence(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", time.Minute)
	r := f.reconciler(WithPresence(presence))

	payloads := []Payload{
		{Key: d.Key(), Status: int(StatusEditing), Users: []string{"u1", "u2"}},
		{Key: d.Key(), Status: int(StatusEditing), URL: f.serve("/v", "should not land")},
		{Key: d.Key(), Status: int(StatusEditing), Actions: []Action{{Type: 1, UserID: "u3"}}, ForceSaveType: new(int)},
	}
	for _, p := range payloads {
		out := r.Handle(context.Background(), Request{DocumentID: "7", AccessToken: f.writeToken(t, "7"), Payload: p})
		require.Equal(t, CodeOK, out.Code)
		require.Zero(t, out.Version)
	}
	require.Zero(t, atomic.LoadInt64(&f.hits))
	f.requireUnchanged(t)

	active, err := presence.Active(context.Background(), "7")
	require.NoError(t, err)
	require.Empty(t, active)

	out := r.Handle(context.Background(), Request{DocumentID: "7", AccessToken: f.writeToken(t, "7"),
		Payload: Payload{Key: d.Key(), Status: int(StatusEditing), Users: []string{"u2", "u1"}}})
	require.Equal(t, CodeOK, out.Code)
	active, err = presence.Active(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, active)
}

func TestHandle_PresenceClearedOnCloseAndSave(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	mr := miniredis.RunT(t)
	presence := sessions.NewPresence(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", time.Minute)
	r := f.reconciler(WithPresence(presence))
	ctx := context.Background()

	require.NoError(t, presence.Record(ctx, "7", []string{"u1"}))
	out := r.Handle(ctx, Request{DocumentID: "7", AccessToken: f.writeToken(t, "7"),
		Payload: Payload{Key: d.Key(), Status: int(StatusClosedNoChanges)}})
	require.Equal(t, CodeOK, out.Code)
	active, _ := presence.Active(ctx, "7")
	require.Empty(t, active)
	f.requireUnchanged(t)

	require.NoError(t, presence.Record(ctx, "7", []string{"u1"}))
	force := f.saveRequest(t, d, f.serve("/f", "forced"))
	force.Payload.Status = int(StatusForceSave)
	require.Equal(t, CodeOK, r.Handle(ctx, force).Code)
	active, _ = presence.Active(ctx, "7")
	require.Equal(t, []string{"u1"}, active)

	require.Equal(t, CodeOK, r.Handle(ctx, f.saveRequest(t, d, f.serve("/s", "saved"))).Code)
	active, _ = presence.Active(ctx, "7")
	require.Empty(t, active)

	got, _ := f.repo.Get(ctx, "7")
	require.Equal(t, int64(5), got.Version)
	require.Equal(t, "saved", string(got.Content))
}

func TestHandle_ConcurrentSaves(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	r := f.reconciler()
	reqs := []Request{
		f.saveRequest(t, d, f.serve("/a", "A")),
		f.saveRequest(t, d, f.serve("/b", "B")),
	}

	var wg sync.WaitGroup
	outs := make([]Outcome, len(reqs))
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = r.Handle(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()
	for _, o := range outs {
		require.Equal(t, CodeOK, o.Code)
	}
	assert.ElementsMatch(t, []int64{4, 5}, []int64{outs[0].Version, outs[1].Version})

	got, _ := f.repo.Get(context.Background(), "7")
	require.Equal(t, int64(5), got.Version)
	final := string(got.Content)
	require.Contains(t, []string{"A", "B"}, final)

	vs, _ := f.repo.ListVersions(context.Background(), "7")
	require.Len(t, vs, 2)
	first, err := f.repo.GetVersion(context.Background(), "7", 3)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(first.Content))
	second, err := f.repo.GetVersion(context.Background(), "7", 4)
	require.NoError(t, err)
	other := map[string]string{"A": "B", "B": "A"}[final]
	require.Equal(t, other, string(second.Content))
}

func TestHandle_PayloadErrors(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	r := f.reconciler()

	cases := map[string]Payload{
		"unknown status": {Key: d.Key(), Status: 5},
		"missing url":    {Key: d.Key(), Status: int(StatusReadyToSave)},
		"malformed key":  {Key: "garbage", Status: int(StatusEditing)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			out := r.Handle(context.Background(), Request{DocumentID: "7", AccessToken: f.writeToken(t, "7"), Payload: p})
			require.ErrorIs(t, out.Err, ErrBadPayload)
			require.Equal(t, CodeRejected, out.Code)
			require.Equal(t, http.StatusBadRequest, out.HTTPStatus)
		})
	}
	f.requireUnchanged(t)
}

func TestHandle_SaveErrorsAcknowledged(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	for _, s := range []Status{StatusSaveError, StatusForceSaveError} {
		out := f.reconciler().Handle(context.Background(), Request{DocumentID: "7", AccessToken: f.writeToken(t, "7"),
			Payload: Payload{Key: d.Key(), Status: int(s), URL: f.serve("/broken", "x")}})
		require.Equal(t, CodeOK, out.Code)
	}
	require.Zero(t, atomic.LoadInt64(&f.hits))
	f.requireUnchanged(t)
}

func TestHandle_DocumentNotFound(t *testing.T) {
	f := newFixture(t)
	out := f.reconciler().Handle(context.Background(), Request{
		DocumentID:  "missing",
		AccessToken: f.writeToken(t, "missing"),
		Payload:     Payload{Key: "missing-0123456789abcdef0123", Status: int(StatusReadyToSave), URL: f.serve("/v", "x")},
	})
	require.ErrorIs(t, out.Err, document.ErrNotFound)
	require.Equal(t, CodeRejected, out.Code)
	require.Equal(t, http.StatusNotFound, out.HTTPStatus)
}

func TestHandle_FetchFailures(t *testing.T) {
	var status int32 = http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	f := newFixture(t)
	d := f.seed(t)
	r := f.reconciler()

	out := r.Handle(context.Background(), f.saveRequest(t, d, srv.URL+"/c"))
	require.ErrorIs(t, out.Err, ErrTransientFetch)
	require.Equal(t, CodeRetry, out.Code)
	require.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)

	atomic.StoreInt32(&status, http.StatusForbidden)
	out = r.Handle(context.Background(), f.saveRequest(t, d, srv.URL+"/c"))
	require.ErrorIs(t, out.Err, ErrFetchRejected)
	require.Equal(t, CodeRejected, out.Code)
	require.Equal(t, http.StatusBadGateway, out.HTTPStatus)
	f.requireUnchanged(t)
}

type stubCommitter struct{ err error }

func (s stubCommitter) CommitContent(context.Context, string, document.Commit) (*document.Document, error) {
	return nil, s.err
}

func TestHandle_StoreFailuresClassified(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	url := f.serve("/v", "x")
	fetcher := NewHTTPFetcher(time.Second, 1<<10, "")

	r := NewReconciler(stubCommitter{err: errors.Join(document.ErrStorage, errors.New("connection reset"))}, fetcher, f.issuer)
	out := r.Handle(context.Background(), f.saveRequest(t, d, url))
	require.Equal(t, CodeRetry, out.Code)
	require.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)

	r = NewReconciler(stubCommitter{err: errors.Join(document.ErrIntegrity, errors.New("duplicate entry"))}, fetcher, f.issuer)
	out = r.Handle(context.Background(), f.saveRequest(t, d, url))
	require.Equal(t, CodeIntegrity, out.Code)
	require.Equal(t, http.StatusConflict, out.HTTPStatus)
	require.Equal(t, map[string]int{"error": 3}, out.Response())
}

type recordingArchiver struct {
	mu       sync.Mutex
	versions []int64
	err      error
}

func (a *recordingArchiver) Archive(_ context.Context, d *document.Document) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.versions = append(a.versions, d.Version)
	return a.err
}

func TestHandle_ArchiveIsBestEffort(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	arch := &recordingArchiver{err: errors.New("bucket unavailable")}

	out := f.reconciler(WithArchiver(arch)).Handle(context.Background(), f.saveRequest(t, d, f.serve("/v", "archived")))
	require.Equal(t, CodeOK, out.Code)
	require.Equal(t, []int64{4}, arch.versions)
}

func TestHandle_EditorJWT(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	ej := tokens.NewEditorJWT("editor-shared-secret-0123456789abcdef")
	r := f.reconciler(WithEditorJWT(ej))
	url := f.serve("/v", "signed content")

	t.Run("unsigned body rejected", func(t *testing.T) {
		out := r.Handle(context.Background(), f.saveRequest(t, d, url))
		require.ErrorIs(t, out.Err, tokens.ErrInvalidSignature)
		f.requireUnchanged(t)
	})

	t.Run("signed fields replace body", func(t *testing.T) {
		signed, err := ej.Sign(Payload{Key: d.Key(), Status: int(StatusEditing)})
		require.NoError(t, err)
		req := f.saveRequest(t, d, url)
		req.Payload.Token = signed
		out := r.Handle(context.Background(), req)
		require.Equal(t, CodeOK, out.Code)
		require.Equal(t, StatusEditing, out.Status)
		f.requireUnchanged(t)
	})

	t.Run("header token with payload wrapper", func(t *testing.T) {
		signed, err := ej.Sign(map[string]any{"payload": Payload{Key: d.Key(), Status: int(StatusReadyToSave), URL: url, Users: []string{"u9"}}})
		require.NoError(t, err)
		out := r.Handle(context.Background(), Request{
			DocumentID:  "7",
			AccessToken: f.writeToken(t, "7"),
			EditorToken: "Bearer " + signed,
		})
		require.Equal(t, CodeOK, out.Code)
		got, _ := f.repo.Get(context.Background(), "7")
		require.Equal(t, "signed content", string(got.Content))
		require.Equal(t, "u9", got.ModifiedBy)
	})
}

func TestHandle_MutatorFallsBackToTokenSubject(t *testing.T) {
	f := newFixture(t)
	d := f.seed(t)
	tok, _, err := f.issuer.Issue(tokens.Claims{DocumentID: "7", Ops: []string{tokens.OpWrite},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-owner"}}, time.Hour)
	require.NoError(t, err)

	out := f.reconciler().Handle(context.Background(), Request{DocumentID: "7", AccessToken: tok,
		Payload: Payload{Key: d.Key(), Status: int(StatusReadyToSave), URL: f.serve("/v", "x")}})
	require.Equal(t, CodeOK, out.Code)
	got, _ := f.repo.Get(context.Background(), "7")
	require.Equal(t, "u-owner", got.ModifiedBy)
}
