package callback

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("content"))
		case "/big":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(100*time.Millisecond, 32, "")
	ctx := context.Background()

	b, err := f.Fetch(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	require.Equal(t, "content", string(b))

	_, err = f.Fetch(ctx, srv.URL+"/big")
	require.ErrorIs(t, err, ErrFetchRejected)

	_, err = f.Fetch(ctx, srv.URL+"/slow")
	require.ErrorIs(t, err, ErrTransientFetch)

	_, err = f.Fetch(ctx, srv.URL+"/busy")
	require.ErrorIs(t, err, ErrTransientFetch)

	_, err = f.Fetch(ctx, srv.URL+"/boom")
	require.ErrorIs(t, err, ErrTransientFetch)

	_, err = f.Fetch(ctx, srv.URL+"/gone")
	require.ErrorIs(t, err, ErrFetchRejected)
}

func TestHTTPFetcher_RejectsBadURLs(t *testing.T) {
	f := NewHTTPFetcher(time.Second, 1<<10, "")
	for _, raw := range []string{"", "file:///etc/passwd", "ftp://docs.local/x", "http://"} {
		_, err := f.Fetch(context.Background(), raw)
		require.ErrorIs(t, err, ErrFetchRejected, raw)
	}
}

func TestHTTPFetcher_RestrictsHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	_, err = NewHTTPFetcher(time.Second, 1<<10, "docs.example.com").Fetch(context.Background(), srv.URL+"/x")
	require.ErrorIs(t, err, ErrFetchRejected)

	b, err := NewHTTPFetcher(time.Second, 1<<10, u.Host).Fetch(context.Background(), srv.URL+"/x")
	require.NoError(t, err)
	require.Equal(t, "ok", string(b))
}

func TestParseStatus(t *testing.T) {
	for _, code := range []int{1, 2, 3, 4, 6, 7} {
		s, err := ParseStatus(code)
		require.NoError(t, err)
		require.NotEqual(t, "unknown", s.String())
	}
	for _, code := range []int{0, 5, 8, -1} {
		_, err := ParseStatus(code)
		require.ErrorIs(t, err, ErrBadPayload)
	}
	require.True(t, StatusReadyToSave.Saves())
	require.True(t, StatusForceSave.Saves())
	require.False(t, StatusEditing.Saves())
}
