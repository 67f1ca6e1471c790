package functions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/entrypoint"
	"parley/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	results  []SearchResult
	err      error
	gotQuery string
	gotCount int
}

func (f *fakeSearcher) Search(_ context.Context, query string, count int) ([]SearchResult, error) {
	f.gotQuery, f.gotCount = query, count
	return f.results, f.err
}

func invoke(t *testing.T, reg *entrypoint.Registry, name, args string) (any, error) {
	t.Helper()
	res, err := reg.ResolveAndInvoke(context.Background(), nil, message.FunctionCall{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	require.True(t, res.Invoked, "%s not registered", name)
	return res.Value, nil
}

func TestRegister(t *testing.T) {
	reg := entrypoint.NewRegistry()
	require.NoError(t, Register(reg, Config{FileRoot: t.TempDir(), Searcher: &fakeSearcher{}, Fetch: true}))

	var names []string
	for _, s := range reg.CompileSchema() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"current_time", "read_file", "web_search", "fetch_url"}, names)

	minimal := entrypoint.NewRegistry()
	require.NoError(t, Register(minimal, Config{}))
	assert.Equal(t, 1, minimal.Len())
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("hello world"), 0o644))

	reg := entrypoint.NewRegistry()
	require.NoError(t, reg.Register("read", ReadFile(root)))

	got, err := invoke(t, reg, "read_file", `{"path":"docs/a.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	got, err = invoke(t, reg, "read_file", `{"path":"/docs/a.txt","max_bytes":5}`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n... (truncated)", got)

	_, err = invoke(t, reg, "read_file", `{"path":"../outside.txt"}`)
	var ie *entrypoint.InvocationError
	require.ErrorAs(t, err, &ie)

	_, err = invoke(t, reg, "read_file", `{"path":"missing.txt"}`)
	assert.ErrorAs(t, err, &ie)
}

func TestWebSearch(t *testing.T) {
	s := &fakeSearcher{results: []SearchResult{
		{Title: "Go", URL: "https://go.dev", Description: "The Go language"},
		{Title: "Tour", URL: "https://go.dev/tour", Description: "A tour of Go"},
	}}
	reg := entrypoint.NewRegistry()
	require.NoError(t, reg.Register("search", WebSearch(s)))

	got, err := invoke(t, reg, "web_search", `{"query":"golang","count":50}`)
	require.NoError(t, err)
	assert.Equal(t, "golang", s.gotQuery)
	assert.Equal(t, 20, s.gotCount)
	assert.Equal(t, "Go\nhttps://go.dev\nThe Go language\n---\nTour\nhttps://go.dev/tour\nA tour of Go", got)

	_, err = invoke(t, reg, "web_search", `{"query":"golang"}`)
	require.NoError(t, err)
	assert.Equal(t, 5, s.gotCount)

	s.results = nil
	got, err = invoke(t, reg, "web_search", `{"query":"nothing"}`)
	require.NoError(t, err)
	assert.Equal(t, "No results found.", got)

	s.err = errors.New("quota exceeded")
	_, err = invoke(t, reg, "web_search", `{"query":"x"}`)
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = invoke(t, reg, "web_search", `{}`)
	assert.ErrorContains(t, err, "query is required")
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html><body><h1>Title</h1>\n\n<p>Some   text</p></body></html>")
	}))
	defer srv.Close()

	reg := entrypoint.NewRegistry()
	require.NoError(t, reg.Register("fetch", FetchURL(srv.Client())))

	got, err := invoke(t, reg, "fetch_url", fmt.Sprintf(`{"url":%q}`, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "Title Some text", got)

	_, err = invoke(t, reg, "fetch_url", fmt.Sprintf(`{"url":%q}`, srv.URL+"/missing"))
	assert.ErrorContains(t, err, "404")

	_, err = invoke(t, reg, "fetch_url", `{"url":"file:///etc/passwd"}`)
	assert.ErrorContains(t, err, "unsupported url")
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	reg := entrypoint.NewRegistry()
	require.NoError(t, reg.Register("time", CurrentTime()))

	got, err := invoke(t, reg, "current_time", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00Z", got)

	got, err = invoke(t, reg, "current_time", `{"timezone":"Asia/Tokyo"}`)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T21:00:00+09:00", got)

	_, err = invoke(t, reg, "current_time", `{"timezone":"Mars/Olympus"}`)
	assert.ErrorContains(t, err, "unknown time zone")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxOutputBytes+10)
	assert.True(t, strings.HasSuffix(truncate([]byte(long), 0), "(truncated)"))
	assert.Equal(t, "abc", truncate([]byte("abc"), 3))
}
