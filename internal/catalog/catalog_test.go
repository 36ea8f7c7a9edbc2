package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/NplusM420/think-marketplace/internal/listing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeSource struct {
	listings []listing.Listing
	builders map[string]*listing.Builder
	err      error
}

func (f *fakeSource) ListApproved(context.Context, listing.ApprovedFilter) ([]listing.Listing, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	out := append([]listing.Listing(nil), f.listings...)
	return out, len(out), nil
}

func (f *fakeSource) GetBuilderByID(_ context.Context, id string) (*listing.Builder, error) {
	b, ok := f.builders[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return b, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listings: []listing.Listing{
			{ID: "l3", Slug: "gamma", ReviewState: listing.StateApproved, Visibility: listing.VisibilityFeatured, BuilderID: "b2"},
			{ID: "l1", Slug: "alpha", ReviewState: listing.StateApproved, Visibility: listing.VisibilityPublic, BuilderID: "b2"},
			{ID: "l2", Slug: "beta", ReviewState: listing.StateApproved, Visibility: listing.VisibilityPublic, BuilderID: "b1"},
		},
		builders: map[string]*listing.Builder{
			"b1": {ID: "b1", Slug: "one", Name: "One"},
			"b2": {ID: "b2", Slug: "two", Name: "Two"},
		},
	}
}

type line struct {
	Type         string          `json:"type"`
	Version      string          `json:"version"`
	ListingCount int             `json:"listing_count"`
	BuilderCount int             `json:"builder_count"`
	Data         json.RawMessage `json:"data"`
}

func decodeLines(t *testing.T, data []byte) []line {
	t.Helper()
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	require.NoError(t, sc.Err())
	return out
}

func idOf(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var v struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &v))
	return v.ID
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSONL(context.Background(), newFakeSource(), &buf))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 6)

	assert.Equal(t, "header", lines[0].Type)
	assert.Equal(t, FormatVersion, lines[0].Version)
	assert.Equal(t, 3, lines[0].ListingCount)
	assert.Equal(t, 2, lines[0].BuilderCount)

	var got []string
	for _, l := range lines[1:] {
		got = append(got, l.Type+":"+idOf(t, l.Data))
	}
	assert.Equal(t, []string{"listing:l1", "listing:l2", "listing:l3", "builder:b1", "builder:b2"}, got)
}

func TestExportJSONL_Errors(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("db down")
	assert.Error(t, ExportJSONL(context.Background(), src, io.Discard))

	src = newFakeSource()
	delete(src.builders, "b1")
	err := ExportJSONL(context.Background(), src, io.Discard)
	assert.ErrorIs(t, err, listing.ErrNotFound)
}

func TestFileDestination_WritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "catalog.jsonl")
	dest := NewFileDestination(path)

	require.NoError(t, dest.Write(context.Background(), []byte("first\n")))
	require.NoError(t, dest.Write(context.Background(), []byte("second\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileDestination_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "catalog.jsonl")

	assert.ErrorIs(t, NewFileDestination(path).Write(ctx, []byte("x")), context.Canceled)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestS3Destination_PutsObject(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest, err := NewS3Destination(context.Background(), S3Config{
		Bucket:   "catalog",
		Key:      "snapshots/catalog.jsonl",
		Region:   "us-east-1",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", dest.Name())

	require.NoError(t, dest.Write(context.Background(), []byte("{}\n")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/catalog/snapshots/catalog.jsonl", path)
}

func TestNewS3Destination_RequiresBucketAndKey(t *testing.T) {
	_, err := NewS3Destination(context.Background(), S3Config{Bucket: "catalog"})
	assert.Error(t, err)
}

type recordingDestination struct {
	name   string
	err    error
	writes atomic.Int64
	last   atomic.Value
}

func (d *recordingDestination) Name() string { return d.name }

func (d *recordingDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	d.last.Store(append([]byte(nil), data...))
	return d.err
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *recordingObserver) ObserveExport(destination string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	key := destination + ":ok"
	if err != nil {
		key = destination + ":error"
	}
	o.results[key]++
}

func TestScheduler_RunOnceWritesEveryDestination(t *testing.T) {
	good := &recordingDestination{name: "file"}
	bad := &recordingDestination{name: "s3", err: errors.New("access denied")}
	obs := &recordingObserver{}

	s := NewScheduler(newFakeSource(), []Destination{good, bad}, time.Minute, WithObserver(obs))
	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: access denied")

	assert.Equal(t, int64(1), good.writes.Load())
	assert.Equal(t, int64(1), bad.writes.Load())
	assert.Equal(t, map[string]int{"file:ok": 1, "s3:error": 1}, obs.results)

	data, _ := good.last.Load().([]byte)
	assert.Len(t, decodeLines(t, data), 6)
}

func TestScheduler_StartStop(t *testing.T) {
	dest := &recordingDestination{name: "file"}
	s := NewScheduler(newFakeSource(), []Destination{dest}, 20*time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return dest.writes.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := dest.writes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, dest.writes.Load(), "no writes after Stop")
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	NewScheduler(newFakeSource(), nil, time.Minute).Stop()
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dest := &recordingDestination{name: "file"}
	s := NewScheduler(newFakeSource(), []Destination{dest}, time.Hour)
	s.Start(ctx)
	require.Eventually(t, func() bool { return dest.writes.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.Stop()
}
