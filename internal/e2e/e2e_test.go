package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/fetch"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// echoBackend answers with a fixed reply, emitting two cumulative partials
// before the terminal callback.
type echoBackend struct {
	reply string
}

func (b *echoBackend) Generate(_ context.Context, _ []types.Part, _ runtime.GenerateParams, fn runtime.Callback) (string, error) {
	if fn != nil {
		half := b.reply[:len(b.reply)/2]
		if err := fn(half, false); err != nil {
			return "", err
		}
		if err := fn(b.reply, true); err != nil {
			return "", err
		}
	}
	return b.reply, nil
}

func (b *echoBackend) Close() error { return nil }

// newStack wires a full daemon (asset server, cache, manager, HTTP mux) with
// a fake backend factory. Returns the API test server.
func newStack(t *testing.T) *httptest.Server {
	t.Helper()
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("g"), 64))
	}))
	t.Cleanup(assets.Close)

	catalog := []types.CatalogEntry{
		{ID: "alpha", Name: "Alpha", URL: assets.URL + "/alpha.gguf", SizeBytes: 64, Capabilities: []types.Capability{types.CapabilityText}},
		{ID: "beta-mm", Name: "Beta", URL: assets.URL + "/beta.gguf", SizeBytes: 64, Capabilities: []types.Capability{types.CapabilityText, types.CapabilityVision}},
	}
	factory := func(src runtime.Source, _ []types.Capability, _ runtime.InitOptions) (runtime.Backend, error) {
		if len(src.Data) == 0 {
			t.Errorf("factory received empty asset for %s", src.EntryID)
		}
		return &echoBackend{reply: "silver waves at dusk"}, nil
	}
	mgr := manager.NewWithConfig(manager.Config{
		Catalog:      catalog,
		Store:        cache.NewMemoryStore(),
		Factory:      factory,
		DefaultModel: "alpha",
		Logger:       zerolog.Nop(),
	})

	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func ndjsonLines(t *testing.T, resp *http.Response) []string {
	t.Helper()
	defer resp.Body.Close()
	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() != "" {
			lines = append(lines, sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestAcquireThenGenerateOverHTTP(t *testing.T) {
	srv := newStack(t)

	// First acquire downloads with progress; the final line is the done marker.
	resp := postJSON(t, srv.URL+"/acquire", `{"model":"alpha"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d", resp.StatusCode)
	}
	lines := ndjsonLines(t, resp)
	if len(lines) < 2 {
		t.Fatalf("expected progress + done, got %v", lines)
	}
	var done types.AcquireDone
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &done); err != nil {
		t.Fatalf("decode done: %v", err)
	}
	if !done.Done || done.Cached || !done.Retained || done.ReceivedBytes != 64 {
		t.Fatalf("done = %+v", done)
	}
	var first types.DownloadProgress
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if first.LoadedBytes != 0 || first.TotalBytes != 64 {
		t.Fatalf("first progress = %+v", first)
	}

	// Second acquire is a cache hit: done line only, no progress.
	resp = postJSON(t, srv.URL+"/acquire", `{"model":"alpha"}`)
	lines = ndjsonLines(t, resp)
	if len(lines) != 1 {
		t.Fatalf("cache hit lines = %v", lines)
	}
	if err := json.Unmarshal([]byte(lines[0]), &done); err != nil || !done.Cached {
		t.Fatalf("cache hit done = %+v err=%v", done, err)
	}

	// Generate against the default model (empty model field).
	resp = postJSON(t, srv.URL+"/generate", `{"prompt":"write a haiku"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var res types.GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	resp.Body.Close()
	if res.Text != "silver waves at dusk" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Metadata.Model != "alpha" || res.Metadata.TotalTokens == 0 {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
}

func TestStreamingGenerateOverHTTP(t *testing.T) {
	srv := newStack(t)

	resp := postJSON(t, srv.URL+"/generate", `{"model":"alpha","prompt":"haiku","stream":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	lines := ndjsonLines(t, resp)
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}

	var events []types.StreamEvent
	for _, l := range lines {
		var ev types.StreamEvent
		if err := json.Unmarshal([]byte(l), &ev); err != nil {
			t.Fatalf("decode %q: %v", l, err)
		}
		events = append(events, ev)
	}
	if events[0].Done || events[0].Metadata != nil {
		t.Fatalf("partial = %+v", events[0])
	}
	last := events[len(events)-1]
	if !last.Done || last.Metadata == nil {
		t.Fatalf("terminal = %+v", last)
	}
	if last.Text != "silver waves at dusk" {
		t.Fatalf("final text = %q", last.Text)
	}
	if !strings.HasPrefix(last.Text, events[0].Text) {
		t.Fatalf("stream not cumulative: %q then %q", events[0].Text, last.Text)
	}
}

func TestMultimodalOverHTTP(t *testing.T) {
	srv := newStack(t)

	// Text-only model refuses parts with 400.
	body := `{"model":"alpha","parts":[{"type":"text","text":"describe"},{"type":"image","source":"file:///cat.png"}]}`
	resp := postJSON(t, srv.URL+"/generate/multimodal", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("text-only status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	body = `{"model":"beta-mm","parts":[{"type":"text","text":"describe"},{"type":"image","source":"file:///cat.png"}]}`
	resp = postJSON(t, srv.URL+"/generate/multimodal", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res types.GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if res.Metadata.ImageCount != 1 || res.Metadata.ImageResolution != "512x512" {
		t.Fatalf("metadata = %+v", res.Metadata)
	}
}

func TestUnloadAndStatusOverHTTP(t *testing.T) {
	srv := newStack(t)

	resp := postJSON(t, srv.URL+"/generate", `{"model":"alpha","prompt":"hi"}`)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(st.Sessions) != 1 || st.Sessions[0].Model != "alpha" {
		t.Fatalf("sessions = %+v", st.Sessions)
	}
	if len(st.CachedAssets) != 1 || st.CachedAssets[0] != "alpha" {
		t.Fatalf("cached = %v", st.CachedAssets)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/alpha", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unload status = %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/status")
	st = types.StatusResponse{}
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if len(st.Sessions) != 0 {
		t.Fatalf("sessions after unload = %+v", st.Sessions)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/cache", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
}

func TestLargeAssetDiscardOverHTTP(t *testing.T) {
	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("G"), 2048))
	}))
	defer assets.Close()

	catalog := []types.CatalogEntry{
		{ID: "big", Name: "Big", URL: assets.URL + "/big.gguf", SizeBytes: 2048, Capabilities: []types.Capability{types.CapabilityText}},
	}
	store := cache.NewMemoryStore()
	mgr := manager.NewWithConfig(manager.Config{
		Catalog: catalog,
		Store:   store,
		// Threshold scaled down so the fixture asset counts as large.
		Fetcher: fetch.New(store, fetch.WithThreshold(1024)),
		Logger:  zerolog.Nop(),
	})
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/acquire", `{"model":"big"}`)
	lines := ndjsonLines(t, resp)
	var done types.AcquireDone
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !done.Done || done.Retained || done.ReceivedBytes != 2048 {
		t.Fatalf("done = %+v", done)
	}
	if store.Len() != 0 {
		t.Fatalf("large asset cached despite policy off")
	}

	// Policy override retains and caches the same asset.
	resp = postJSON(t, srv.URL+"/acquire", `{"model":"big","cache_large_assets":true}`)
	lines = ndjsonLines(t, resp)
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !done.Retained {
		t.Fatalf("done = %+v", done)
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d", store.Len())
	}
}

func TestHealthEndpointsOverHTTP(t *testing.T) {
	srv := newStack(t)
	for path, want := range map[string]int{"/healthz": 200, "/readyz": 200} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s = %d, want %d", path, resp.StatusCode, want)
		}
	}
}
