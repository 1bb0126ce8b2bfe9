package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgblast/internal/delivery"
	"msgblast/internal/job"
	"msgblast/internal/runtime/supervisor"
	logx "msgblast/pkg/logx"
)

// stubSubmitter records requests and creates queued records like the
// dispatcher does.
type stubSubmitter struct {
	store *job.Store

	mu   sync.Mutex
	reqs []delivery.Request
}

func (s *stubSubmitter) Submit(req delivery.Request) string {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return s.store.Create(job.Record{Status: job.StatusQueued, Message: "Job queued."})
}

func (s *stubSubmitter) Snapshot() supervisor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return supervisor.Snapshot{Counters: supervisor.Counters{Started: uint64(len(s.reqs))}}
}

type fixture struct {
	store *job.Store
	sub   *stubSubmitter
	svc   *Service
	h     http.Handler
	dir   string
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	store := job.NewStore(nil)
	sub := &stubSubmitter{store: store}
	cfg := Config{
		Addr:            "127.0.0.1:0",
		MaxUploadBytes:  1 << 20,
		UploadsDir:      t.TempDir(),
		DefaultInterval: 5 * time.Second,
		MaxInterval:     time.Hour,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	svc := New(cfg, sub, store, logx.Nop())
	return &fixture{store: store, sub: sub, svc: svc, h: svc.Handler(), dir: cfg.UploadsDir}
}

type upload struct {
	fields   map[string]string
	filename string
	content  string
	// emptyFile sends a file part with no name, as a browser does when
	// nothing was chosen.
	emptyFile bool
	noFile    bool
}

func (u upload) request(t *testing.T, accept string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	switch {
	case u.noFile:
	case u.emptyFile:
		fw, err := mw.CreateFormFile("message_file", "")
		require.NoError(t, err)
		_, _ = fw.Write(nil)
	default:
		fw, err := mw.CreateFormFile("message_file", u.filename)
		require.NoError(t, err)
		_, _ = fw.Write([]byte(u.content))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "http://blast.test/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return req
}

func validFields() map[string]string {
	return map[string]string{
		"username":    " me ",
		"password":    "pw",
		"recipient":   "alice",
		"interval":    "0",
		"haters_name": " X ",
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIndexRendersForm(t *testing.T) {
	f := newFixture(t)
	rr := serve(f.h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="message_file"`)
	assert.Contains(t, rr.Body.String(), `value="5"`)
}

func TestSubmitJSON(t *testing.T) {
	f := newFixture(t)
	rr := serve(f.h, upload{fields: validFields(), filename: "msgs.txt", content: "hello\nworld\n"}.request(t, "application/json"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var body submitBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body.JobID)
	assert.Equal(t, "http://blast.test/status/"+body.JobID, body.StatusURL)

	rec, ok := f.store.Get(body.JobID)
	require.True(t, ok)
	assert.Equal(t, job.StatusQueued, rec.Status)

	require.Len(t, f.sub.reqs, 1)
	req := f.sub.reqs[0]
	assert.Equal(t, "me", req.Username)
	assert.Equal(t, "alice", req.Recipient)
	assert.Equal(t, "X", req.Label)
	assert.Equal(t, time.Duration(0), req.Interval)
	b, err := os.ReadFile(req.MessageFile)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(b))
	assert.True(t, strings.HasPrefix(req.MessageFile, f.dir))
}

func TestSubmitHTML(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.BaseURL = "https://blast.example.com" })
	rr := serve(f.h, upload{fields: validFields(), filename: "msgs.txt", content: "hi"}.request(t, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), msgStarted)
	assert.Contains(t, rr.Body.String(), "https://blast.example.com/status/")
}

func TestSubmitDefaultInterval(t *testing.T) {
	f := newFixture(t)
	fields := validFields()
	delete(fields, "interval")
	rr := serve(f.h, upload{fields: fields, filename: "m.txt", content: "hi"}.request(t, "application/json"))
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 5*time.Second, f.sub.reqs[0].Interval)
}

func TestSubmitValidation(t *testing.T) {
	without := func(k string) map[string]string {
		m := validFields()
		delete(m, k)
		return m
	}
	with := func(k, v string) map[string]string {
		m := validFields()
		m[k] = v
		return m
	}
	tests := []struct {
		name string
		up   upload
		want string
		code int
	}{
		{"missing username", upload{fields: without("username"), filename: "m.txt"}, msgMissingFields, 400},
		{"blank password", upload{fields: with("password", "  "), filename: "m.txt"}, msgMissingFields, 400},
		{"missing recipient", upload{fields: without("recipient"), filename: "m.txt"}, msgMissingFields, 400},
		{"no file part", upload{fields: validFields(), noFile: true}, msgNoFile, 400},
		{"empty file selection", upload{fields: validFields(), emptyFile: true}, msgNoSelection, 400},
		{"wrong extension", upload{fields: validFields(), filename: "m.csv"}, msgNotText, 400},
		{"negative interval", upload{fields: with("interval", "-1"), filename: "m.txt"}, msgBadInterval, 400},
		{"fractional interval", upload{fields: with("interval", "1.5"), filename: "m.txt"}, msgBadInterval, 400},
		{"interval too large", upload{fields: with("interval", "7200"), filename: "m.txt"}, "Interval must not exceed 3600 seconds.", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rr := serve(f.h, tt.up.request(t, "application/json"))
			assert.Equal(t, tt.code, rr.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Error)

			rr = serve(f.h, tt.up.request(t, ""))
			assert.Contains(t, rr.Body.String(), tt.want)

			assert.Zero(t, f.store.Len(), "no job may be created")
			assert.Empty(t, f.sub.reqs)
		})
	}
}

func TestSubmitTooLarge(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxUploadBytes = 64 })
	rr := serve(f.h, upload{fields: validFields(), filename: "m.txt", content: strings.Repeat("x", 1024)}.request(t, "application/json"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Zero(t, f.store.Len())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	id := f.store.Create(job.Record{Status: job.StatusQueued, Message: "Job queued."})
	f.store.Update(id, job.Patch{}.WithStatus(job.StatusRunning).WithProgress(50).WithMessage("Sent (1/2)"))

	rr := serve(f.h, httptest.NewRequest(http.MethodGet, "/status/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"running","message":"Sent (1/2)","progress":50}`, rr.Body.String())

	for _, path := range []string{"/status/nope", "/status/", "/status/a/b", "/status/%20"} {
		rr = serve(f.h, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), path)
		assert.JSONEq(t, `{"error":"job not found"}`, rr.Body.String(), path)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := serve(f.h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	f.sub.Submit(delivery.Request{Recipient: "alice"})
	id := f.store.Create(job.Record{Status: job.StatusQueued})
	f.store.Update(id, job.Patch{}.WithStatus(job.StatusDone))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept", "application/json")
	rr = serve(f.h, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Status  string         `json:"status"`
		Jobs    map[string]int `json:"jobs"`
		Workers struct {
			Counters struct {
				Started uint64 `json:"started"`
			} `json:"counters"`
		} `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]int{"queued": 1, "done": 1}, body.Jobs)
	assert.Equal(t, uint64(1), body.Workers.Counters.Started)
}

func TestPprofTokenGate(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PprofEnabled = true
		c.PprofPrefix = "/debug/pprof"
		c.PprofToken = "s3cret"
	})

	rr := serve(f.h, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(f.h, httptest.NewRequest(http.MethodGet, "/debug/pprof/?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = serve(f.h, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(newFixture(t).h, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServiceStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Start(ctx))
	addr := f.svc.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	f.svc.Stop(stopCtx)
	assert.Empty(t, f.svc.Addr())
}
