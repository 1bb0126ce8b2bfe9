package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"msgblast/internal/delivery"
	"msgblast/internal/job"
	"msgblast/internal/runtime/supervisor"
	"msgblast/internal/uploads"
	logx "msgblast/pkg/logx"
)

//go:embed templates/*.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Submitter starts a job and returns its id without waiting for it.
type Submitter interface {
	Submit(req delivery.Request) string
	// Snapshot reports the job goroutines for /healthz.
	Snapshot() supervisor.Snapshot
}

// Jobs looks up job snapshots.
type Jobs interface {
	Get(id string) (job.Record, bool)
	Counts() map[job.Status]int
}

// Form validation messages.
const (
	msgMissingFields = "Username, password, and recipient are required."
	msgNoFile        = "No message file uploaded!"
	msgNoSelection   = "No selected file!"
	msgNotText       = "Only .txt files are allowed."
	msgBadInterval   = "Interval must be a non-negative whole number of seconds."
	msgStarted       = "Job started. Poll the status URL for updates."
)

// maxFormMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const maxFormMemory = 1 << 20

type pageData struct {
	Error           string
	Message         string
	JobID           string
	StatusURL       string
	DefaultInterval int
}

type errorBody struct {
	Error string `json:"error"`
}

type submitBody struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type statusBody struct {
	Status   job.Status `json:"status"`
	Message  string     `json:"message"`
	Progress int        `json:"progress"`
}

type handlers struct {
	cfg    func() Config
	submit Submitter
	jobs   Jobs
	log    logx.Logger
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, pageData{})
}

// formError carries a user-facing validation failure and its HTTP status.
type formError struct {
	status int
	msg    string
}

func (e *formError) Error() string { return e.msg }

func (h *handlers) submitForm(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg()
	req, err := h.parseSubmission(w, r, cfg)
	if err != nil {
		var fe *formError
		if !errors.As(err, &fe) {
			h.log.Error("submission failed", logx.Err(err))
			fe = &formError{status: http.StatusInternalServerError, msg: "Could not store the uploaded file."}
		}
		h.fail(w, r, fe)
		return
	}

	// The job outlives the request and runs on the dispatcher's context.
	id := h.submit.Submit(req)
	statusURL := statusURLFor(r, cfg.BaseURL, id)

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, submitBody{JobID: id, StatusURL: statusURL})
		return
	}
	h.render(w, http.StatusOK, pageData{JobID: id, StatusURL: statusURL, Message: msgStarted})
}

func (h *handlers) parseSubmission(w http.ResponseWriter, r *http.Request, cfg Config) (delivery.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			return delivery.Request{}, &formError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("Upload exceeds %d bytes.", cfg.MaxUploadBytes)}
		}
		return delivery.Request{}, &formError{status: http.StatusBadRequest, msg: "Malformed form submission."}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	req := delivery.Request{
		Username:  strings.TrimSpace(r.FormValue("username")),
		Password:  strings.TrimSpace(r.FormValue("password")),
		Recipient: strings.TrimSpace(r.FormValue("recipient")),
		Label:     strings.TrimSpace(r.FormValue("haters_name")),
	}
	if req.Username == "" || req.Password == "" || req.Recipient == "" {
		return req, &formError{status: http.StatusBadRequest, msg: msgMissingFields}
	}

	file, header, err := r.FormFile("message_file")
	if err != nil {
		// A file input submitted with nothing chosen arrives as an empty,
		// unnamed part, which the multipart parser files as a plain value.
		if r.MultipartForm != nil {
			if _, ok := r.MultipartForm.Value["message_file"]; ok {
				return req, &formError{status: http.StatusBadRequest, msg: msgNoSelection}
			}
		}
		return req, &formError{status: http.StatusBadRequest, msg: msgNoFile}
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		return req, &formError{status: http.StatusBadRequest, msg: msgNoSelection}
	}
	if !uploads.Allowed(header.Filename) {
		return req, &formError{status: http.StatusBadRequest, msg: msgNotText}
	}

	interval, ferr := parseInterval(r.FormValue("interval"), cfg.DefaultInterval, cfg.MaxInterval)
	if ferr != nil {
		return req, ferr
	}
	req.Interval = interval

	path, err := uploads.Save(cfg.UploadsDir, header.Filename, file)
	if err != nil {
		if errors.Is(err, uploads.ErrNoName) {
			return req, &formError{status: http.StatusBadRequest, msg: msgNoSelection}
		}
		return req, err
	}
	req.MessageFile = path
	return req, nil
}

// parseInterval reads whole seconds. Blank means def.
func parseInterval(raw string, def, limit time.Duration) (time.Duration, *formError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &formError{status: http.StatusBadRequest, msg: msgBadInterval}
	}
	d := time.Duration(n) * time.Second
	if limit > 0 && d > limit {
		return 0, &formError{status: http.StatusBadRequest, msg: fmt.Sprintf("Interval must not exceed %d seconds.", int(limit/time.Second))}
	}
	return d, nil
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, fe *formError) {
	if wantsJSON(r) {
		writeJSON(w, fe.status, errorBody{Error: fe.msg})
		return
	}
	h.render(w, fe.status, pageData{Error: fe.msg})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.jobs.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: rec.Status, Message: rec.Message, Progress: rec.Progress})
}

type healthBody struct {
	Status  string              `json:"status"`
	Jobs    map[job.Status]int  `json:"jobs"`
	Workers supervisor.Snapshot `json:"workers"`
}

// healthz answers "ok", or job and worker counters for JSON clients.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, healthBody{Status: "ok", Jobs: h.jobs.Counts(), Workers: h.submit.Snapshot()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) render(w http.ResponseWriter, code int, data pageData) {
	data.DefaultInterval = int(h.cfg().DefaultInterval / time.Second)
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		h.log.Error("template render failed", logx.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// statusURLFor builds the absolute status URL, from base when configured
// and from the request otherwise.
func statusURLFor(r *http.Request, base, id string) string {
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
			scheme = p
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/status/" + id
}
