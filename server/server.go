// Package server exposes stamping over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/compose"
	"github.com/wudi/pdfstamp/delivery"
	"github.com/wudi/pdfstamp/source"
	"github.com/wudi/pdfstamp/store"
)

const (
	fieldDocument    = "document"
	fieldAnnotations = "annotations"
	fieldName        = "name"

	// multipart bodies above this are spooled to disk
	memoryLimit = 32 << 20
)

// CompositorFunc returns a compositor that serves part: locators from parts.
type CompositorFunc func(parts source.Reader) *compose.Compositor

type Server struct {
	compositor CompositorFunc
	jobs       store.Store
	sink       delivery.Sink
	log        *logrus.Logger
	maxUpload  int64
}

type Option func(*Server)

func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxUpload caps request bodies at n bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// New returns a server recording jobs in jobs. sink receives documents for
// requests made with deliver=sink; it may be nil, which disables that mode.
func New(compositor CompositorFunc, jobs store.Store, sink delivery.Sink, opts ...Option) *Server {
	s := &Server{
		compositor: compositor,
		jobs:       jobs,
		sink:       sink,
		log:        logrus.StandardLogger(),
		maxUpload:  64 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		ExposedHeaders: []string{"Content-Disposition", "X-Job-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/stamp", s.handleStamp)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
		})
	})
	return r
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// upload is a parsed stamp request.
type upload struct {
	name     string
	document []byte
	set      annotation.PageSet
	parts    *source.Parts
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) parseUpload(r *http.Request) (*upload, int, error) {
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request exceeds %d bytes", tooLarge.Limit)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err)
	}
	form := r.MultipartForm
	up := &upload{parts: source.NewParts()}

	docs := form.File[fieldDocument]
	if len(docs) == 0 {
		return nil, http.StatusBadRequest, errors.New("missing document part")
	}
	doc, err := readPart(docs[0])
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("read document: %w", err)
	}
	up.document = doc
	up.name = docs[0].Filename

	var raw []byte
	if files := form.File[fieldAnnotations]; len(files) > 0 {
		if raw, err = readPart(files[0]); err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("read annotations: %w", err)
		}
	} else if vals := form.Value[fieldAnnotations]; len(vals) > 0 {
		raw = []byte(vals[0])
	}
	if len(raw) > 0 {
		if up.set, err = annotation.Parse(raw); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}

	for field, files := range form.File {
		if field == fieldDocument || field == fieldAnnotations || len(files) == 0 {
			continue
		}
		data, err := readPart(files[0])
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("read part %s: %w", field, err)
		}
		up.parts.Put(field, data)
	}

	if v := form.Value[fieldName]; len(v) > 0 && v[0] != "" {
		up.name = v[0]
	}
	up.name = path.Base(strings.ReplaceAll(up.name, "\\", "/"))
	if up.name == "" || up.name == "." || up.name == "/" {
		up.name = "document.pdf"
	}
	return up, 0, nil
}

// statusFor maps a save failure to a response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, annotation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, compose.ErrLoad),
		errors.Is(err, compose.ErrResourceResolution),
		errors.Is(err, compose.ErrUnrecoverableResolution),
		errors.Is(err, compose.ErrComposition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, compose.ErrDelivery):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleStamp composes the uploaded annotations onto the uploaded document.
// By default the result is the response body; with deliver=sink it goes to
// the configured sink and the job record is returned instead.
func (s *Server) handleStamp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	toSink := r.URL.Query().Get("deliver") == "sink"
	if toSink && s.sink == nil {
		s.fail(w, r, http.StatusBadRequest, "no sink configured")
		return
	}

	up, status, err := s.parseUpload(r)
	if err != nil {
		s.fail(w, r, status, err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	ctx := r.Context()
	job := &store.Job{Name: up.name}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.log.WithError(err).Error("create job")
		s.fail(w, r, http.StatusInternalServerError, "failed to record job")
		return
	}
	entry := s.log.WithFields(logrus.Fields{"job": job.ID, "name": job.Name, "parts": up.parts.Len()})

	var sink delivery.Sink = delivery.HTTP{W: w}
	if toSink {
		sink = s.sink
	} else {
		w.Header().Set("X-Job-ID", job.ID)
	}

	rep, err := s.compositor(up.parts).Save(ctx, up.document, up.set, up.name, sink)
	if rep != nil {
		job.Pages = len(rep.Pages)
		job.Applied = rep.Applied()
		job.Degraded = rep.Degraded()
		job.Bytes = rep.Bytes
	}
	job.State = store.Succeeded
	if err != nil {
		job.State = store.Failed
		job.Error = err.Error()
	}
	// the request context may be gone; the record still has to land
	if uerr := s.jobs.Update(context.WithoutCancel(ctx), job); uerr != nil {
		entry.WithError(uerr).Error("update job")
	}

	if err != nil {
		entry.WithError(err).Warn("stamp failed")
		if !toSink && errors.Is(err, compose.ErrDelivery) {
			// the response is already partly written
			return
		}
		w.Header().Del("X-Job-ID")
		s.fail(w, r, statusFor(err), err.Error())
		return
	}
	entry.WithFields(logrus.Fields{"applied": job.Applied, "degraded": job.Degraded}).Info("stamped")
	if toSink {
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, job)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("list jobs")
		s.fail(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	render.JSON(w, r, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, r, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("job", id).Error("get job")
		s.fail(w, r, http.StatusInternalServerError, "failed to get job")
		return
	}
	render.JSON(w, r, job)
}
