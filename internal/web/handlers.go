package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/csv2json/internal/core"
	"github.com/JonMunkholm/csv2json/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

// maxFormMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const maxFormMemory = 32 << 20

// SessionResponse is the JSON reply to an upload.
type SessionResponse struct {
	ID            string       `json:"id"`
	FileName      string       `json:"fileName"`
	FileType      string       `json:"fileType"`
	FileSize      int64        `json:"fileSize"`
	Rows          int          `json:"rows"`
	Columns       int          `json:"columns"`
	Warnings      []string     `json:"warnings"`
	SampleOffered bool         `json:"sampleOffered"`
	Preview       core.Preview `json:"preview"`
}

// handleIndex renders the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, templates.UploadPage(nil))
}

// handleUpload parses an uploaded CSV into a new session. Browsers are
// redirected to the session page; JSON clients get the session summary.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxErr.Limit)
		}
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = core.ErrNoFile
		}
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	info := core.FileInfo{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}

	session, err := s.service.CreateSession(r.Context(), info, file)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, s.sessionResponse(session))
		return
	}
	http.Redirect(w, r, "/session/"+session.ID, http.StatusSeeOther)
}

func (s *Server) sessionResponse(session *core.Session) SessionResponse {
	warnings := session.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return SessionResponse{
		ID:            session.ID,
		FileName:      session.File.Name,
		FileType:      session.File.ContentType,
		FileSize:      session.File.Size,
		Rows:          session.Table.NumRows(),
		Columns:       session.Table.NumColumns(),
		Warnings:      warnings,
		SampleOffered: session.SampleOffered(),
		Preview:       session.Preview(s.service.PreviewRows()),
	}
}

// handleSession renders the file details, preview and options form.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, s.sessionResponse(session))
		return
	}

	params := templates.SessionParams{
		Session: session,
		Preview: session.Preview(s.service.PreviewRows()),
		Options: session.Options(),
	}
	if conv := session.Current(); conv != nil {
		snap := conv.Snapshot()
		params.Current = &snap
	}
	render(w, r, http.StatusOK, templates.SessionPage(params))
}

// handleConvert starts a conversion. HTMX posts get the progress partial,
// JSON clients the status, and plain form posts a redirect to the result page.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	opts, err := parseConvertOptions(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	conv, err := s.service.StartConversion(withClient(r), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	switch {
	case isHTMX(r):
		render(w, r, http.StatusAccepted, templates.ProgressView(conv.Snapshot()))
	case wantsJSON(r):
		w.Header().Set("Location", "/api/conversions/"+conv.ID)
		writeJSON(w, http.StatusAccepted, conv.Snapshot())
	default:
		http.Redirect(w, r, "/conversion/"+conv.ID, http.StatusSeeOther)
	}
}

// parseConvertOptions reads the options form: orientation, use_full_dataset,
// sample_size and seed. A missing use_full_dataset means sampling was chosen.
func parseConvertOptions(r *http.Request) (core.ConvertOptions, error) {
	if err := r.ParseForm(); err != nil {
		return core.ConvertOptions{}, fmt.Errorf("parse convert form: %w", err)
	}

	orientation := r.PostFormValue("orientation")
	if orientation == "" {
		orientation = string(core.OrientRecords)
	}
	orient, err := core.ParseOrientation(orientation)
	if err != nil {
		return core.ConvertOptions{}, err
	}

	opts := core.ConvertOptions{Orientation: orient}
	opts.UseFullDataset, _ = strconv.ParseBool(r.PostFormValue("use_full_dataset"))

	if v := strings.TrimSpace(r.PostFormValue("sample_size")); v != "" && !opts.UseFullDataset {
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.ConvertOptions{}, fmt.Errorf("%w: %q", core.ErrSampleSize, v)
		}
		opts.SampleSize = n
	}

	if v := strings.TrimSpace(r.PostFormValue("seed")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return core.ConvertOptions{}, fmt.Errorf("%w: seed %q is not a non-negative integer", core.ErrSampleSize, v)
		}
		opts.Seed = &seed
	}

	return opts, nil
}

// handleConversionPage shows the result, the progress view while running,
// or the error of a failed conversion.
func (s *Server) handleConversionPage(w http.ResponseWriter, r *http.Request) {
	conv, err := s.service.Conversion(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	params := templates.ResultParams{
		Conversion: conv.Snapshot(),
		Artifact:   conv.Artifact(),
	}
	render(w, r, http.StatusOK, templates.ResultPage(params))
}
