package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/koustreak/edasync/internal/controller"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

type reloadResponse struct {
	Loaded bool                `json:"loaded"`
	State  controller.Snapshot `json:"state"`
}

type filenameRequest struct {
	Filename string `json:"filename"`
}

type filterRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	loaded := s.ctl.LoadInitialSummary(r.Context()) != nil
	s.writeJSON(w, http.StatusOK, reloadResponse{Loaded: loaded, State: s.ctl.Snapshot()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, errs.New(errs.ErrKindValidation, "The file exceeds the upload limit."))
			return
		}
		s.writeError(w, r, errs.Wrap(errs.ErrKindValidation, "Expected a multipart form with a file field.", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	_, hdr, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.ErrKindValidation, "No file selected.", err))
		return
	}

	if _, err := s.ctl.UploadAndRefresh(r.Context(), partFile{hdr}); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleTableFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.ctl.SetTableFilter(req.Query)
	s.writeJSON(w, http.StatusOK, s.ctl.Snapshot().Page.Table)
}

func (s *Server) handleChartsRefresh(w http.ResponseWriter, r *http.Request) {
	var req filenameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.ctl.RefreshCharts(r.Context(), req.Filename); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap := s.ctl.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"charts_for": snap.Page.ChartsFor,
		"charts":     snap.Page.Charts,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req filenameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	art, err := s.ctl.DownloadReport(r.Context(), nil, req.Filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleCleaned(w http.ResponseWriter, r *http.Request) {
	var req filenameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	art, err := s.ctl.DownloadCleaned(r.Context(), req.Filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, art)
}

// partFile adapts an uploaded multipart part to controller.FileHandle so
// the controller validates the declared size before reading the data.
type partFile struct {
	hdr *multipart.FileHeader
}

func (p partFile) Name() string { return p.hdr.Filename }
func (p partFile) Size() int64  { return p.hdr.Size }

func (p partFile) Open() (io.ReadCloser, error) {
	return p.hdr.Open()
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errs.Wrap(errs.ErrKindValidation, "Malformed JSON body.", err)
	}
	return nil
}

// statusFor maps an error kind to the adapter's HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindValidation:
		return http.StatusBadRequest
	case errs.ErrKindBusy:
		return http.StatusConflict
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindServer, errs.ErrKindProtocol, errs.ErrKindNetwork:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WarnWith("request failed", err, map[string]interface{}{
			"status": status,
			"kind":   errs.KindOf(err).String(),
		})
	}
	msg := strings.TrimSpace(errs.UserMessage(err))
	if msg == "" {
		msg = http.StatusText(http.StatusInternalServerError)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WarnWith("failed to write response", err, nil)
	}
}
