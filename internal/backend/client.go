// Package backend is the typed client for the EDA backend's HTTP API.
//
// Every method goes through transport.Call, so all of them share one
// timeout/retry policy; only the retry count differs per endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/koustreak/edasync/internal/charts"
	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/summary"
	"github.com/koustreak/edasync/internal/transport"
)

// Endpoint paths.
const (
	PathSummary = "/summary-data"
	PathUpload  = "/upload"
	PathCharts  = "/charts"
	PathReport  = "/report"
	PathCleaned = "/download-cleaned"

	// FileField is the multipart field the backend reads the upload from.
	FileField = "file"
)

// Retries is the number of extra attempts per endpoint after a timeout.
type Retries struct {
	Summary int
	Upload  int
	Charts  int
	Report  int
	Cleaned int
}

// DefaultRetries: idempotent reads retry twice, report generation never.
func DefaultRetries() Retries {
	return Retries{Summary: 2, Upload: 1, Charts: 2, Report: 0, Cleaned: 1}
}

// Client calls the five backend endpoints.
type Client struct {
	http    *transport.Client
	retries Retries
}

// New wraps a transport client.
func New(t *transport.Client, retries Retries) *Client {
	return &Client{http: t, retries: retries}
}

// Summary fetches the server's last-known summary. A 404 means the server
// has none yet and is reported as ErrKindNotFound.
func (c *Client) Summary(ctx context.Context, requestID string) (*summary.DatasetSummary, error) {
	env, err := transport.Call(ctx, c.http, transport.Request{
		Method:    http.MethodGet,
		Path:      PathSummary,
		Retries:   c.retries.Summary,
		RequestID: requestID,
	}, transport.DecodeEnvelope)
	if err != nil {
		var e *errs.Error
		if errs.IsServer(err) && errors.As(err, &e) && e.Status == http.StatusNotFound {
			return nil, errs.Wrap(errs.ErrKindNotFound, e.Message, err)
		}
		return nil, err
	}
	return summary.Decode([]byte(env.Get("summary").Raw))
}

// Upload posts content as multipart field "file" named name.
func (c *Client) Upload(ctx context.Context, requestID, name string, content []byte) (*summary.DatasetSummary, error) {
	body, contentType, err := multipartBody(name, content)
	if err != nil {
		return nil, err
	}

	env, err := transport.Call(ctx, c.http, transport.Request{
		Method:      http.MethodPost,
		Path:        PathUpload,
		Body:        body,
		ContentType: contentType,
		Retries:     c.retries.Upload,
		RequestID:   requestID,
	}, transport.DecodeEnvelope)
	if err != nil {
		return nil, err
	}
	return summary.Decode([]byte(env.Get("summary").Raw))
}

// ChartSet is the decoded /charts response.
type ChartSet struct {
	Charts  []charts.Chart // payload order
	Skipped []string       // ids that did not decode
}

// Charts requests rendered charts for filename.
func (c *Client) Charts(ctx context.Context, requestID, filename string, limit int) (*ChartSet, error) {
	payload, err := json.Marshal(map[string]interface{}{"filename": filename, "limit": limit})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindValidation, "could not encode chart request", err)
	}

	env, err := transport.Call(ctx, c.http, transport.Request{
		Method:      http.MethodPost,
		Path:        PathCharts,
		Body:        payload,
		ContentType: "application/json",
		Retries:     c.retries.Charts,
		RequestID:   requestID,
	}, transport.DecodeEnvelope)
	if err != nil {
		return nil, err
	}

	raw := env.Get("charts")
	if !raw.IsObject() {
		return nil, errs.New(errs.ErrKindProtocol, "Unexpected server response: charts are missing")
	}
	all, skipped := charts.Parse(raw)
	return &ChartSet{Charts: all, Skipped: skipped}, nil
}

// Report asks the backend to render an HTML report for s.
func (c *Client) Report(ctx context.Context, requestID string, s *summary.DatasetSummary, filename string) (transport.Blob, error) {
	payload, err := json.Marshal(map[string]interface{}{"summary": s, "filename": filename})
	if err != nil {
		return transport.Blob{}, errs.Wrap(errs.ErrKindValidation, "could not encode report request", err)
	}
	return transport.Call(ctx, c.http, transport.Request{
		Method:      http.MethodPost,
		Path:        PathReport,
		Body:        payload,
		ContentType: "application/json",
		Retries:     c.retries.Report,
		RequestID:   requestID,
	}, transport.DecodeBlob)
}

// Cleaned downloads the backend's cleaned version of filename.
func (c *Client) Cleaned(ctx context.Context, requestID, filename string) (transport.Blob, error) {
	payload, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return transport.Blob{}, errs.Wrap(errs.ErrKindValidation, "could not encode download request", err)
	}
	return transport.Call(ctx, c.http, transport.Request{
		Method:      http.MethodPost,
		Path:        PathCleaned,
		Body:        payload,
		ContentType: "application/json",
		Retries:     c.retries.Cleaned,
		RequestID:   requestID,
	}, transport.DecodeBlob)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody builds the upload form once so every attempt replays the
// same bytes. The part's content type is sniffed from the data.
func multipartBody(name string, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FileField, quoteEscaper.Replace(name)))
	h.Set("Content-Type", mimetype.Detect(content).String())

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", errs.Wrap(errs.ErrKindValidation, "could not build upload form", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", errs.Wrap(errs.ErrKindValidation, "could not build upload form", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", errs.Wrap(errs.ErrKindValidation, "could not build upload form", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
