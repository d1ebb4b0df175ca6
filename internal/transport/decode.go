package transport

import (
	"mime"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/koustreak/edasync/internal/errs"
)

const msgUnexpected = "Unexpected server response."

// Envelope is a 2xx JSON body of the form {"success": true, ...}.
type Envelope struct {
	Result gjson.Result
}

// Get returns the value at path inside the envelope.
func (e Envelope) Get(path string) gjson.Result {
	return e.Result.Get(path)
}

// DecodeEnvelope parses a 2xx body as a success envelope. A body that is not
// JSON, lacks "success", or has success:false is a protocol error whose
// message is the body's "error" field when present.
func DecodeEnvelope(resp *Response) (Envelope, error) {
	if !gjson.ValidBytes(resp.Body) {
		return Envelope{}, errs.New(errs.ErrKindProtocol, msgUnexpected)
	}
	res := gjson.ParseBytes(resp.Body)
	if !res.IsObject() {
		return Envelope{}, errs.New(errs.ErrKindProtocol, msgUnexpected)
	}

	ok := res.Get("success")
	if ok.Type != gjson.True {
		if msg := errorField(res); msg != "" {
			return Envelope{}, errs.New(errs.ErrKindProtocol, msg)
		}
		return Envelope{}, errs.New(errs.ErrKindProtocol, msgUnexpected)
	}
	return Envelope{Result: res}, nil
}

// Blob is a binary artifact returned by the backend.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string // from Content-Disposition, may be empty
}

// DecodeBlob returns the body as-is. A JSON body carrying success:false is
// treated as a protocol error rather than saved as an artifact.
func DecodeBlob(resp *Response) (Blob, error) {
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
		if gjson.ValidBytes(resp.Body) {
			res := gjson.ParseBytes(resp.Body)
			if s := res.Get("success"); s.Exists() && s.Type == gjson.False {
				if msg := errorField(res); msg != "" {
					return Blob{}, errs.New(errs.ErrKindProtocol, msg)
				}
				return Blob{}, errs.New(errs.ErrKindProtocol, msgUnexpected)
			}
		}
	}

	return Blob{
		Data:        resp.Body,
		ContentType: contentType,
		Filename:    AttachmentName(resp.Header),
	}, nil
}

// AttachmentName extracts the filename parameter of Content-Disposition.
func AttachmentName(h http.Header) string {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// ServerError builds the error for a non-2xx response: the "error" field of
// a JSON body, else the trimmed raw body, else the status text.
func ServerError(resp *Response) *errs.Error {
	msg := ""
	if gjson.ValidBytes(resp.Body) {
		msg = errorField(gjson.ParseBytes(resp.Body))
	}
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = resp.Status
	}
	return errs.Server(resp.StatusCode, msg)
}

func errorField(res gjson.Result) string {
	e := res.Get("error")
	if !e.Exists() || e.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(e.String())
}
