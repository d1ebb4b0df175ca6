package transport

import (
	"net/http"
	"testing"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"success", `{"success":true,"summary":{"shape":[1,1]}}`, ""},
		{"not json", `<html>oops</html>`, msgUnexpected},
		{"array", `[1,2]`, msgUnexpected},
		{"missing success", `{"summary":{}}`, msgUnexpected},
		{"success false with error", `{"success":false,"error":"No summary available. Upload a file first."}`, "No summary available. Upload a file first."},
		{"success false bare", `{"success":false}`, msgUnexpected},
		{"success as string", `{"success":"true"}`, msgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope(&Response{StatusCode: 200, Body: []byte(tt.body)})
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, int64(1), env.Get("summary.shape.0").Int())
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsProtocol(err))
			assert.Equal(t, tt.wantErr, errs.UserMessage(err))
		})
	}
}

func TestDecodeBlob(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Disposition", `attachment; filename=EDA_Report_20260101_120000.html`)

	blob, err := DecodeBlob(&Response{StatusCode: 200, Header: h, Body: []byte("<html></html>")})
	require.NoError(t, err)
	assert.Equal(t, "EDA_Report_20260101_120000.html", blob.Filename)
	assert.Equal(t, "<html></html>", string(blob.Data))
	assert.Equal(t, "text/html; charset=utf-8", blob.ContentType)
}

func TestDecodeBlob_JSONFailure(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	_, err := DecodeBlob(&Response{StatusCode: 200, Header: h, Body: []byte(`{"success":false,"error":"File not found"}`)})
	require.Error(t, err)
	assert.True(t, errs.IsProtocol(err))
	assert.Equal(t, "File not found", errs.UserMessage(err))

	blob, err := DecodeBlob(&Response{StatusCode: 200, Header: h, Body: []byte(`{"rows":[1,2]}`)})
	require.NoError(t, err)
	assert.Empty(t, blob.Filename)
}

func TestAttachmentName(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, "", AttachmentName(h))

	h.Set("Content-Disposition", `attachment; filename="cleaned sales.csv"`)
	assert.Equal(t, "cleaned sales.csv", AttachmentName(h))

	h.Set("Content-Disposition", `;;;`)
	assert.Equal(t, "", AttachmentName(h))
}
