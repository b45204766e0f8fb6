package admission

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
)

// ReadPayload validates and sanitizes a request body. Violations map to the
// conventional status codes: wrong content type 415, empty or malformed body
// 400, oversized body 413. The returned bytes are the sanitized JSON, ready
// to forward.
func (c *Controller) ReadPayload(
	r *http.Request,
) (
	[]byte,
	*Rejection,
) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return nil, &Rejection{
			Status:  http.StatusUnsupportedMediaType,
			Kind:    KindPayloadInvalid,
			Message: "content type must be application/json",
		}
	}

	// read one byte past the ceiling so an at-limit body is distinguishable
	// from an oversized one
	body, err := io.ReadAll(io.LimitReader(r.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &Rejection{
			Status:  http.StatusBadRequest,
			Kind:    KindPayloadInvalid,
			Message: "couldn't read request body",
		}
	}
	if len(body) == 0 {
		return nil, &Rejection{
			Status:  http.StatusBadRequest,
			Kind:    KindPayloadInvalid,
			Message: "request body is empty",
		}
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, &Rejection{
			Status:  http.StatusRequestEntityTooLarge,
			Kind:    KindPayloadInvalid,
			Message: "request body too large",
		}
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Rejection{
			Status:  http.StatusBadRequest,
			Kind:    KindPayloadInvalid,
			Message: "request body is not valid JSON",
		}
	}

	sanitized, err := json.Marshal(SanitizeValue(payload))
	if err != nil {
		return nil, &Rejection{
			Status:  http.StatusInternalServerError,
			Kind:    KindInternal,
			Message: "internal error",
		}
	}
	return sanitized, nil
}
