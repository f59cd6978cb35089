package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
)

const maxFieldsBody = 1 << 20

// Fields flattens a JSON object body or a urlencoded form body into named
// text fields. JSON numbers keep their literal text; other non-string values
// are rendered with fmt. An empty body yields an empty map.
func Fields(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	if r.Body == nil {
		return out, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(nil, r.Body, maxFieldsBody)
		if err := r.ParseMultipartForm(maxFieldsBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, apperror.ValidationFailed("body", "malformed form body")
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		return out, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFieldsBody))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return nil, apperror.ValidationFailed("body", "malformed JSON body")
	}
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
		case string:
			out[k] = tv
		case json.Number:
			out[k] = tv.String()
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("bearer "):])
}
