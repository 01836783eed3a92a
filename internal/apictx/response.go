package apictx

import (
	"encoding/json"
	"net/http"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// Response is what a handler produced. A nil *Response means the handler
// returned nothing.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func newResponse(status int, contentType string, body []byte) *Response {
	if status == 0 {
		status = http.StatusOK
	}
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: h, Body: body}
}

// JSON encodes body. A zero status means 200.
func JSON(body any, status int) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode json response")
	}
	return newResponse(status, "application/json", b), nil
}

func Text(body string, status int) *Response {
	return newResponse(status, "text/plain", []byte(body))
}

func HTML(body string, status int) *Response {
	return newResponse(status, "text/html", []byte(body))
}

// Redirect answers with Location set to url. A zero status means 302.
func Redirect(url string, status int) *Response {
	if status == 0 {
		status = http.StatusFound
	}
	r := newResponse(status, "", nil)
	r.Header.Set("Location", url)
	return r
}

// Send is the general form: any body, status and headers.
func Send(body []byte, status int, header http.Header) *Response {
	r := newResponse(status, "", body)
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return r
}

// Write copies r to w.
func (r *Response) Write(w http.ResponseWriter) {
	// handler headers replace middleware defaults of the same name
	for k, vs := range r.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}
