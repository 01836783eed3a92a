package apictx

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// DefaultMaxMemory bounds the in-memory part of a multipart form.
const DefaultMaxMemory = 32 << 20

var ErrBadBody = errors.New("apictx: malformed request body")

// File is one uploaded form file, fully read.
type File struct {
	Content  []byte `json:"content"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type Request struct {
	Method  string
	URL     string
	Path    string
	Header  http.Header
	Cookies map[string]string
	// Params holds route parameters overlaid with query parameters.
	Params map[string]string
	// Data is the decoded JSON value or the non-file form fields.
	Data any
	Files []File
	// Raw is the body of any other content type.
	Raw []byte
}

// NewRequest decodes r for a handler. JSON bodies become Data, urlencoded
// and multipart forms become Data plus Files, anything else is kept as Raw.
// Query parameters win over route parameters of the same name.
func NewRequest(r *http.Request, routeParams map[string]string) (*Request, error) {
	req := &Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Path:    r.URL.Path,
		Header:  r.Header.Clone(),
		Cookies: ParseCookies(r.Header.Get("Cookie")),
		Params:  make(map[string]string, len(routeParams)),
		Data:    map[string]any{},
	}
	for k, v := range routeParams {
		req.Params[k] = v
	}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			req.Params[k] = vs[len(vs)-1]
		}
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, xerrors.Wrap(err, "read body")
		}
		if len(b) == 0 {
			return req, nil
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, errors.Join(ErrBadBody, err)
		}
		req.Data = v
	case "multipart/form-data", "application/x-www-form-urlencoded":
		if err := decodeForm(r, req, mt); err != nil {
			return nil, err
		}
	default:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, xerrors.Wrap(err, "read body")
		}
		req.Raw = b
	}
	return req, nil
}

func decodeForm(r *http.Request, req *Request, mt string) error {
	data := map[string]any{}
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(DefaultMaxMemory); err != nil {
			return errors.Join(ErrBadBody, err)
		}
		defer r.MultipartForm.RemoveAll()
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				data[k] = vs[len(vs)-1]
			}
		}
		for _, fhs := range r.MultipartForm.File {
			for _, fh := range fhs {
				f, err := fh.Open()
				if err != nil {
					return xerrors.Wrapf(err, "open form file %q", fh.Filename)
				}
				b, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return xerrors.Wrapf(err, "read form file %q", fh.Filename)
				}
				req.Files = append(req.Files, File{
					Content:  b,
					Filename: fh.Filename,
					Size:     fh.Size,
					Type:     fh.Header.Get("Content-Type"),
				})
			}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return errors.Join(ErrBadBody, err)
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				data[k] = vs[len(vs)-1]
			}
		}
	}
	req.Data = data
	return nil
}

// ParseCookies splits a Cookie header on ";" and each pair on its first "=".
// Unlike net/http it keeps values that are not valid cookie tokens, since
// handlers read what the browser sent.
func ParseCookies(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}
	for _, kv := range strings.Split(header, ";") {
		k, v, _ := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// HeaderMap flattens h into lower-case names with comma-joined values.
func (r *Request) HeaderMap() map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
