package download

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// fileTransport serves file:// URLs from the local filesystem so releases on
// a mounted share download through the same code path as HTTP ones.
type fileTransport struct{}

func (fileTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	path := filepath.FromSlash(req.URL.Path)
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, `\`)
	}

	resp := &http.Response{
		Proto:      "HTTP/1.0",
		ProtoMajor: 1,
		Header:     make(http.Header),
		Request:    req,
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			resp.StatusCode = http.StatusNotFound
		} else {
			resp.StatusCode = http.StatusForbidden
		}
		resp.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		resp.Body = io.NopCloser(strings.NewReader(""))
		return resp, nil
	}

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		resp.StatusCode = http.StatusNotFound
		resp.Status = "404 Not Found"
		resp.Body = io.NopCloser(strings.NewReader(""))
		return resp, nil
	}

	resp.StatusCode = http.StatusOK
	resp.Status = "200 OK"
	resp.ContentLength = info.Size()
	resp.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	resp.Body = f
	return resp, nil
}
