// Package storage provides the network client the updater fetches manifests
// and artifacts through: plain HTTP(S) and anonymous S3, both supporting
// range-resumed reads.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/eon-neos/neosupdater/pkg/errors"
)

// ErrRangeNotSatisfiable reports that the requested resume offset is at or
// beyond the end of the remote object, i.e. the local copy is already whole.
var ErrRangeNotSatisfiable = fmt.Errorf("range not satisfiable")

// ProgressFunc receives the number of bytes held locally (including the
// resume offset) and the total object size. total is <= 0 when unknown.
type ProgressFunc func(done, total int64)

// Getter fetches a remote object starting at offset and writes the bytes to w.
type Getter interface {
	Get(ctx context.Context, rawURL string, offset int64, w io.Writer, progress ProgressFunc) error
}

// StatusError is returned for HTTP responses that are neither success nor a
// range rejection.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
}

// Router dispatches by URL scheme: s3:// goes to the S3 getter, everything
// else to HTTP.
type Router struct {
	HTTP Getter
	S3   Getter
}

// NewRouter creates a scheme router. s3 may be nil when no S3 sources are used.
func NewRouter(http, s3 Getter) *Router {
	return &Router{HTTP: http, S3: s3}
}

func (r *Router) Get(ctx context.Context, rawURL string, offset int64, w io.Writer, progress ProgressFunc) error {
	if strings.HasPrefix(rawURL, "s3://") {
		if r.S3 == nil {
			return fmt.Errorf("no s3 client configured for %s", rawURL)
		}
		return r.S3.Get(ctx, rawURL, offset, w, progress)
	}
	return r.HTTP.Get(ctx, rawURL, offset, w, progress)
}

// BaseName returns the final path element of an artifact URL, ignoring any
// query string. It is the file name the artifact is staged under.
func BaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	p := rawURL
	if err == nil {
		p = u.Path
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, "invalid s3 url")
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url: %s", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url has no key: %s", rawURL)
	}
	return u.Host, key, nil
}

// progressWriter counts bytes written through it and reports progress.
type progressWriter struct {
	w        io.Writer
	done     int64
	total    int64
	progress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.progress != nil && p.total > 0 {
		p.progress(p.done, p.total)
	}
	return n, err
}
