package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/eon-neos/neosupdater/pkg/errors"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPGetter performs unauthenticated GETs with an optional Range header.
type HTTPGetter struct {
	doer      HTTPDoer
	userAgent string
}

// NewHTTPGetter creates a getter. A nil doer uses a client without a
// deadline; transfers are bounded by attempt counts, not wall-clock time.
func NewHTTPGetter(doer HTTPDoer, userAgent string) *HTTPGetter {
	if doer == nil {
		doer = &http.Client{}
	}
	return &HTTPGetter{doer: doer, userAgent: userAgent}
}

func (g *HTTPGetter) Get(ctx context.Context, rawURL string, offset int64, w io.Writer, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := g.doer.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	slog.Debug("http_get_response", "url", rawURL, "status", resp.StatusCode, "resume_from", offset)

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	case resp.StatusCode == http.StatusOK && offset > 0:
		// The server ignored the range; appending a full body would corrupt the file.
		return fmt.Errorf("server does not support byte ranges, cannot resume %s", rawURL)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	pw := &progressWriter{w: w, done: offset, total: total, progress: progress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return errors.Wrap(err, "transfer interrupted")
	}
	return nil
}
