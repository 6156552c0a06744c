package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Returned when a body is larger than GetOptions.MaxSize.
var ErrTooLarge = errors.New("download too large")

type GetOptions struct {
	MaxSize  int
	Timeout  time.Duration
	Cache    bool
	CacheTTL time.Duration
}

// A thing capable of downloading a file, optionally with caching
type Downloader interface {
	Get(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error)
}

// Response holds what the interstitial strategies need from a single
// GET: the body, its media type and any cookies set.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Cookies     []*http.Cookie
	Body        []byte
}

// IsHTML reports whether the response declares an HTML media type.
func (r *Response) IsHTML() bool {
	mediaType, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(r.ContentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// Issues a single GET and returns the full response. Non-200 status is
// an error. If client is nil, a client bounded by options.Timeout is
// used.
func Fetch(
	ctx context.Context,
	client *http.Client,
	url string,
	headers map[string]string,
	cookies []*http.Cookie,
	options GetOptions,
) (*Response, error) {
	if client == nil {
		client = &http.Client{
			Timeout: options.Timeout,
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, v := range headers {
		req.Header.Add(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if options.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, int64(options.MaxSize)+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if options.MaxSize > 0 && len(body) > options.MaxSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, options.MaxSize)
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Cookies:     resp.Cookies(),
		Body:        body,
	}, nil
}

// Gets a file. Doesn't cache. Provided as convenience for
// implementing custom Downloaders.
func HTTPGet(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error) {
	resp, err := Fetch(ctx, nil, url, headers, nil, options)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
