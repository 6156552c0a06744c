package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultDriveBaseURL = "https://drive.google.com/uc"
	DefaultDriveTimeout = 60 * time.Second
	DefaultDriveMaxSize = 800 << 20 // 800 MB
)

// ErrInterstitial is wrapped by FetchError when every strategy for
// getting past a confirmation page has been exhausted.
var ErrInterstitial = errors.New("confirmation page could not be bypassed")

var errNoCandidate = errors.New("no candidate found")

// FetchError records why each interstitial strategy failed.
type FetchError struct {
	URL      string
	Attempts []error
}

func (e *FetchError) Error() string {
	msgs := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msgs = append(msgs, a.Error())
	}
	return fmt.Sprintf("fetching %s: %s (%s)", e.URL, ErrInterstitial, strings.Join(msgs, "; "))
}

func (e *FetchError) Unwrap() error {
	return ErrInterstitial
}

// Drive downloads files from a shared-drive host that may answer with
// an HTML "virus scan" confirmation page instead of the file.
//
// Getting past that page is best-effort scraping of an undocumented,
// unversioned page: a fixed chain of strategies is tried once each, in
// order, and the first non-HTML response wins. There are no retries.
type Drive struct {
	BaseURL string
	Options GetOptions

	// Optional. If nil, a client bounded by Options.Timeout is
	// created per request.
	Client *http.Client
}

func NewDrive() *Drive {
	return &Drive{
		BaseURL: DefaultDriveBaseURL,
		Options: GetOptions{
			Timeout: DefaultDriveTimeout,
			MaxSize: DefaultDriveMaxSize,
		},
	}
}

// Canonical download URL for a file handle.
func (d *Drive) URL(handle string) string {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return d.BaseURL + "?" + url.Values{"export": {"download"}, "id": {handle}}.Encode()
	}
	q := u.Query()
	q.Set("export", "download")
	q.Set("id", handle)
	u.RawQuery = q.Encode()
	return u.String()
}

// Downloads the file behind handle using the Drive's default options.
func (d *Drive) FetchHandle(ctx context.Context, handle string) ([]byte, error) {
	return d.Get(ctx, d.URL(handle), nil, d.Options)
}

func (d *Drive) Get(
	ctx context.Context,
	rawURL string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	first, err := Fetch(ctx, d.Client, rawURL, headers, nil, options)
	if err != nil {
		return nil, err
	}
	if !first.IsHTML() {
		return first.Body, nil
	}

	it := &interstitial{
		drive:     d,
		canonical: rawURL,
		headers:   headers,
		options:   options,
		page:      first,
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(first.Body))
	if err == nil {
		it.doc = doc
	}

	fetchErr := &FetchError{URL: rawURL}
	for _, s := range strategies {
		resp, err := s.attempt(ctx, it)
		if err == nil && !resp.IsHTML() {
			return resp.Body, nil
		}
		if err == nil {
			err = fmt.Errorf("still html at %s", resp.URL)
		}
		log.Printf("[FETCH] strategy=%s url=%s err=%v", s.name, rawURL, err)
		fetchErr.Attempts = append(fetchErr.Attempts, fmt.Errorf("%s: %w", s.name, err))
	}

	return nil, fetchErr
}

// State shared by the strategies: the original request and the page
// that came back instead of the file.
type interstitial struct {
	drive     *Drive
	canonical string
	headers   map[string]string
	options   GetOptions
	page      *Response
	doc       *goquery.Document
}

func (it *interstitial) get(ctx context.Context, target string, cookies []*http.Cookie) (*Response, error) {
	return Fetch(ctx, it.drive.Client, target, it.headers, cookies, it.options)
}

// Resolves ref against the URL of the interstitial page.
func (it *interstitial) resolve(ref string) (*url.URL, error) {
	base, err := url.Parse(it.page.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing page url: %w", err)
	}
	target, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", ref, err)
	}
	return target, nil
}

func (it *interstitial) withConfirm(token string) (string, error) {
	u, err := url.Parse(it.canonical)
	if err != nil {
		return "", fmt.Errorf("parsing canonical url: %w", err)
	}
	q := u.Query()
	q.Set("confirm", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type strategy struct {
	name    string
	attempt func(ctx context.Context, it *interstitial) (*Response, error)
}

// Tried in this order.
var strategies = []strategy{
	{"form", formStrategy},
	{"link", linkStrategy},
	{"token", tokenStrategy},
	{"cookie", cookieStrategy},
}

// Submits the download form: its action URL with the hidden inputs as
// query parameters.
func formStrategy(ctx context.Context, it *interstitial) (*Response, error) {
	if it.doc == nil {
		return nil, errNoCandidate
	}
	forms := it.doc.Find("form")
	if forms.Length() == 0 {
		return nil, errNoCandidate
	}

	form := forms.FilterFunction(func(_ int, s *goquery.Selection) bool {
		hint := strings.ToLower(s.AttrOr("action", "") + " " + s.AttrOr("id", ""))
		return strings.Contains(hint, "download")
	}).First()
	if form.Length() == 0 {
		form = forms.First()
	}

	target, err := it.resolve(form.AttrOr("action", ""))
	if err != nil {
		return nil, err
	}

	q := target.Query()
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		if !strings.EqualFold(in.AttrOr("type", ""), "hidden") {
			return
		}
		name := in.AttrOr("name", "")
		if name == "" {
			return
		}
		q.Set(name, in.AttrOr("value", ""))
	})
	target.RawQuery = q.Encode()

	return it.get(ctx, target.String(), it.page.Cookies)
}

// Follows a direct download link.
func linkStrategy(ctx context.Context, it *interstitial) (*Response, error) {
	if it.doc == nil {
		return nil, errNoCandidate
	}

	href := ""
	it.doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h := a.AttrOr("href", "")
		if a.AttrOr("id", "") == "uc-download-link" ||
			strings.Contains(h, "export=download") ||
			strings.Contains(h, "confirm=") {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return nil, errNoCandidate
	}

	target, err := it.resolve(href)
	if err != nil {
		return nil, err
	}

	return it.get(ctx, target.String(), it.page.Cookies)
}

var confirmTokenRe = regexp.MustCompile(`confirm=([0-9A-Za-z_\-]+)`)

// Appends a confirm token found anywhere in the page to the canonical
// URL.
func tokenStrategy(ctx context.Context, it *interstitial) (*Response, error) {
	m := confirmTokenRe.FindSubmatch(it.page.Body)
	if m == nil {
		return nil, errNoCandidate
	}

	target, err := it.withConfirm(string(m[1]))
	if err != nil {
		return nil, err
	}

	return it.get(ctx, target, it.page.Cookies)
}

// Uses the confirm token carried by a cookie from the first response.
func cookieStrategy(ctx context.Context, it *interstitial) (*Response, error) {
	token := ""
	for _, c := range it.page.Cookies {
		if strings.HasPrefix(c.Name, "confirm") || strings.HasPrefix(c.Name, "download_warning") {
			token = c.Value
			break
		}
	}
	if token == "" {
		return nil, errNoCandidate
	}

	target, err := it.withConfirm(token)
	if err != nil {
		return nil, err
	}

	return it.get(ctx, target, it.page.Cookies)
}
