// Package scraper fetches a web page and reduces it to the readable text a
// record can ingest. Connections to private, loopback and link-local
// addresses are refused at dial time, so a redirect or a DNS answer cannot
// reach an internal service.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html/charset"
)

var (
	ErrInvalidURL      = errors.New("only absolute http and https URLs are supported")
	ErrBlockedAddress  = errors.New("private and local addresses are not allowed")
	ErrTooManyRedirect = errors.New("too many redirects")
	ErrTooLarge        = errors.New("page is too large")
	ErrUnsupported     = errors.New("unsupported content type")
	ErrNoContent       = errors.New("no extractable text content")
)

// StatusError is a non-200 answer from the remote server.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote server returned HTTP %d", e.StatusCode)
}

type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
	// MaxTextTokens caps the extracted text; longer pages are cut.
	MaxTextTokens int
	UserAgent     string
	// AllowPrivate disables the address guard. Tests only.
	AllowPrivate bool
}

func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Second,
		MaxRedirects:  3,
		MaxBytes:      5 * 1024 * 1024,
		MaxTextTokens: 50_000,
		UserAgent:     "OpenRecordsBot/1.0",
	}
}

// Page is the readable part of a fetched page.
type Page struct {
	URL   string
	Title string
	Text  string
}

type Scraper struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Scraper {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaults.MaxBytes
	}
	if opts.MaxTextTokens <= 0 {
		opts.MaxTextTokens = defaults.MaxTextTokens
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	dialer := &net.Dialer{Timeout: opts.Timeout}
	if !opts.AllowPrivate {
		dialer.Control = guard
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
	}

	s := &Scraper{opts: opts}
	s.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > opts.MaxRedirects {
				return ErrTooManyRedirect
			}
			_, err := s.Validate(req.URL.String())
			return err
		},
	}
	return s
}

// Validate applies ValidateURL, or only the syntax checks when private
// addresses are allowed.
func (s *Scraper) Validate(raw string) (*url.URL, error) {
	if s.opts.AllowPrivate {
		return parseURL(raw)
	}
	return ValidateURL(raw)
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" || u.User != nil {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// ValidateURL accepts absolute http(s) URLs whose host is not an obviously
// local name or address. The dial guard still checks every resolved address.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := parseURL(raw)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, ErrBlockedAddress
	}
	if ip := net.ParseIP(host); ip != nil && blocked(ip) {
		return nil, ErrBlockedAddress
	}
	return u, nil
}

var carrierNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func blocked(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		carrierNAT.Contains(ip)
}

func guard(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || blocked(ip) {
		return ErrBlockedAddress
	}
	return nil
}

// Fetch downloads rawURL and extracts its text. HTML pages keep their main
// content and heading levels; plain text is taken as is.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := s.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		// The redirect policy and dial guard errors arrive wrapped.
		for _, target := range []error{ErrBlockedAddress, ErrTooManyRedirect, ErrInvalidURL} {
			if errors.Is(err, target) {
				return nil, target
			}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > s.opts.MaxBytes {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	isHTML := mediaType == "text/html" || mediaType == "application/xhtml+xml"
	if !isHTML && mediaType != "text/plain" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mediaType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > s.opts.MaxBytes {
		return nil, ErrTooLarge
	}

	decoded, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: resp.Request.URL.String()}
	if isHTML {
		page.Title, page.Text, err = extract(decoded)
		if err != nil {
			return nil, err
		}
	} else {
		raw, err := io.ReadAll(decoded)
		if err != nil {
			return nil, err
		}
		page.Text = string(raw)
	}

	page.Text = Sanitize(page.Text, s.opts.MaxTextTokens)
	page.Title = Sanitize(page.Title, 0)
	if page.Text == "" {
		return nil, ErrNoContent
	}
	return page, nil
}
