package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURLTemplate = "http://ecn.t3.tiles.virtualearth.net/tiles/a{quadkey}.jpeg?g=1"
	DefaultUserAgent   = "TileProxyServer/1.0"
	DefaultTimeout     = 10 * time.Second

	QuadkeyPlaceholder = "{quadkey}"
)

type Kind int

const (
	// KindRejected means upstream answered with a non-2xx status.
	KindRejected Kind = iota
	// KindUnreachable means no complete response arrived: DNS, connect, timeout, short body.
	KindUnreachable
	// KindInternal means the request could not be built.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindUnreachable:
		return "unreachable"
	default:
		return "internal"
	}
}

// Error describes a failed fetch. StatusCode and Reason are only set for KindRejected.
type Error struct {
	Kind       Kind
	StatusCode int
	Reason     string
	URL        string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("upstream rejected %s: %d %s", e.URL, e.StatusCode, e.Reason)
	case KindUnreachable:
		return fmt.Sprintf("upstream unreachable %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("upstream request %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Tile is a fetched payload, kept only for the duration of one request.
type Tile struct {
	Data        []byte
	ContentType string
	Elapsed     time.Duration
	URL         string
}

type Options struct {
	URLTemplate string
	Timeout     time.Duration
	UserAgent   string
	// Transport overrides the default transport; tests point it at a stub.
	Transport http.RoundTripper
}

type Client struct {
	httpClient  *http.Client
	urlTemplate string
	userAgent   string
}

func New(opts Options) *Client {
	if opts.URLTemplate == "" {
		opts.URLTemplate = DefaultURLTemplate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		urlTemplate: opts.URLTemplate,
		userAgent:   opts.UserAgent,
	}
}

// URL fills the template with the given quadkey.
func (c *Client) URL(quadkey string) string {
	return strings.ReplaceAll(c.urlTemplate, QuadkeyPlaceholder, quadkey)
}

// Fetch makes a single GET for the tile. There is no retry.
func (c *Client) Fetch(ctx context.Context, quadkey string) (*Tile, error) {
	url := c.URL(quadkey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindInternal, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &Error{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Reason:     reason(resp),
			URL:        url,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	return &Tile{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Elapsed:     time.Since(start),
		URL:         url,
	}, nil
}

// reason returns the status text upstream sent, e.g. "Not Found" from "404 Not Found".
func reason(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if text := strings.TrimPrefix(resp.Status, prefix); text != resp.Status && text != "" {
		return text
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return "Unknown status"
}
