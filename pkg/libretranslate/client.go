// Package libretranslate is a small client for the LibreTranslate HTTP API
// that tries a list of mirrors in order.
package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrAllMirrorsFailed is returned when every mirror timed out or was unreachable.
var ErrAllMirrorsFailed = goerr.New("translation timed out for all mirrors")

type Language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

type Client struct {
	mirrors    []string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

// WithTimeout bounds each request to one mirror.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// NewClient takes mirror base URLs such as "https://libretranslate.com/".
func NewClient(mirrors []string, opts ...Option) *Client {
	c := &Client{timeout: 5 * time.Second, httpClient: http.DefaultClient}
	for _, m := range mirrors {
		if m = strings.TrimSpace(m); m != "" {
			c.mirrors = append(c.mirrors, strings.TrimRight(m, "/"))
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mirrors returns the configured base URLs.
func (c *Client) Mirrors() []string { return append([]string(nil), c.mirrors...) }

// Translate detects the source language and translates text into target.
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	body := map[string]string{"q": text, "source": "auto", "target": target, "format": "text"}
	if c.apiKey != "" {
		body["api_key"] = c.apiKey
	}
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := c.each(ctx, http.MethodPost, "/translate", body, &out); err != nil {
		return "", err
	}
	return out.TranslatedText, nil
}

// Languages lists the languages the first answering mirror supports.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	var out []Language
	if err := c.each(ctx, http.MethodGet, "/languages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// each tries the mirrors in order. Only timeouts and connection failures move
// on to the next mirror; an HTTP error status ends the attempt.
func (c *Client) each(ctx context.Context, method, endpoint string, body, out any) error {
	if len(c.mirrors) == 0 {
		return goerr.New("no translation mirrors configured")
	}
	var last error
	for _, base := range c.mirrors {
		err := c.do(ctx, method, base+endpoint, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return goerr.Wrap(ctx.Err(), "translation cancelled")
		}
		if !retryable(err) {
			return err
		}
		last = err
	}
	return goerr.Wrap(ErrAllMirrorsFailed, "all mirrors failed", goerr.V("mirrors", len(c.mirrors)), goerr.V("last", last.Error()))
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	var req *http.Request
	var err error
	if rd != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, rd)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &mirrorError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return goerr.New("translation failed: HTTP "+resp.Status, goerr.V("url", url))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "bad response from translation mirror", goerr.V("url", url))
	}
	return nil
}

// mirrorError marks a transport-level failure of one mirror.
type mirrorError struct{ err error }

func (e *mirrorError) Error() string { return e.err.Error() }
func (e *mirrorError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var me *mirrorError
	return errors.As(err, &me)
}
