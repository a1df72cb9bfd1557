// Package dss is a client for the Data Storage System submission API.
package dss

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

const (
	DefaultReplica    = "aws"
	DefaultCreatorUID = 20
)

// Config describes how to reach a store endpoint.
type Config struct {
	Endpoint   string // e.g. https://dss.example.org/v1
	Replica    string
	CreatorUID int

	AsyncCopyTimeout time.Duration
	PollInitial      time.Duration
	PollMax          time.Duration
	// HeadTimeout bounds each HEAD while waiting for a copy; zero disables.
	HeadTimeout time.Duration

	// TokenSource adds a bearer token to every request when set.
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
}

func (c *Config) setDefaults() {
	if c.Replica == "" {
		c.Replica = DefaultReplica
	}
	if c.CreatorUID == 0 {
		c.CreatorUID = DefaultCreatorUID
	}
	if c.AsyncCopyTimeout <= 0 {
		c.AsyncCopyTimeout = 20 * time.Minute
	}
	if c.PollInitial <= 0 {
		c.PollInitial = time.Second
	}
	if c.PollMax <= 0 {
		c.PollMax = 10 * time.Second
	}
}

// Client talks to one store endpoint.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	log  zerolog.Logger
}

// New validates cfg and builds a client.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	cfg.setDefaults()

	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid dss endpoint %q", cfg.Endpoint)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.TokenSource != nil {
		transport := hc.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		wrapped := *hc
		wrapped.Transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource), Base: transport}
		hc = &wrapped
	}

	return &Client{cfg: cfg, base: base, http: hc, log: log}, nil
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.base.String()
}

// Replica returns the replica bundles are registered in.
func (c *Client) Replica() string {
	return c.cfg.Replica
}

// FileOutcome tells how the store handled a file registration.
type FileOutcome string

const (
	FileExisted     FileOutcome = "existed"
	FileCreated     FileOutcome = "created"
	FileCopying     FileOutcome = "copying"
)

// PutFileResult is the store's answer to a file registration.
type PutFileResult struct {
	Version string
	Outcome FileOutcome
}

type putFileRequest struct {
	SourceURL  string `json:"source_url"`
	CreatorUID int    `json:"creator_uid"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// PutFile registers a staged object as file uuid at version. A 202 answer
// means the store copies asynchronously; the caller waits with AwaitFile.
func (c *Client) PutFile(ctx context.Context, uuid, version, sourceURL string) (*PutFileResult, error) {
	q := url.Values{"version": {version}}
	resp, body, err := c.do(ctx, http.MethodPut, "files/"+uuid, q, putFileRequest{SourceURL: sourceURL, CreatorUID: c.cfg.CreatorUID})
	if err != nil {
		return nil, err
	}

	var v versionResponse
	_ = json.Unmarshal(body, &v)
	if v.Version == "" {
		v.Version = version
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &PutFileResult{Version: v.Version, Outcome: FileExisted}, nil
	case http.StatusCreated:
		return &PutFileResult{Version: v.Version, Outcome: FileCreated}, nil
	case http.StatusAccepted:
		return &PutFileResult{Version: v.Version, Outcome: FileCopying}, nil
	}
	return nil, c.statusError(resp.StatusCode, body, "put file %s", uuid)
}

// AwaitFile polls HEAD /files/{uuid} with capped exponential waits until the
// file is present. The whole wait is bounded by AsyncCopyTimeout and each
// HEAD by HeadTimeout.
func (c *Client) AwaitFile(ctx context.Context, uuid, version, sourceURL string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.PollInitial
	eb.MaxInterval = c.cfg.PollMax
	eb.Multiplier = 1.618
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = c.cfg.AsyncCopyTimeout
	eb.Reset()

	started := time.Now()
	c.log.Info().Str("file", uuid).Str("source", sourceURL).Msg("async copy started")

	errPending := errors.New("copy pending")
	err := backoff.Retry(func() error {
		ok, err := c.headWithin(ctx, uuid, version)
		switch {
		case err != nil && domain.IsTransient(err):
			return err
		case err != nil:
			return backoff.Permanent(err)
		case !ok:
			return errPending
		}
		return nil
	}, backoff.WithContext(eb, ctx))

	switch {
	case err == nil:
		c.log.Info().Str("file", uuid).Dur("elapsed", time.Since(started)).Msg("async copy finished")
		return nil
	case errors.Is(err, errPending), domain.IsTransient(err):
		return domain.NewError(domain.KindSubmission, "file %s from %s: async copy not finished after %s", uuid, sourceURL, c.cfg.AsyncCopyTimeout)
	}
	return err
}

func (c *Client) headWithin(ctx context.Context, uuid, version string) (bool, error) {
	if c.cfg.HeadTimeout <= 0 {
		return c.HeadFile(ctx, uuid, version)
	}
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HeadTimeout)
	defer cancel()
	return c.HeadFile(hctx, uuid, version)
}

// HeadFile reports whether file uuid at version is present.
func (c *Client) HeadFile(ctx context.Context, uuid, version string) (bool, error) {
	q := url.Values{"replica": {c.cfg.Replica}}
	if version != "" {
		q.Set("version", version)
	}
	resp, body, err := c.do(ctx, http.MethodHead, "files/"+uuid, q, nil)
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, c.statusError(resp.StatusCode, body, "head file %s", uuid)
}

// BundleFile is one entry of a bundle registration.
type BundleFile struct {
	UUID    string `json:"uuid"`
	Version string `json:"version"`
	Name    string `json:"name"`
	Indexed bool   `json:"indexed"`
}

type putBundleRequest struct {
	CreatorUID int          `json:"creator_uid"`
	Files      []BundleFile `json:"files"`
}

// PutBundleResult is the store's answer to a bundle registration.
type PutBundleResult struct {
	Version string
	Existed bool
}

// PutBundle registers bundle uuid at version. An identical existing bundle is
// success; a conflicting one is a SubmissionError.
func (c *Client) PutBundle(ctx context.Context, uuid, version string, files []BundleFile) (*PutBundleResult, error) {
	q := url.Values{"version": {version}, "replica": {c.cfg.Replica}}
	resp, body, err := c.do(ctx, http.MethodPut, "bundles/"+uuid, q, putBundleRequest{CreatorUID: c.cfg.CreatorUID, Files: files})
	if err != nil {
		return nil, err
	}

	var v versionResponse
	_ = json.Unmarshal(body, &v)
	if v.Version == "" {
		v.Version = version
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &PutBundleResult{Version: v.Version, Existed: true}, nil
	case http.StatusCreated:
		return &PutBundleResult{Version: v.Version}, nil
	}
	return nil, c.statusError(resp.StatusCode, body, "put bundle %s", uuid)
}

// GetBundle reports whether bundle uuid exists. An empty version asks for the
// latest one. It never modifies the store.
func (c *Client) GetBundle(ctx context.Context, uuid, version string) (bool, error) {
	q := url.Values{"replica": {c.cfg.Replica}}
	if version != "" {
		q.Set("version", version)
	}
	resp, body, err := c.do(ctx, http.MethodGet, "bundles/"+uuid, q, nil)
	if err != nil {
		return false, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, c.statusError(resp.StatusCode, body, "get bundle %s", uuid)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload any) (*http.Response, []byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = q.Encode()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, transportError(method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, domain.Wrap(domain.KindTransient, err, "%s %s: read response", method, u.Path)
	}

	c.log.Debug().Str("method", method).Str("path", u.Path).Int("status", resp.StatusCode).Msg("dss call")
	return resp, data, nil
}

// statusError classifies an unexpected response.
func (c *Client) statusError(status int, body []byte, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return domain.Wrap(domain.KindTransient, fmt.Errorf("status %d: %s", status, detail), "%s", msg)
	case status == http.StatusConflict:
		return domain.NewError(domain.KindSubmission, "%s: conflicts with existing content: %s", msg, detail)
	}
	return domain.NewError(domain.KindSubmission, "%s: unexpected status %d: %s", msg, status, detail)
}

func transportError(method, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Wrap(domain.KindTransient, err, "%s %s", method, path)
}
