// Package synth implements the streaming client for OpenAI-compatible speech
// endpoints, covering both the hosted OpenAI API and self-hosted Kokoro
// FastAPI servers.
//
// A [Client] owns one backend connection configuration ([Provider]) and turns
// a [Request] into a [Stream] of MP3 chunks. The error taxonomy is part of
// the contract: unreachable or non-2xx backends surface as [*NetworkError],
// context cancellation passes through unchanged so errors.Is(err,
// context.Canceled) holds at every layer, and anything else is wrapped in a
// generic [*SynthesisError].
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// defaultTimeout bounds one full synthesis cycle: connect, request and
// reading the complete response body.
const defaultTimeout = 30 * time.Second

// readBufSize is the read granularity for streamed audio.
const readBufSize = 32 * 1024

// errorBodyLimit caps how much of an error response body is kept as the
// NetworkError message.
const errorBodyLimit = 512

var errStreamClosed = errors.New("synth: stream closed")

// Stream yields the MP3 audio of one synthesis call in the order the backend
// produced it. A Stream is single-consumer and not safe for concurrent use.
type Stream interface {
	// Next returns the next non-empty audio chunk. It returns io.EOF once
	// the backend finished the stream, the context error unchanged when the
	// call was cancelled, and a *NetworkError when the transport fails
	// mid-stream. After a non-nil error the stream is exhausted.
	Next() ([]byte, error)
	// Close releases the underlying connection. Safe to call more than once;
	// later calls return the first result.
	Close() error
}

// Client performs speech synthesis against a single configured backend.
// It is safe for concurrent use; each call gets its own Stream.
type Client struct {
	provider Provider
	httpc    *http.Client
	logger   *slog.Logger
}

// ClientOption is a functional option for [NewClient].
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client. The caller keeps
// responsibility for its timeout; the default client enforces the 30-second
// synthesis budget.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a Client for the given provider.
func NewClient(p Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: p,
		httpc:    &http.Client{Timeout: defaultTimeout},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Provider returns the backend configuration this client was built with.
func (c *Client) Provider() Provider { return c.provider }

// Synthesize POSTs req to the speech endpoint and returns the chunk stream.
// The caller must Close the returned stream exactly when done with it,
// including after mid-stream errors.
func (c *Client) Synthesize(ctx context.Context, req Request) (Stream, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, &SynthesisError{Err: errors.New("empty input text")}
	}
	if req.Voice == "" {
		return nil, &SynthesisError{Err: errors.New("no voice selected")}
	}

	body, err := json.Marshal(c.provider.payload(req))
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.url, bytes.NewReader(body))
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.provider.apiKey)
	}

	c.logger.Debug("requesting speech synthesis",
		"url", c.provider.url,
		"model", c.provider.model,
		"voice", req.Voice,
		"speed", req.Speed,
		"chars", len(req.Text),
	)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// The caller's cancellation always wins over transport errors, so a
		// cancelled request never masquerades as a backend failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, &NetworkError{Status: resp.StatusCode, Message: excerpt}
	}

	return &httpStream{ctx: ctx, body: resp.Body, buf: make([]byte, readBufSize)}, nil
}

// Close releases idle connections held by the client. Safe to call multiple
// times and concurrently with in-flight synthesis calls.
func (c *Client) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}

// readErrorBody returns a trimmed excerpt of an error response body.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ---- stream implementation ----

var _ Stream = (*httpStream)(nil)

// httpStream pulls chunks straight off the HTTP response body. Zero-byte
// reads are skipped so consumers never see an empty chunk.
type httpStream struct {
	ctx  context.Context
	body io.ReadCloser
	buf  []byte

	// err is the sticky terminal state; once set, Next keeps returning it.
	err error

	closeOnce sync.Once
	closeErr  error
}

func (s *httpStream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			if err != nil {
				// Final short read: deliver the bytes now, report the
				// terminal state on the next call.
				s.err = s.mapReadErr(err)
			}
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
		if err != nil {
			s.err = s.mapReadErr(err)
			return nil, s.err
		}
	}
}

func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		if s.err == nil {
			s.err = errStreamClosed
		}
	})
	return s.closeErr
}

func (s *httpStream) mapReadErr(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return &NetworkError{Err: err}
}
