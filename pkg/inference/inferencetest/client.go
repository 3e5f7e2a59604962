// Package inferencetest provides scripted inference clients for tests.
package inferencetest

import (
	"context"
	"sync"

	"github.com/harun/parley/pkg/inference"
)

// Script describes one scripted completion: fragments are emitted in order,
// then Err (if set) stops the stream. StartErr fails StreamComplete itself.
type Script struct {
	Fragments []string
	Err       error
	StartErr  error

	// Block, when set, is waited on before the first fragment. The stream
	// also stops early when the request context is cancelled.
	Block <-chan struct{}
}

// Client replays scripts in order and records every request.
type Client struct {
	mu       sync.Mutex
	scripts  []Script
	requests []inference.Request
	name     string
}

// NewClient creates a scripted client. When scripts run out the last one is reused.
func NewClient(scripts ...Script) *Client {
	return &Client{scripts: scripts, name: "scripted"}
}

// Provider returns the provider name
func (c *Client) Provider() string {
	return c.name
}

// StreamComplete records the request and replays the next script.
func (c *Client) StreamComplete(ctx context.Context, request inference.Request) (inference.Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, request)
	script := Script{}
	if len(c.scripts) > 0 {
		script = c.scripts[0]
		if len(c.scripts) > 1 {
			c.scripts = c.scripts[1:]
		}
	}
	c.mu.Unlock()

	if script.StartErr != nil {
		return nil, script.StartErr
	}
	return &stream{ctx: ctx, script: script, pos: -1}, nil
}

// Requests returns the requests received so far.
func (c *Client) Requests() []inference.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inference.Request(nil), c.requests...)
}

type stream struct {
	ctx    context.Context
	script Script
	pos    int
	cur    string
	err    error
	waited bool
	closed bool
}

func (s *stream) Next() bool {
	if s.err != nil || s.closed {
		return false
	}

	if !s.waited && s.script.Block != nil {
		s.waited = true
		select {
		case <-s.script.Block:
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return false
		}
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}
		s.pos++
		if s.pos >= len(s.script.Fragments) {
			s.err = s.script.Err
			return false
		}
		if f := s.script.Fragments[s.pos]; f != "" {
			s.cur = f
			return true
		}
	}
}

func (s *stream) Fragment() string { return s.cur }

func (s *stream) Err() error { return s.err }

func (s *stream) Close() error {
	s.closed = true
	return nil
}
