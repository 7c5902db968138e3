// Package fixtures serves recorded provider payloads to adapter tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

//go:embed testdata/*
var files embed.FS

// Load decodes the named JSON fixture file into dest.
func Load(name string, dest interface{}) error {
	data, err := Read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}

// Read returns the raw bytes for a fixture file.
func Read(name string) ([]byte, error) {
	data, err := files.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", name, err)
	}
	return data, nil
}

// Request is one call captured by an Upstream.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Upstream is a fake provider endpoint that replies with a fixture and records calls.
type Upstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
}

// NewUpstream starts a server answering every request with the named fixture and status.
func NewUpstream(name string, status int) (*Upstream, error) {
	body, err := Read(name)
	if err != nil {
		return nil, err
	}
	u := &Upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.requests = append(u.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   payload,
		})
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	return u, nil
}

// Requests returns a copy of the captured calls.
func (u *Upstream) Requests() []Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Request, len(u.requests))
	copy(out, u.requests)
	return out
}
