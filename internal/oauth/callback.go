package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/rs/zerolog"
)

const (
	// DefaultCallbackPort is the fixed port registered as the redirect URI.
	DefaultCallbackPort = 54321
	// CallbackPath is the only path the listener answers.
	CallbackPath = "/callback"
	// DefaultCloseGrace is how long the listener stays up after answering.
	DefaultCloseGrace = 3 * time.Second
)

var (
	// ErrCallbackTimeout is returned when no callback arrives in time.
	ErrCallbackTimeout = errors.New("oauth callback timed out")
	// ErrListenerClosed is returned by Wait when the listener was closed
	// before a callback arrived, for example by a newer flow.
	ErrListenerClosed = errors.New("oauth callback listener closed")
)

// CallbackError is the error a provider reported through the redirect.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return "authorization failed: " + e.Code
}

// CallbackResult is a successful redirect.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackServer binds the local redirect listener. Only one listener is
// bound at a time; starting a new one closes the previous one first.
type CallbackServer struct {
	port  int
	grace time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	active *Pending
}

// NewCallbackServer creates a callback server for port. Zero values select
// DefaultCallbackPort and DefaultCloseGrace.
func NewCallbackServer(port int, grace time.Duration) *CallbackServer {
	if port == 0 {
		port = DefaultCallbackPort
	}
	if grace == 0 {
		grace = DefaultCloseGrace
	}
	return &CallbackServer{port: port, grace: grace, log: logging.Component("oauth")}
}

// RedirectURL is the redirect URI to register with providers.
func (s *CallbackServer) RedirectURL() string {
	return "http://localhost:" + strconv.Itoa(s.port) + CallbackPath
}

// Listen closes any stale listener and binds a new one. Binding retries
// with backoff while the OS releases the port.
func (s *CallbackServer) Listen(ctx context.Context) (*Pending, error) {
	s.mu.Lock()
	stale := s.active
	s.active = nil
	s.mu.Unlock()
	if stale != nil {
		s.log.Debug().Msg("closing stale callback listener")
		stale.Close()
		<-stale.Done()
	}

	addr := net.JoinHostPort("localhost", strconv.Itoa(s.port))
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	b.Reset()

	var ln net.Listener
	err := backoff.Retry(func() error {
		var err error
		ln, err = net.Listen("tcp", addr)
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("bind callback listener on %s: %w", addr, err)
	}

	p := &Pending{
		redirectURL: s.RedirectURL(),
		grace:       s.grace,
		results:     make(chan outcome, 1),
		done:        make(chan struct{}),
		log:         s.log,
	}
	p.srv = &http.Server{Handler: p.routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		defer close(p.done)
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn().Err(err).Msg("callback listener stopped")
		}
	}()

	s.mu.Lock()
	s.active = p
	s.mu.Unlock()
	s.log.Debug().Str("addr", addr).Msg("callback listener started")
	return p, nil
}

type outcome struct {
	result CallbackResult
	err    error
}

// Pending is one bound listener waiting for a single redirect.
type Pending struct {
	redirectURL string
	grace       time.Duration
	srv         *http.Server
	results     chan outcome
	done        chan struct{}
	log         zerolog.Logger

	acceptOnce sync.Once
	closeOnce  sync.Once
}

// RedirectURL returns the redirect URI served by this listener.
func (p *Pending) RedirectURL() string { return p.redirectURL }

// Done is closed once the listener has released its port.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Close shuts the listener down immediately.
func (p *Pending) Close() {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := p.srv.Shutdown(ctx); err != nil {
			_ = p.srv.Close()
		}
	})
}

// Wait blocks until a redirect arrives, ctx is done, or the listener is
// closed. On timeout the listener is closed.
func (p *Pending) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case o := <-p.results:
		return o.result, o.err
	case <-ctx.Done():
		p.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return CallbackResult{}, ErrCallbackTimeout
		}
		return CallbackResult{}, ctx.Err()
	case <-p.done:
		select {
		case o := <-p.results:
			return o.result, o.err
		default:
			return CallbackResult{}, ErrListenerClosed
		}
	}
}

func (p *Pending) routes() http.Handler {
	r := chi.NewRouter()
	r.Get(CallbackPath, p.handleCallback)
	r.NotFound(badRequest)
	r.MethodNotAllowed(badRequest)
	return r
}

func badRequest(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "bad request", http.StatusBadRequest)
}

func (p *Pending) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var o outcome
	switch {
	case q.Get("code") != "":
		o.result = CallbackResult{Code: q.Get("code"), State: q.Get("state")}
	case q.Get("error") != "":
		o.err = &CallbackError{Code: q.Get("error"), Description: q.Get("error_description")}
	default:
		badRequest(w, r)
		return
	}

	accepted := false
	p.acceptOnce.Do(func() {
		accepted = true
		p.results <- o
	})
	if !accepted {
		http.Error(w, "authorization already completed", http.StatusConflict)
		return
	}

	if o.err != nil {
		renderPage(w, http.StatusOK, pageData{
			Title:   "Authentication failed",
			Message: "Authentication failed: " + o.err.(*CallbackError).Code,
			Failed:  true,
		})
	} else {
		renderPage(w, http.StatusOK, pageData{
			Title:   "Authentication successful",
			Message: "Authentication successful! You can close this window now.",
		})
	}

	time.AfterFunc(p.grace, p.Close)
}

type pageData struct {
	Title   string
	Message string
	Failed  bool
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1 class="{{if .Failed}}failed{{else}}ok{{end}}">{{.Title}}</h1>
<p id="message">{{.Message}}</p>
</body>
</html>
`))

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, data)
}
