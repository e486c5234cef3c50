package membersync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

// ErrStreamEnded is reported by a stream the server closed.
var ErrStreamEnded = errors.New("membersync: change stream ended")

// maxEventBytes bounds a single event line.
const maxEventBytes = 1 << 20

// Option configures an HTTPRemote.
type Option func(*HTTPRemote)

// WithHTTPClient sets the client used for CRUD calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *HTTPRemote) {
		r.http = hc
	}
}

// WithStreamClient sets the client used for the change stream. It must not
// carry a Timeout, which would cut the stream.
func WithStreamClient(hc *http.Client) Option {
	return func(r *HTTPRemote) {
		r.stream = hc
	}
}

// WithRemoteLogger sets the logger used by change streams.
func WithRemoteLogger(log *logger.Logger) Option {
	return func(r *HTTPRemote) {
		r.logger = log
	}
}

// HTTPRemote talks to the member store API (GET/POST/PUT/DELETE /members)
// and reads change notifications from /members/events.
type HTTPRemote struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *logger.Logger
}

// NewHTTPRemote creates a remote for an API base such as http://localhost:3000/v1.
func NewHTTPRemote(baseURL string, opts ...Option) *HTTPRemote {
	r := &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Nop()
	}
	r.logger = r.logger.WithComponent("HTTPRemote")
	return r
}

// List fetches the collection, newest first.
func (r *HTTPRemote) List(ctx context.Context) ([]models.Member, error) {
	var resp models.MembersResponse
	if err := r.do(ctx, http.MethodGet, r.membersURL(""), nil, &resp); err != nil {
		return nil, eris.Wrap(err, "membersync: list members")
	}
	return resp.Members, nil
}

// Create sends a draft and returns the stored member.
func (r *HTTPRemote) Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error) {
	var resp models.MemberResponse
	if err := r.do(ctx, http.MethodPost, r.membersURL(""), draft, &resp); err != nil {
		return nil, eris.Wrap(err, "membersync: create member")
	}
	return &resp.Member, nil
}

// Update sends a partial patch for id.
func (r *HTTPRemote) Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	var resp models.MemberResponse
	if err := r.do(ctx, http.MethodPut, r.membersURL(id), patch, &resp); err != nil {
		return nil, eris.Wrapf(err, "membersync: update member %s", id)
	}
	return &resp.Member, nil
}

// Delete removes id.
func (r *HTTPRemote) Delete(ctx context.Context, id string) error {
	var resp models.MessageResponse
	if err := r.do(ctx, http.MethodDelete, r.membersURL(id), nil, &resp); err != nil {
		return eris.Wrapf(err, "membersync: delete member %s", id)
	}
	return nil
}

// Subscribe opens the change stream. The stream ends when ctx is done,
// Close is called, or the connection drops.
func (r *HTTPRemote) Subscribe(ctx context.Context) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/members/events", nil)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "membersync: build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := r.stream.Do(req)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "membersync: open change stream")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, eris.Wrap(decodeRemoteError(resp), "membersync: open change stream")
	}

	s := &sseStream{
		events: make(chan models.ChangeEvent, 64),
		body:   resp.Body,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: r.logger,
	}
	go s.read(ctx)
	return s, nil
}

func (r *HTTPRemote) membersURL(id string) string {
	u := r.baseURL + "/members"
	if id != "" {
		u += "?" + url.Values{"id": {id}}.Encode()
	}
	return u
}

func (r *HTTPRemote) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeRemoteError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// decodeRemoteError reads the {"error": "..."} envelope when there is one.
func decodeRemoteError(resp *http.Response) error {
	var envelope models.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		envelope.Error = strings.TrimSpace(string(raw))
	}
	return &RemoteError{StatusCode: resp.StatusCode, Message: envelope.Error}
}

// sseStream parses a text/event-stream body into change events.
type sseStream struct {
	events chan models.ChangeEvent
	body   io.ReadCloser
	cancel context.CancelFunc
	done   chan struct{}
	logger *logger.Logger

	mu  sync.Mutex
	err error
}

func (s *sseStream) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *sseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the reader and waits for it to exit.
func (s *sseStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *sseStream) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// blank line ends an event
			if len(data) > 0 {
				payload := strings.Join(data, "\n")
				data = data[:0]

				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(payload), &ev); err != nil {
					s.logger.Warn().Err(err).Str("payload", payload).Msg("Skipping undecodable change event")
					continue
				}
				select {
				case s.events <- ev:
				case <-ctx.Done():
					s.setErr(ctx.Err())
					return
				}
			}
		case strings.HasPrefix(line, ":"):
			// comment, used for keepalives
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	switch {
	case ctx.Err() != nil:
		s.setErr(ctx.Err())
	case scanner.Err() != nil:
		s.setErr(eris.Wrap(scanner.Err(), "membersync: read change stream"))
	default:
		s.setErr(ErrStreamEnded)
	}
}

func (s *sseStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
