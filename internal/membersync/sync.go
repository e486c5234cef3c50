package membersync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/cleaner"
	"github.com/evyataryagoni/membermap/internal/geocode"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

var (
	// ErrClosed is returned by operations on a closed Sync.
	ErrClosed = errors.New("membersync: closed")

	// ErrAddressNotFound is returned when a draft's address cannot be geocoded.
	ErrAddressNotFound = errors.New("could not locate address")
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Resolver turns an address into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, address string) (geocode.Entry, error)
}

// State is a snapshot of the local collection.
type State struct {
	Members []models.Member
	Loading bool
	Error   string // empty when the last operation succeeded
}

// SyncOption configures a Sync.
type SyncOption func(*Sync)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) SyncOption {
	return func(s *Sync) {
		s.logger = log
	}
}

// WithBackoff bounds the delay between stream reconnect attempts.
func WithBackoff(initial, limit time.Duration) SyncOption {
	return func(s *Sync) {
		s.minBackoff = initial
		s.maxBackoff = limit
	}
}

// WithResyncInterval reloads the full collection every d, catching
// notifications that never arrived. Zero disables it.
func WithResyncInterval(d time.Duration) SyncOption {
	return func(s *Sync) {
		s.resyncEvery = d
	}
}

// Sync mirrors the remote member collection.
type Sync struct {
	remote Remote
	logger *logger.Logger

	minBackoff  time.Duration
	maxBackoff  time.Duration
	resyncEvery time.Duration

	mu       sync.Mutex
	members  []models.Member
	loading  int
	errMsg   string
	loadSeq  uint64
	inFlight int                  // loads not yet finished
	pending  []models.ChangeEvent // events seen since the newest load started
	closed   bool
	changed  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts syncing: it opens the change stream and loads the collection.
func New(remote Remote, opts ...SyncOption) *Sync {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Sync{
		remote:     remote,
		logger:     logger.Nop(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		changed:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("MemberSync")

	s.wg.Add(1)
	go s.run()

	if s.resyncEvery > 0 {
		s.wg.Add(1)
		go s.resync()
	}
	return s
}

// State returns a copy of the current state.
func (s *Sync) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]models.Member, len(s.members))
	copy(members, s.members)
	return State{
		Members: members,
		Loading: s.loading > 0,
		Error:   s.errMsg,
	}
}

// Changed returns a channel closed on the next state change.
// Call it again after each wakeup.
func (s *Sync) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Load replaces the collection with a fresh, cleaned copy from the store.
// A load that finishes after a newer one started is discarded.
func (s *Sync) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loadSeq++
	seq := s.loadSeq
	s.inFlight++
	s.pending = nil
	s.loading++
	s.notifyLocked()
	s.mu.Unlock()

	members, err := s.remote.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked()
	s.loading--
	s.inFlight--

	if seq != s.loadSeq {
		s.logger.Debug().Uint64("load", seq).Err(err).Msg("Discarding superseded load")
		return err
	}

	if err != nil {
		s.errMsg = err.Error()
		s.logger.Warn().Err(err).Msg("Failed to load members")
		return err
	}

	s.members = cleaner.CleanAll(members)
	for _, ev := range s.pending {
		s.applyLocked(ev)
	}
	s.pending = nil
	s.errMsg = ""

	s.logger.Debug().Int("count", len(s.members)).Msg("Loaded members")
	return nil
}

// Create sends a draft to the store. The collection changes when the
// insert notification arrives.
func (s *Sync) Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error) {
	var created *models.Member
	err := s.track(func() error {
		var err error
		created, err = s.remote.Create(ctx, draft)
		return err
	})
	return created, err
}

// CreateFromAddress geocodes the draft's address, or "ville pays" when the
// address is empty, then creates the member.
func (s *Sync) CreateFromAddress(ctx context.Context, draft models.MemberDraft, resolver Resolver) (*models.Member, error) {
	var created *models.Member
	err := s.track(func() error {
		address := geocode.NormalizeAddress(draft.Address)
		if address == "" {
			address = geocode.NormalizeAddress(strings.Join([]string{draft.Ville, draft.Pays}, " "))
		}
		if address == "" {
			return ErrAddressNotFound
		}

		entry, err := resolver.Resolve(ctx, address)
		if err != nil {
			return eris.Wrap(err, "membersync: geocode address")
		}
		if !entry.Resolved {
			return ErrAddressNotFound
		}

		draft.Address = address
		draft.Latitude = entry.Coordinates.Latitude
		draft.Longitude = entry.Coordinates.Longitude

		created, err = s.remote.Create(ctx, draft)
		return err
	})
	return created, err
}

// Update sends a partial patch to the store.
func (s *Sync) Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	var updated *models.Member
	err := s.track(func() error {
		var err error
		updated, err = s.remote.Update(ctx, id, patch)
		return err
	})
	return updated, err
}

// Delete asks the store to remove id.
func (s *Sync) Delete(ctx context.Context, id string) error {
	return s.track(func() error {
		return s.remote.Delete(ctx, id)
	})
}

// Close stops the change stream and background loads.
func (s *Sync) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// track runs a write with its own loading mark and records its outcome.
func (s *Sync) track(op func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loading++
	s.notifyLocked()
	s.mu.Unlock()

	err := op()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if err != nil {
		s.errMsg = err.Error()
		s.logger.Warn().Err(err).Msg("Member operation failed")
	} else {
		s.errMsg = ""
	}
	s.notifyLocked()
	return err
}

// apply folds one change notification into the collection.
func (s *Sync) apply(ev models.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight > 0 {
		s.pending = append(s.pending, ev)
	}
	if s.applyLocked(ev) {
		s.notifyLocked()
	}
}

// applyLocked is idempotent: a repeated insert or a delete of an absent id
// changes nothing. It reports whether the collection changed.
func (s *Sync) applyLocked(ev models.ChangeEvent) bool {
	switch ev.EventType {
	case models.EventInsert:
		if ev.New == nil || s.indexOf(ev.New.ID) >= 0 {
			return false
		}
		s.members = append([]models.Member{cleaner.Clean(*ev.New)}, s.members...)
		return true

	case models.EventUpdate:
		if ev.New == nil {
			return false
		}
		member := cleaner.Clean(*ev.New)
		if i := s.indexOf(member.ID); i >= 0 {
			s.members[i] = member
			return true
		}
		// never seen: place it by creation time
		i := sort.Search(len(s.members), func(i int) bool {
			return !s.members[i].CreatedAt.After(member.CreatedAt)
		})
		s.members = append(s.members, models.Member{})
		copy(s.members[i+1:], s.members[i:])
		s.members[i] = member
		return true

	case models.EventDelete:
		i := s.indexOf(ev.MemberID())
		if i < 0 {
			return false
		}
		s.members = append(s.members[:i], s.members[i+1:]...)
		return true
	}

	s.logger.Warn().Str("event_type", string(ev.EventType)).Msg("Ignoring unknown change event")
	return false
}

func (s *Sync) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.members {
		if s.members[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Sync) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = err.Error()
	s.notifyLocked()
}

// notifyLocked wakes every Changed waiter.
func (s *Sync) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// run keeps the change stream open. Every successful (re)subscribe is
// followed by a full load, so events missed while disconnected are recovered.
func (s *Sync) run() {
	defer s.wg.Done()

	backoff := s.minBackoff
	first := true

	for {
		stream, err := s.remote.Subscribe(s.ctx)
		if s.ctx.Err() != nil {
			if stream != nil {
				stream.Close()
			}
			return
		}

		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Change stream unavailable")
			s.setError(err)
			if first {
				// show what the store has even without live updates
				first = false
				s.loadAsync()
			}
			if !s.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}

		first = false
		backoff = s.minBackoff
		s.loadAsync()

		streamErr := s.consume(stream)
		stream.Close()
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn().Err(streamErr).Msg("Change stream lost, reconnecting")
		s.setError(eris.Wrap(streamErr, "membersync: change stream lost"))
		if !s.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

// consume applies events until the stream ends or the Sync closes.
func (s *Sync) consume(stream Stream) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return ErrStreamEnded
			}
			s.apply(ev)
		}
	}
}

func (s *Sync) loadAsync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Load(s.ctx)
	}()
}

func (s *Sync) resync() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.resyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Load(s.ctx)
		}
	}
}

func (s *Sync) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
