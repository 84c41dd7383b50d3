package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lwei-dev/nchat/internal/status"
	"go.uber.org/zap"
)

// HistorySource serves pages of durable conversation history, newest page
// first, records within a page oldest first. offset counts messages already
// fetched from the head.
type HistorySource interface {
	FetchPage(ctx context.Context, contact string, limit, offset int) ([]Message, error)
}

// Options tunes the store. Zero values fall back to defaults.
type Options struct {
	// PageSize is the history fetch size. Default 30.
	PageSize int
	// CacheTTL is the freshness window for a loaded conversation; a Load
	// after it expires bypasses the cached window and refetches. Default
	// 5 minutes.
	CacheTTL time.Duration
	// Windows bounds provisional matching, see MatchWindows.
	Windows MatchWindows
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 30
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.Windows == (MatchWindows{}) {
		o.Windows = DefaultMatchWindows()
	}
	return o
}

// pageState is the pagination cursor for one conversation.
type pageState struct {
	offset  int
	hasMore bool
	loading bool
}

// Store owns every conversation's in-memory message window. All mutation
// funnels through it, and every record entering a conversation goes through
// Reconcile, so the uniqueness and ordering invariants are enforced in one
// place. External callers only ever see snapshots.
//
// A single mutex guards all state; history fetches run outside the lock
// behind per-conversation loading flags so concurrent Load/LoadMore calls
// for the same contact coalesce instead of duplicating fetches.
type Store struct {
	identity string
	history  HistorySource
	opts     Options
	logger   *zap.Logger

	mu      sync.Mutex
	convos  map[string][]Message
	fetched map[string]time.Time
	pages   map[string]*pageState

	now func() time.Time
}

// NewStore creates a store for the local identity, fetching history pages
// from src.
func NewStore(identity string, src HistorySource, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		identity: identity,
		history:  src,
		opts:     opts.withDefaults(),
		logger:   logger,
		convos:   make(map[string][]Message),
		fetched:  make(map[string]time.Time),
		pages:    make(map[string]*pageState),
		now:      time.Now,
	}
}

// Load returns the conversation with contact. A fresh cached window is
// served as-is; otherwise the head page is fetched, normalized and becomes
// the new window, with pagination reset. Outstanding provisional records
// (optimistic sends not yet confirmed) are carried into the refreshed
// window. A failed fetch leaves all state untouched.
func (s *Store) Load(ctx context.Context, contact string) ([]Message, error) {
	s.mu.Lock()
	st := s.pageLocked(contact)
	if t, ok := s.fetched[contact]; ok && s.now().Sub(t) <= s.opts.CacheTTL {
		snap := s.snapshotLocked(contact)
		s.mu.Unlock()
		return snap, nil
	}
	if st.loading {
		// A fetch is already under way; serve what we have.
		snap := s.snapshotLocked(contact)
		s.mu.Unlock()
		return snap, nil
	}
	st.loading = true
	s.mu.Unlock()

	page, err := s.history.FetchPage(ctx, contact, s.opts.PageSize, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.loading = false
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", contact, err)
	}

	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		fresh, _ = Reconcile(fresh, m, s.opts.Windows)
	}
	for _, p := range s.convos[contact] {
		if !p.Provisional() {
			continue
		}
		if s.resolvedBy(p, fresh) {
			continue
		}
		fresh, _ = Reconcile(fresh, p, s.opts.Windows)
	}

	s.convos[contact] = fresh
	s.fetched[contact] = s.now()
	st.offset = len(page)
	st.hasMore = len(page) == s.opts.PageSize
	return s.snapshotLocked(contact), nil
}

// LoadMore fetches the next older history page and merges it into the
// window. It is a no-op returning the current window when there is nothing
// more to fetch or a fetch is already in flight, so concurrent callers
// cannot double-advance the cursor. The cursor advances by the number of
// records the merge actually introduced; a page that introduces nothing
// despite being non-empty clamps hasMore to stop refetch loops.
func (s *Store) LoadMore(ctx context.Context, contact string) ([]Message, error) {
	s.mu.Lock()
	st := s.pageLocked(contact)
	if !st.hasMore || st.loading {
		snap := s.snapshotLocked(contact)
		s.mu.Unlock()
		return snap, nil
	}
	st.loading = true
	offset := st.offset
	s.mu.Unlock()

	page, err := s.history.FetchPage(ctx, contact, s.opts.PageSize, offset)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.loading = false
	if err != nil {
		return nil, fmt.Errorf("fetch older page for %s: %w", contact, err)
	}

	list := s.convos[contact]
	inserted := 0
	for _, m := range page {
		var out Outcome
		list, out = Reconcile(list, m, s.opts.Windows)
		if out == OutcomeAppended {
			inserted++
		}
	}
	s.convos[contact] = list
	st.offset += inserted
	st.hasMore = len(page) == s.opts.PageSize
	if len(page) > 0 && inserted == 0 {
		// Everything in the page was already known; the cursor cannot make
		// progress, so stop instead of refetching the same rows forever.
		st.hasMore = false
	}
	return s.snapshotLocked(contact), nil
}

// Insert reconciles m into its conversation. Reports whether the call
// introduced a logical message the caller has not seen before (drives
// notifications); echoes, confirmations and provisional replacements
// return false.
func (s *Store) Insert(m Message) bool {
	m = Normalize(m)
	contact := m.Peer(s.identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	list, out := Reconcile(s.convos[contact], m, s.opts.Windows)
	s.convos[contact] = list
	if out == OutcomeReplaced {
		s.logger.Debug("provisional record replaced",
			zap.String("contact", contact),
			zap.String("id", m.ID))
	}
	return out == OutcomeAppended
}

// UpdateStatus moves the record's status along the lifecycle. With a
// contact it looks only in that conversation; without one it scans all of
// them (rare admin path, receipts arrive without conversation context).
// Unchanged or backward transitions are no-ops. Reports whether anything
// changed.
func (s *Store) UpdateStatus(id string, to status.Status, contact string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact != "" {
		return s.updateStatusLocked(contact, id, to)
	}
	for c := range s.convos {
		if s.updateStatusLocked(c, id, to) {
			return true
		}
	}
	return false
}

func (s *Store) updateStatusLocked(contact, id string, to status.Status) bool {
	list := s.convos[contact]
	for i := range list {
		if list[i].ID != id {
			continue
		}
		if list[i].Status == to {
			return false
		}
		if !status.CanAdvance(list[i].Status, to) {
			s.logger.Debug("ignoring backward status transition",
				zap.String("id", id),
				zap.String("from", string(list[i].Status)),
				zap.String("to", string(to)))
			return false
		}
		list[i].Status = to
		return true
	}
	return false
}

// Get returns the record with the given id in contact's conversation.
func (s *Store) Get(contact, id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.convos[contact] {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Snapshot returns a copy of contact's current window without touching
// cache or pagination state.
func (s *Store) Snapshot(contact string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(contact)
}

// Remove deletes one record from contact's conversation.
func (s *Store) Remove(contact, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.convos[contact]
	for i := range list {
		if list[i].ID == id {
			s.convos[contact] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Clear drops contact's conversation entirely, including its cache entry
// and pagination cursor.
func (s *Store) Clear(contact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convos, contact)
	delete(s.fetched, contact)
	delete(s.pages, contact)
}

// PageState exposes the pagination cursor for a conversation.
func (s *Store) PageState(contact string) (offset int, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.pageLocked(contact)
	return st.offset, st.hasMore
}

func (s *Store) pageLocked(contact string) *pageState {
	st, ok := s.pages[contact]
	if !ok {
		st = &pageState{hasMore: true}
		s.pages[contact] = st
	}
	return st
}

func (s *Store) snapshotLocked(contact string) []Message {
	list := s.convos[contact]
	out := make([]Message, len(list))
	copy(out, list)
	return out
}

// resolvedBy reports whether the provisional record p already has a
// confirmed counterpart in list, so carrying it over would duplicate the
// logical message.
func (s *Store) resolvedBy(p Message, list []Message) bool {
	for _, q := range list {
		if s.opts.Windows.MatchesProvisional(p, q) {
			return true
		}
	}
	return false
}
