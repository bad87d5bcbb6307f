package notifications

import "sync"

// FailureKind classifies an isolated failure inside one invocation.
type FailureKind string

const (
	DetectionAmbiguity     FailureKind = "DetectionAmbiguity"
	RecipientLookupFailure FailureKind = "RecipientLookupFailure"
	RecordWriteFailure     FailureKind = "RecordWriteFailure"
	PushPartialFailure     FailureKind = "PushPartialFailure"
	PushTransportFailure   FailureKind = "PushTransportFailure"
)

// Failure is one logged, non-fatal problem.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Audience Audience    `json:"audience,omitempty"`
	Event    EventKind   `json:"event,omitempty"`
	UserID   string      `json:"userId,omitempty"`
	Error    string      `json:"error"`
}

// Report summarizes one Handle invocation. It is safe for concurrent
// updates from the fan-out goroutines.
type Report struct {
	mu sync.Mutex

	ListingID       string    `json:"listingId"`
	Version         string    `json:"version"`
	Events          int       `json:"events"`
	RecordsCreated  int       `json:"recordsCreated"`
	RecordsExisting int       `json:"recordsExisting"`
	PushSent        int       `json:"pushSent"`
	PushFailed      int       `json:"pushFailed"`
	TokensPruned    int       `json:"tokensPruned"`
	Failures        []Failure `json:"failures,omitempty"`
}

// OK reports whether the invocation finished without any failure.
func (r *Report) OK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures) == 0
}

// FailureCount returns the number of failures of kind.
func (r *Report) FailureCount(kind FailureKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Report) fail(f Failure) {
	r.mu.Lock()
	r.Failures = append(r.Failures, f)
	r.mu.Unlock()
}

func (r *Report) recorded(created bool) {
	r.mu.Lock()
	if created {
		r.RecordsCreated++
	} else {
		r.RecordsExisting++
	}
	r.mu.Unlock()
}

func (r *Report) pushed(sent, failed int) {
	r.mu.Lock()
	r.PushSent += sent
	r.PushFailed += failed
	r.mu.Unlock()
}

func (r *Report) pruned(n int) {
	r.mu.Lock()
	r.TokensPruned += n
	r.mu.Unlock()
}

// tokenSet accumulates distinct tokens for one event and remembers which
// users own each token.
type tokenSet struct {
	mu     sync.Mutex
	order  []string
	owners map[string][]string
}

func newTokenSet() *tokenSet {
	return &tokenSet{owners: make(map[string][]string)}
}

func (s *tokenSet) add(userID string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if t == "" {
			continue
		}
		owners, seen := s.owners[t]
		if !seen {
			s.order = append(s.order, t)
		}
		s.owners[t] = append(owners, userID)
	}
}

func (s *tokenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *tokenSet) drain() ([]string, map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tokens, owners := s.order, s.owners
	s.order = nil
	s.owners = make(map[string][]string)
	return tokens, owners
}
