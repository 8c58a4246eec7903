package api

import (
	"sync"

	"github.com/google/uuid"
)

// SampleStore keeps finished samples for later retrieval.
type SampleStore struct {
	mu      sync.Mutex
	samples map[string]SampleResponse
	order   []string
	limit   int
}

// NewSampleStore returns a store holding at most limit samples; older ones
// are evicted first. A non-positive limit keeps everything.
func NewSampleStore(limit int) *SampleStore {
	return &SampleStore{samples: make(map[string]SampleResponse), limit: limit}
}

func (s *SampleStore) Put(resp SampleResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.samples[resp.ID] = resp
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.samples, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *SampleStore) Get(id string) (SampleResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.samples[id]
	return resp, ok
}

func (s *SampleStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[id]; !ok {
		return false
	}
	delete(s.samples, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func newSampleID() string {
	return "smp_" + uuid.NewString()
}
