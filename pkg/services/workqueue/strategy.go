package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// Store-writing tasks (the ones that talk to the triple or graph store) are
// gated separately from local tasks so a slow store never starves local work.
type ConcurrencyStrategy interface {
	// CanStartStore returns true if a store-writing task can start.
	CanStartStore() bool
	// CanStartLocal returns true if a local task can start.
	CanStartLocal() bool
	// OnStartStore is called when a store-writing task starts.
	OnStartStore()
	// OnStartLocal is called when a local task starts.
	OnStartLocal()
	// OnCompleteStore is called when a store-writing task completes.
	OnCompleteStore()
	// OnCompleteLocal is called when a local task completes.
	OnCompleteLocal()
}

// SerializedStrategy serializes both task classes: one store-writing task and
// one local task at a time, which may run in parallel with each other.
type SerializedStrategy struct {
	mu           sync.Mutex
	storeRunning bool
	localRunning bool
}

// NewSerializedStrategy creates the default fully serialized strategy.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartStore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.storeRunning
}

func (s *SerializedStrategy) CanStartLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.localRunning
}

func (s *SerializedStrategy) OnStartStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeRunning = true
}

func (s *SerializedStrategy) OnStartLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRunning = true
}

func (s *SerializedStrategy) OnCompleteStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeRunning = false
}

func (s *SerializedStrategy) OnCompleteLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRunning = false
}

// ThrottledStoreStrategy allows up to maxConcurrent store-writing tasks in
// parallel. Local tasks are still serialized. Used by the sync engine to run
// entity batches for different workspaces concurrently.
type ThrottledStoreStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	storeRunning  int
	localRunning  bool
}

// NewThrottledStoreStrategy creates a strategy allowing up to maxConcurrent
// parallel store-writing tasks.
func NewThrottledStoreStrategy(maxConcurrent int) *ThrottledStoreStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStoreStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledStoreStrategy) CanStartStore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeRunning < s.maxConcurrent
}

func (s *ThrottledStoreStrategy) CanStartLocal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.localRunning
}

func (s *ThrottledStoreStrategy) OnStartStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeRunning++
}

func (s *ThrottledStoreStrategy) OnStartLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRunning = true
}

func (s *ThrottledStoreStrategy) OnCompleteStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeRunning > 0 {
		s.storeRunning--
	}
}

func (s *ThrottledStoreStrategy) OnCompleteLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localRunning = false
}
