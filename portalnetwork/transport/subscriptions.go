package transport

import (
	"sync"
	"time"
)

// subscriptions holds the inbound stream of every subscribed protocol id.
type subscriptions struct {
	buffer int

	mu     sync.RWMutex
	closed bool
	chans  map[string]chan *TalkRequest

	quit      chan struct{}
	closeOnce sync.Once
}

func newSubscriptions(buffer int) *subscriptions {
	return &subscriptions{
		buffer: buffer,
		chans:  make(map[string]chan *TalkRequest),
		quit:   make(chan struct{}),
	}
}

func (s *subscriptions) subscribe(protocol string) (chan *TalkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.chans[protocol]; ok {
		return nil, ErrDuplicateSubscription
	}
	ch := make(chan *TalkRequest, s.buffer)
	s.chans[protocol] = ch
	return ch, nil
}

func (s *subscriptions) has(protocol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chans[protocol]
	return ok && !s.closed
}

func (s *subscriptions) protocols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]string, 0, len(s.chans))
	for p := range s.chans {
		list = append(list, p)
	}
	return list
}

// push hands req to the subscriber of its protocol. It fails when nobody is
// subscribed, the stream stays full for longer than timeout or the set is closed.
func (s *subscriptions) push(req *TalkRequest, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.chans[req.Protocol]
	if !ok || s.closed {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- req:
		return true
	case <-timer.C:
		return false
	case <-s.quit:
		return false
	}
}

// close ends every stream. Pending pushes are released first.
func (s *subscriptions) close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		for _, ch := range s.chans {
			close(ch)
		}
	})
}
