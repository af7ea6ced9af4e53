// Package discovery finds simulation hosts for clients that do not know the
// host address up front.
//
// A host registers itself under a name (for example "msfs-rig-1" or a shared
// pool name like "training"); clients Discover every instance under that name
// and hand the list to a loadbalance.Balancer.
package discovery

import (
	"context"
	"errors"
	"sync"
)

// ErrNoHosts is returned when a name has no registered instances.
var ErrNoHosts = errors.New("discovery: no hosts registered")

// HostInstance is one reachable simulation host.
type HostInstance struct {
	Addr            string `json:"addr"`
	Weight          int    `json:"weight"` // Weight for load balancing
	ProtocolVersion uint32 `json:"protocol_version"`
	Simulator       string `json:"simulator,omitempty"`
}

type Discovery interface {
	Register(ctx context.Context, name string, instance HostInstance, ttl int64) error
	Deregister(ctx context.Context, name string, addr string) error
	Discover(ctx context.Context, name string) ([]HostInstance, error)
	Watch(ctx context.Context, name string) <-chan []HostInstance
}

// Static is an in-memory Discovery, used when hosts are listed in
// configuration or when etcd is not available. TTLs are ignored.
type Static struct {
	mu       sync.RWMutex
	hosts    map[string][]HostInstance
	watchers map[string][]chan []HostInstance
}

// NewStatic returns a Static seeded with hosts.
func NewStatic(hosts map[string][]HostInstance) *Static {
	s := &Static{
		hosts:    make(map[string][]HostInstance),
		watchers: make(map[string][]chan []HostInstance),
	}
	for name, instances := range hosts {
		s.hosts[name] = append([]HostInstance(nil), instances...)
	}
	return s
}

func (s *Static) Register(_ context.Context, name string, instance HostInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.hosts[name]
	for i := range list {
		if list[i].Addr == instance.Addr {
			list[i] = instance
			s.notifyLocked(name)
			return nil
		}
	}
	s.hosts[name] = append(list, instance)
	s.notifyLocked(name)
	return nil
}

func (s *Static) Deregister(_ context.Context, name string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.hosts[name]
	for i := range list {
		if list[i].Addr == addr {
			s.hosts[name] = append(list[:i:i], list[i+1:]...)
			s.notifyLocked(name)
			return nil
		}
	}
	return nil
}

func (s *Static) Discover(_ context.Context, name string) ([]HostInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.hosts[name]
	if len(list) == 0 {
		return nil, ErrNoHosts
	}
	return append([]HostInstance(nil), list...), nil
}

// Watch emits the instance list after every Register or Deregister for name.
// The channel closes when ctx ends.
func (s *Static) Watch(ctx context.Context, name string) <-chan []HostInstance {
	ch := make(chan []HostInstance, 1)
	s.mu.Lock()
	s.watchers[name] = append(s.watchers[name], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[name]
		for i := range list {
			if list[i] == ch {
				s.watchers[name] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notifyLocked replaces any undelivered snapshot so watchers always see the
// latest list without blocking writers.
func (s *Static) notifyLocked(name string) {
	snapshot := append([]HostInstance(nil), s.hosts[name]...)
	for _, ch := range s.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
