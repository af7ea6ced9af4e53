package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"simlink/discovery"
)

// ConsistentHashBalancer maps a key (the application name) onto a hash ring
// of hosts, so the same application lands on the same host until the host
// list changes.
//
// Each host gets several virtual nodes on the ring; without them three hosts
// can cluster together and take very uneven shares.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	ring  []uint32                          // sorted hash values
	nodes map[uint32]discovery.HostInstance // hash value -> instance
	addrs string                            // instance set the ring was built for
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]discovery.HostInstance),
	}
}

// Add places an instance onto the ring. Each virtual node hashes "{addr}#{i}".
func (b *ConsistentHashBalancer) Add(instance discovery.HostInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(instance)
}

func (b *ConsistentHashBalancer) addLocked(instance discovery.HostInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick hashes key and returns the first node clockwise from it. The ring is
// rebuilt whenever the instance list differs from the previous call.
func (b *ConsistentHashBalancer) Pick(key string, instances []discovery.HostInstance) (*discovery.HostInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(instances) > 0 {
		if sig := signature(instances); sig != b.addrs {
			b.ring = b.ring[:0]
			b.nodes = make(map[uint32]discovery.HostInstance, len(instances)*b.replicas)
			for _, inst := range instances {
				b.addLocked(inst)
			}
			b.addrs = sig
		}
	}
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Past the last node: wrap around to the first.
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent_hash"
}

func signature(instances []discovery.HostInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	return fmt.Sprint(addrs)
}
