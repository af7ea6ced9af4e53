// Package loadbalance picks one simulation host out of the instances
// discovery returns.
//
// Three strategies are implemented:
//   - RoundRobin:      equal hosts, spread sessions evenly
//   - WeightedRandom:  hosts of different capacity (HostInstance.Weight)
//   - ConsistentHash:  pin an application name to the same host across reconnects
package loadbalance

import (
	"errors"

	"simlink/discovery"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for host selection strategies.
type Balancer interface {
	// Pick selects one instance. key identifies the caller (the application
	// name); strategies that do not need it ignore it. Must be goroutine-safe.
	Pick(key string, instances []discovery.HostInstance) (*discovery.HostInstance, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// New returns the strategy registered under name, or nil.
func New(name string) Balancer {
	switch name {
	case "round_robin", "":
		return &RoundRobinBalancer{}
	case "weighted_random":
		return &WeightedRandomBalancer{}
	case "consistent_hash":
		return NewConsistentHashBalancer()
	}
	return nil
}
