package discovery

// etcd is used as a shared phonebook of simulation hosts:
//
//	Key:   /simlink/hosts/{name}/{addr}
//	Value: JSON-encoded HostInstance
//
// Registration uses TTL-based leases: if a host crashes, the lease expires
// and the entry disappears instead of sending clients to a dead address.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/simlink/hosts/"

// EtcdDiscovery implements Discovery using etcd v3.
type EtcdDiscovery struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger
}

// NewEtcdDiscovery connects to the given etcd endpoints.
func NewEtcdDiscovery(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdDiscovery, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: connect etcd: %w", err)
	}
	return &EtcdDiscovery{client: c, logger: logger}, nil
}

func hostKey(name, addr string) string {
	return keyPrefix + name + "/" + addr
}

func namePrefix(name string) string {
	return keyPrefix + name + "/"
}

// Register adds a host instance with a TTL lease and keeps the lease alive
// until ctx ends.
//
// The lease ID stays local so one EtcdDiscovery can register several hosts
// without racing on shared state.
func (d *EtcdDiscovery) Register(ctx context.Context, name string, instance HostInstance, ttl int64) error {
	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("discovery: grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err := d.client.Put(ctx, hostKey(name, instance.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("discovery: put %s: %w", instance.Addr, err)
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("discovery: keepalive: %w", err)
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		d.logger.Debug("host lease keepalive stopped", zap.String("name", name), zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes a host instance. Hosts call it during graceful shutdown
// before closing their listener.
func (d *EtcdDiscovery) Deregister(ctx context.Context, name string, addr string) error {
	if _, err := d.client.Delete(ctx, hostKey(name, addr)); err != nil {
		return fmt.Errorf("discovery: delete %s: %w", addr, err)
	}
	return nil
}

// Watch emits the refreshed instance list whenever anything under name
// changes (registration, deregistration, lease expiry).
func (d *EtcdDiscovery) Watch(ctx context.Context, name string) <-chan []HostInstance {
	ch := make(chan []HostInstance, 1)

	go func() {
		defer close(ch)
		watchChan := d.client.Watch(ctx, namePrefix(name), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the whole list; simpler than applying individual events.
			instances, err := d.Discover(ctx, name)
			if err != nil && !errors.Is(err, ErrNoHosts) {
				d.logger.Warn("host rediscovery failed", zap.String("name", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered under name.
func (d *EtcdDiscovery) Discover(ctx context.Context, name string) ([]HostInstance, error) {
	resp, err := d.client.Get(ctx, namePrefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: get %s: %w", name, err)
	}

	instances := make([]HostInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance HostInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			d.logger.Warn("skipping malformed host entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	if len(instances) == 0 {
		return nil, ErrNoHosts
	}
	return instances, nil
}

// Close releases the etcd client.
func (d *EtcdDiscovery) Close() error {
	return d.client.Close()
}
