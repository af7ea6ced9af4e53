package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simlink/client"
	"simlink/codec"
	"simlink/config"
	"simlink/discovery"
	"simlink/loadbalance"
	"simlink/logging"
	"simlink/metrics"
	"simlink/middleware"
	"simlink/session"
	"simlink/transport"
)

// cli holds what the persistent flags and PersistentPreRunE produce. Each
// newRootCmd call gets its own, so tests can run commands side by side.
type cli struct {
	cfgFile  string
	endpoint string
	output   string
	logLevel string

	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	metricSrv *http.Server
	formatter codec.Codec
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "simlink",
		Short: "Talk to a flight simulator over the simlink protocol",
		Long: `simlink opens sessions to a simulation host, reads and writes simulation
variables, watches periodic data and events, and can run a mock host for
development.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) { c.teardown() },
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "path to a TOML config file")
	flags.StringVarP(&c.endpoint, "endpoint", "e", "", "host address, bypassing discovery")
	flags.StringVarP(&c.output, "output", "o", "yaml", "output format: yaml or json")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.probeCmd(),
		c.getCmd(),
		c.setCmd(),
		c.watchCmd(),
		c.eventCmd(),
		c.mockHostCmd(),
	)
	return root
}

func (c *cli) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if c.endpoint != "" {
		cfg.Session.Endpoint = c.endpoint
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg

	ct, ok := codec.ParseCodecType(c.output)
	if !ok {
		return fmt.Errorf("unknown output format %q (expected yaml or json)", c.output)
	}
	c.formatter = codec.GetCodec(ct)

	if c.logger, err = logging.New(cfg.Log); err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		return c.serveMetrics(cfg.Metrics.ListenAddr)
	}
	return nil
}

func (c *cli) teardown() {
	if c.metricSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.metricSrv.Shutdown(ctx)
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// serveMetrics exposes a private registry on addr under /metrics.
func (c *cli) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}
	c.metrics = collector

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	c.metricSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := c.metricSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	c.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func (c *cli) sessionOptions() session.Options {
	tc := c.cfg.Transport
	mws := []middleware.Middleware{
		middleware.Logging(c.logger),
		middleware.Metrics(c.metrics),
	}
	if tc.SendTimeout > 0 {
		mws = append(mws, middleware.Timeout(tc.SendTimeout))
	}
	if tc.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(tc.RateLimit, tc.RateBurst))
	}
	return session.Options{
		AppName:        c.cfg.Session.AppName,
		ConnectTimeout: c.cfg.Session.ConnectTimeout,
		RequestTimeout: c.cfg.Session.RequestTimeout,
		Transport: transport.Options{
			HeartbeatInterval: tc.HeartbeatInterval,
			MaxBodySize:       tc.MaxBodySize,
			DialTimeout:       tc.DialTimeout,
			Middlewares:       mws,
		},
		Logger:  c.logger,
		Metrics: c.metrics,
	}
}

// openSession dials the configured endpoint, or resolves the host name
// through discovery when no endpoint is set. The returned func closes the
// session and whatever was opened to reach it.
func (c *cli) openSession(ctx context.Context) (*session.Session, func(), error) {
	opts := c.sessionOptions()
	if c.cfg.Session.Endpoint != "" {
		s, err := session.Open(ctx, c.cfg.Session.Endpoint, opts)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}

	disc, closeDisc, err := c.discovery()
	if err != nil {
		return nil, nil, err
	}
	sc := c.cfg.Session
	cl := client.New(disc, loadbalance.New(sc.Balancer), client.Options{
		Session: opts,
		Retry: client.RetryPolicy{
			Attempts:  sc.RetryAttempts,
			BaseDelay: sc.RetryBaseDelay,
			MaxDelay:  sc.RetryMaxDelay,
		},
		Logger: c.logger,
	})
	s, err := cl.Open(ctx, sc.HostName, sc.AppName)
	if err != nil {
		closeDisc()
		return nil, nil, err
	}
	return s, func() {
		_ = cl.Close()
		closeDisc()
	}, nil
}

func (c *cli) discovery() (discovery.Discovery, func(), error) {
	dc := c.cfg.Discovery
	switch dc.Kind {
	case "etcd":
		d, err := discovery.NewEtcdDiscovery(dc.EtcdEndpoints, dc.DialTimeout, c.logger)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	default:
		hosts := make(map[string][]discovery.HostInstance, len(dc.Static))
		for name, addrs := range dc.Static {
			for _, addr := range addrs {
				hosts[name] = append(hosts[name], discovery.HostInstance{Addr: addr, Weight: 1})
			}
		}
		return discovery.NewStatic(hosts), func() {}, nil
	}
}

// print writes v in the selected output format.
func (c *cli) print(w io.Writer, v any) error {
	data, err := c.formatter.Encode(v)
	if err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	_, err = w.Write(data)
	return err
}
