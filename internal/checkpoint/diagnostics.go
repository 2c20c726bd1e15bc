package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/observability"
)

// Resolver performs the name lookups of a diagnosis. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// DiagnosticsConfig controls transport selection.
type DiagnosticsConfig struct {
	// PrimaryHost is resolved before the primary is probed. Empty skips
	// the lookup.
	PrimaryHost string

	// SRVService and SRVProto enable the optional SRV lookup.
	SRVService string
	SRVProto   string

	DNSTimeout       time.Duration
	ProbeTimeout     time.Duration
	LatencyThreshold time.Duration
	TTL              time.Duration
}

// DefaultDiagnosticsConfig returns the standard timeouts.
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		SRVProto:         "tcp",
		DNSTimeout:       2 * time.Second,
		ProbeTimeout:     5 * time.Second,
		LatencyThreshold: 2 * time.Second,
		TTL:              5 * time.Minute,
	}
}

// LookupResult is the outcome of one name lookup.
type LookupResult struct {
	Attempted bool     `json:"attempted"`
	OK        bool     `json:"ok"`
	Addrs     []string `json:"addrs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ProbeResult is the outcome of one transport probe.
type ProbeResult struct {
	Transport string        `json:"transport"`
	OK        bool          `json:"ok"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// TrailEntry is one step of the reasoning behind a selection.
type TrailEntry struct {
	At      time.Time `json:"at"`
	Step    string    `json:"step"`
	Message string    `json:"message"`
}

// Diagnostics is a cached transport decision. Values returned by a
// Diagnostician are shared and must not be modified.
type Diagnostics struct {
	CheckedAt time.Time     `json:"checked_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	DNS       LookupResult  `json:"dns"`
	SRV       LookupResult  `json:"srv"`
	Probes    []ProbeResult `json:"probes"`
	Selected  string        `json:"selected"`
	Degraded  bool          `json:"degraded"`
	Trail     []TrailEntry  `json:"trail"`
}

// Probe returns the probe result for the named transport, if it ran.
func (d *Diagnostics) Probe(name string) (ProbeResult, bool) {
	for _, p := range d.Probes {
		if p.Transport == name {
			return p, true
		}
	}
	return ProbeResult{}, false
}

func (d *Diagnostics) record(at time.Time, step, format string, args ...any) {
	d.Trail = append(d.Trail, TrailEntry{At: at, Step: step, Message: fmt.Sprintf(format, args...)})
}

// DiagOption configures a Diagnostician.
type DiagOption func(*Diagnostician)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) DiagOption {
	return func(d *Diagnostician) { d.resolver = r }
}

// WithDiagLogger sets the logger.
func WithDiagLogger(l *zap.Logger) DiagOption {
	return func(d *Diagnostician) { d.logger = l }
}

// WithDiagMetrics records selections on m.
func WithDiagMetrics(m *observability.Metrics) DiagOption {
	return func(d *Diagnostician) { d.metrics = m }
}

// WithDiagClock overrides time.Now.
func WithDiagClock(now func() time.Time) DiagOption {
	return func(d *Diagnostician) { d.now = now }
}

// Diagnostician decides between a primary and a fallback transport and
// caches the decision for a TTL. Concurrent diagnoses collapse into one.
type Diagnostician struct {
	primary  Transport
	fallback Transport
	cfg      DiagnosticsConfig
	resolver Resolver
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cached *Diagnostics
}

// NewDiagnostician creates a Diagnostician. Zero durations in cfg take the
// defaults.
func NewDiagnostician(primary, fallback Transport, cfg DiagnosticsConfig, opts ...DiagOption) *Diagnostician {
	def := DefaultDiagnosticsConfig()
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = def.DNSTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SRVProto == "" {
		cfg.SRVProto = def.SRVProto
	}

	d := &Diagnostician{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		resolver: net.DefaultResolver,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Diagnose returns the cached decision, or runs a fresh diagnosis when the
// cache is empty, expired, or force is set. The diagnosis ignores the
// caller's cancellation; only the lookup and probe timeouts bound it.
func (d *Diagnostician) Diagnose(ctx context.Context, force bool) *Diagnostics {
	if !force {
		if c := d.current(); c != nil {
			return c
		}
	}

	dctx := context.WithoutCancel(ctx)
	v, _, _ := d.group.Do("diagnose", func() (any, error) {
		diag := d.run(dctx)
		d.mu.Lock()
		d.cached = diag
		d.mu.Unlock()
		return diag, nil
	})
	return v.(*Diagnostics)
}

// Select returns the transport chosen by the current diagnosis.
func (d *Diagnostician) Select(ctx context.Context) (Transport, *Diagnostics) {
	diag := d.Diagnose(ctx, false)
	if diag.Selected == d.primary.Name() {
		return d.primary, diag
	}
	return d.fallback, diag
}

// Invalidate drops the cached decision.
func (d *Diagnostician) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
}

func (d *Diagnostician) current() *Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != nil && d.now().Before(d.cached.ExpiresAt) {
		return d.cached
	}
	return nil
}

func (d *Diagnostician) run(ctx context.Context) *Diagnostics {
	start := d.now()
	diag := &Diagnostics{CheckedAt: start}

	if d.resolveHost(ctx, diag) {
		d.resolveSRV(ctx, diag)

		probe := d.probe(ctx, d.primary)
		diag.Probes = append(diag.Probes, probe)
		switch {
		case probe.OK && probe.Latency < d.cfg.LatencyThreshold:
			diag.record(d.now(), "probe:"+probe.Transport, "ok in %s", probe.Latency)
			return d.finish(diag, d.primary.Name(), false)
		case probe.OK:
			diag.record(d.now(), "probe:"+probe.Transport, "answered in %s, over the %s threshold", probe.Latency, d.cfg.LatencyThreshold)
		default:
			diag.record(d.now(), "probe:"+probe.Transport, "failed after %s: %s", probe.Latency, probe.Error)
		}
	}

	probe := d.probe(ctx, d.fallback)
	diag.Probes = append(diag.Probes, probe)
	if probe.OK {
		diag.record(d.now(), "probe:"+probe.Transport, "ok in %s", probe.Latency)
		return d.finish(diag, d.fallback.Name(), false)
	}
	diag.record(d.now(), "probe:"+probe.Transport, "failed after %s: %s", probe.Latency, probe.Error)

	primaryOK := false
	if p, ok := diag.Probe(d.primary.Name()); ok {
		primaryOK = p.OK
	}
	return d.finish(diag, d.fallback.Name(), !primaryOK)
}

// resolveHost reports whether the primary is worth probing.
func (d *Diagnostician) resolveHost(ctx context.Context, diag *Diagnostics) bool {
	host := d.cfg.PrimaryHost
	if host == "" {
		diag.record(d.now(), "dns", "no primary host configured, lookup skipped")
		return true
	}

	lctx, cancel := context.WithTimeout(ctx, d.cfg.DNSTimeout)
	defer cancel()

	diag.DNS.Attempted = true
	addrs, err := d.resolver.LookupHost(lctx, host)
	if err != nil {
		diag.DNS.Error = err.Error()
		diag.record(d.now(), "dns", "lookup of %s failed: %v; skipping primary", host, err)
		return false
	}
	diag.DNS.OK = true
	diag.DNS.Addrs = addrs
	diag.record(d.now(), "dns", "%s resolved to %v", host, addrs)
	return true
}

func (d *Diagnostician) resolveSRV(ctx context.Context, diag *Diagnostics) {
	if d.cfg.SRVService == "" || d.cfg.PrimaryHost == "" {
		return
	}

	lctx, cancel := context.WithTimeout(ctx, d.cfg.DNSTimeout)
	defer cancel()

	diag.SRV.Attempted = true
	_, srvs, err := d.resolver.LookupSRV(lctx, d.cfg.SRVService, d.cfg.SRVProto, d.cfg.PrimaryHost)
	if err != nil {
		diag.SRV.Error = err.Error()
		diag.record(d.now(), "srv", "warning: _%s._%s.%s lookup failed: %v", d.cfg.SRVService, d.cfg.SRVProto, d.cfg.PrimaryHost, err)
		return
	}
	diag.SRV.OK = true
	for _, s := range srvs {
		diag.SRV.Addrs = append(diag.SRV.Addrs, net.JoinHostPort(s.Target, fmt.Sprint(s.Port)))
	}
	diag.record(d.now(), "srv", "found %d targets", len(srvs))
}

// probe reads the health key. A not-found answer counts as healthy.
func (d *Diagnostician) probe(ctx context.Context, t Transport) ProbeResult {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	start := d.now()
	_, err := t.Get(pctx, domain.HealthKey)
	res := ProbeResult{Transport: t.Name(), Latency: d.now().Sub(start)}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}

func (d *Diagnostician) finish(diag *Diagnostics, selected string, degraded bool) *Diagnostics {
	at := d.now()
	diag.Selected = selected
	diag.Degraded = degraded
	diag.ExpiresAt = at.Add(d.cfg.TTL)
	if degraded {
		diag.record(at, "select", "selected %s; no transport answered, operations will report %v", selected, domain.ErrTransportUnavailable)
		d.logger.Warn("checkpoint transports degraded", zap.String("selected", selected))
	} else {
		diag.record(at, "select", "selected %s until %s", selected, diag.ExpiresAt.Format(time.RFC3339))
		d.logger.Info("checkpoint transport selected", zap.String("selected", selected))
	}
	d.metrics.TransportSelected(selected, degraded)
	return diag
}
