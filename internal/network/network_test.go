package network

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

// testRand adapts math/rand so tests can pick their own fixed source.
type testRand struct{ r *rand.Rand }

func (t testRand) Float64() float64 { return t.r.Float64() }

func newTestRand(seed int64) testRand {
	return testRand{r: rand.New(rand.NewSource(seed))}
}

type captureSink struct{ events []trace.Event }

func (c *captureSink) Record(e trace.Event) { c.events = append(c.events, e) }

func (c *captureSink) count(k trace.Kind) int {
	n := 0
	for _, e := range c.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// collector receives every delivery and keeps the message timestamps.
type collector struct{ msgs []sim.Message }

func (c *collector) OnMessage(src int, msg sim.Message) { c.msgs = append(c.msgs, msg) }
func (c *collector) OnTimer(string)                     {}

func baseConfig() Config {
	return Config{
		BaseDelay:            1.0,
		Jitter:               0.1,
		SwitchProcessingTime: 0.05,
		SyncDelay:            5.0,
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative base delay", func(c *Config) { c.BaseDelay = -1 }},
		{"negative jitter", func(c *Config) { c.Jitter = -0.1 }},
		{"loss below zero", func(c *Config) { c.PacketLossRate = -0.5 }},
		{"loss above one", func(c *Config) { c.PacketLossRate = 1.5 }},
		{"negative processing time", func(c *Config) { c.SwitchProcessingTime = -0.01 }},
		{"negative sync delay", func(c *Config) { c.SyncDelay = -5 }},
		{"violation prob above one", func(c *Config) { c.PSyncViolate = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("got %T, want *ConfigError", err)
			}
			if _, nerr := New(sim.New(nil), cfg, newTestRand(1), nil); nerr == nil {
				t.Fatal("New accepted invalid config")
			}
		})
	}

	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestTotalLossSchedulesNothing(t *testing.T) {
	sched := sim.New(nil)
	cfg := baseConfig()
	cfg.PacketLossRate = 1.0
	net, err := New(sched, cfg, newTestRand(1), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		net.Send(0, 1, "PING", nil)
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", sched.Pending())
	}
	st := net.Stats()
	if st.Sent != n || st.Dropped != n {
		t.Fatalf("stats = %+v, want sent=dropped=%d", st, n)
	}
}

func TestZeroLossSchedulesEverySend(t *testing.T) {
	sink := &captureSink{}
	sched := sim.New(nil)
	net, err := New(sched, baseConfig(), newTestRand(1), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		net.Send(0, 1, "PING", nil)
	}
	if sched.Pending() != n {
		t.Fatalf("pending = %d, want %d", sched.Pending(), n)
	}
	if got := sink.count(trace.MessageScheduled); got != n {
		t.Fatalf("scheduled trace events = %d, want %d", got, n)
	}
	if st := net.Stats(); st.Dropped != 0 {
		t.Fatalf("dropped = %d, want 0", st.Dropped)
	}
}

func TestSynchronyBoundAndViolationRate(t *testing.T) {
	sink := &captureSink{}
	sched := sim.New(nil)
	rec := &collector{}
	sched.Register(1, rec)

	cfg := baseConfig()
	cfg.PSyncViolate = 0.2
	net, err := New(sched, cfg, newTestRand(3), sink)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	const n = 20000
	for i := 0; i < n; i++ {
		net.Send(0, 1, "PING", nil)
	}
	if err := sched.Run(math.Inf(1)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.msgs) != n {
		t.Fatalf("delivered %d, want %d", len(rec.msgs), n)
	}

	over := 0
	for _, m := range rec.msgs {
		if m.DeliverTime-m.SendTime > cfg.SyncDelay+1e-9 {
			over++
		}
	}
	st := net.Stats()
	if over != st.Violations {
		t.Fatalf("%d deliveries exceeded the bound but %d violations counted", over, st.Violations)
	}
	if got := sink.count(trace.SyncViolation); got != st.Violations {
		t.Fatalf("traced %d violations, counted %d", got, st.Violations)
	}

	frac := float64(over) / n
	if frac < cfg.PSyncViolate-0.02 || frac > cfg.PSyncViolate+0.02 {
		t.Fatalf("violation fraction %.4f, want %.2f +/- 0.02", frac, cfg.PSyncViolate)
	}
}

func TestViolatedDeliveryExceedsDegenerateBound(t *testing.T) {
	sched := sim.New(nil)
	rec := &collector{}
	sched.Register(1, rec)

	cfg := baseConfig()
	cfg.SyncDelay = 0
	cfg.PSyncViolate = 1.0
	net, err := New(sched, cfg, newTestRand(5), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	net.Send(0, 1, "PING", nil)
	if err := sched.Run(math.Inf(1)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.msgs) != 1 {
		t.Fatalf("delivered %d, want 1", len(rec.msgs))
	}
	if d := rec.msgs[0].DeliverTime - rec.msgs[0].SendTime; d <= cfg.SyncDelay {
		t.Fatalf("violated delivery delay %v does not exceed sync bound %v", d, cfg.SyncDelay)
	}
}

func TestSeededRunsAreIdentical(t *testing.T) {
	deliveries := func(seed uint64) []float64 {
		sim.Seed(seed)
		sched := sim.New(nil)
		rec := &collector{}
		sched.Register(1, rec)

		cfg := baseConfig()
		cfg.PacketLossRate = 0.1
		cfg.PSyncViolate = 0.05
		net, err := New(sched, cfg, sim.NewRand("network"), nil)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		for i := 0; i < 500; i++ {
			net.Send(0, 1, "PING", nil)
		}
		if err := sched.Run(math.Inf(1)); err != nil {
			t.Fatalf("run: %v", err)
		}
		times := make([]float64, len(rec.msgs))
		for i, m := range rec.msgs {
			times[i] = m.DeliverTime
		}
		return times
	}

	a, b := deliveries(42), deliveries(42)
	if len(a) != len(b) {
		t.Fatalf("delivery counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("delivery %d differs: %v vs %v", i, a[i], b[i])
		}
	}

	c := deliveries(43)
	same := len(a) == len(c)
	if same {
		for i := range a {
			if a[i] != c[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatal("different seeds produced identical runs")
	}
}
