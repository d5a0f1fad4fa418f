package node

import (
	"fmt"

	"golang.org/x/exp/slices"

	"dcsim/internal/network"
	"dcsim/internal/sim"
	"dcsim/internal/trace"
)

// Params carries everything a protocol factory needs to build one
// node of a cluster.
type Params struct {
	ID        int
	Peers     []int // every protocol node id in the cluster, including ID
	Scheduler *sim.Scheduler
	Network   *network.Network
	Sink      trace.Sink
	Rand      sim.Rand
}

// Factory builds one protocol node and returns its base. The concrete
// node registers itself with the scheduler during construction.
type Factory func(p Params) (*Node, error)

// Registry maps protocol names to factories. It is an explicit value
// assembled once per run and passed to whatever builds the simulation;
// there is deliberately no process-wide registry.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) Lookup(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (have %v)", name, r.Names())
	}
	return f, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
