package inference

import (
	"context"
	"sort"
	"sync"

	"github.com/scigo/onnxpipe/onnx"
)

// Kernel computes one graph node. A kernel is built once per node when the
// session loads and must be safe for concurrent Compute calls.
type Kernel interface {
	Compute(ctx context.Context, inputs []Value) ([]Value, error)
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(ctx context.Context, inputs []Value) ([]Value, error)

// Compute implements Kernel.
func (f KernelFunc) Compute(ctx context.Context, inputs []Value) ([]Value, error) {
	return f(ctx, inputs)
}

// KernelFactory validates a node's attributes and builds its kernel.
type KernelFactory func(node *onnx.NodeProto) (Kernel, error)

type opKey struct {
	domain string
	opType string
}

// KernelRegistry maps (domain, op type) to kernel factories.
type KernelRegistry struct {
	mu        sync.RWMutex
	factories map[opKey]KernelFactory
}

// NewKernelRegistry returns an empty registry.
func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{factories: make(map[opKey]KernelFactory)}
}

// DefaultKernelRegistry returns a registry holding the built-in kernels.
func DefaultKernelRegistry() *KernelRegistry {
	r := NewKernelRegistry()
	r.registerONNXKernels()
	r.registerMLKernels()
	return r
}

func normalizeDomain(domain string) string {
	if domain == "ai.onnx" {
		return onnx.DomainONNX
	}
	return domain
}

// Register adds or replaces the factory for an operator.
func (r *KernelRegistry) Register(domain, opType string, f KernelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[opKey{normalizeDomain(domain), opType}] = f
}

// Lookup returns the factory for an operator.
func (r *KernelRegistry) Lookup(domain, opType string) (KernelFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[opKey{normalizeDomain(domain), opType}]
	return f, ok
}

// SupportedOps lists registered operators as "domain.OpType", sorted. The
// default domain is written as "ai.onnx".
func (r *KernelRegistry) SupportedOps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.factories))
	for k := range r.factories {
		domain := k.domain
		if domain == onnx.DomainONNX {
			domain = "ai.onnx"
		}
		ops = append(ops, domain+"."+k.opType)
	}
	sort.Strings(ops)
	return ops
}
