// Package device resolves configured accelerator indices into compute contexts.
//
// A Context is a placement label: tensors and parameters carry the context they
// were loaded on, and the training loop splits every batch across the resolved
// context list. An empty device list resolves to a single host context.
package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrInvalidDevice is returned when a configured device index cannot be used.
var ErrInvalidDevice = errors.New("invalid device")

// Kind identifies the class of compute device backing a Context.
type Kind int

// Supported device kinds.
const (
	CPU Kind = iota
	GPU
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// Context is a single compute context (device kind plus ordinal).
type Context struct {
	Kind Kind
	ID   int
}

// Host returns the default host context.
func Host() Context {
	return Context{Kind: CPU, ID: 0}
}

// String formats the context as kind(id), e.g. "gpu(1)".
func (c Context) String() string {
	return fmt.Sprintf("%s(%d)", c.Kind, c.ID)
}

// Prober reports how many accelerators are visible on this machine.
type Prober interface {
	NumGPUs() (int, error)
}

// StaticProber is a Prober with a fixed device count.
type StaticProber int

// NumGPUs returns the fixed count.
func (p StaticProber) NumGPUs() (int, error) {
	return int(p), nil
}

// Resolve maps configured device indices to an ordered context list.
//
// Rules:
//   - empty ids resolve to [cpu(0)]
//   - every id must be >= 0 and unique
//   - when p is non-nil, every id must be below p.NumGPUs()
//
// Invalid ids fail before any compute starts.
func Resolve(ids []int, p Prober) ([]Context, error) {
	if len(ids) == 0 {
		return []Context{Host()}, nil
	}

	available := -1
	if p != nil {
		n, err := p.NumGPUs()
		if err != nil {
			return nil, errors.Wrap(err, "count visible GPUs")
		}
		available = n
	}

	seen := make(map[int]struct{}, len(ids))
	ctxs := make([]Context, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			return nil, errors.Wrapf(ErrInvalidDevice, "negative gpu index %d", id)
		}
		if _, dup := seen[id]; dup {
			return nil, errors.Wrapf(ErrInvalidDevice, "gpu index %d listed twice", id)
		}
		if available >= 0 && id >= available {
			return nil, errors.Wrapf(ErrInvalidDevice, "gpu index %d out of range (%d visible)", id, available)
		}
		seen[id] = struct{}{}
		ctxs = append(ctxs, Context{Kind: GPU, ID: id})
	}
	return ctxs, nil
}

// stream tracks the work launched on one context.
type stream struct {
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

var (
	streamsMu sync.Mutex
	streams   = make(map[Context]*stream)
)

func streamFor(c Context) *stream {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	s, ok := streams[c]
	if !ok {
		s = &stream{}
		streams[c] = s
	}
	return s
}

// Launch runs fn asynchronously on c. Its error is reported by the next
// Synchronize covering c. Work for one context is driven by a single
// caller at a time.
func Launch(c Context, fn func() error) {
	s := streamFor(c)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}()
}

// Synchronize waits until all work launched on ctxs has finished and
// returns the errors it reported, one per failed context.
func Synchronize(ctxs []Context) error {
	var errs error
	for _, c := range ctxs {
		s := streamFor(c)
		s.wg.Wait()
		s.mu.Lock()
		if s.err != nil {
			errs = multierr.Append(errs, errors.Wrapf(s.err, "%s", c))
			s.err = nil
		}
		s.mu.Unlock()
	}
	return errs
}

// Names renders a context list as "cpu(0),gpu(1)".
func Names(ctxs []Context) string {
	names := make([]string, len(ctxs))
	for i, c := range ctxs {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// HostInfo describes the host processor.
type HostInfo struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
}

// DescribeHost reports the host CPU features.
func DescribeHost() HostInfo {
	return HostInfo{
		Brand:         cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F),
	}
}
