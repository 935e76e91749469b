package centernet

import (
	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/device"
)

// Mode selects how the builder obtains the network.
type Mode int

const (
	// ModeFresh builds a new network from the base network registry.
	ModeFresh Mode = iota
	// ModeTransfer starts from a pretrained network and rebinds its classes.
	ModeTransfer
)

func (m Mode) String() string {
	switch m {
	case ModeFresh:
		return "fresh"
	case ModeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// BuildConfig is the network part of a run configuration.
type BuildConfig struct {
	BaseNetwork string
	Transfer    string // pretrained network name; empty builds fresh
	NumClass    int    // 0 takes the count from the dataset
	Heads       HeadsSpec
	Scale       int
	TopK        int
	Seed        int64
}

// Mode returns the build mode implied by cfg.
func (cfg BuildConfig) Mode() Mode {
	if cfg.Transfer != "" {
		return ModeTransfer
	}
	return ModeFresh
}

// Build prepares a network for classes on ctxs.
//
// Every bias parameter is excluded from weight decay.
func Build(cfg BuildConfig, classes []string, ctxs []device.Context, zoo Zoo) (Network, error) {
	if len(classes) == 0 {
		return nil, ErrUnknownClassCount
	}
	if cfg.NumClass > 0 && cfg.NumClass != len(classes) {
		return nil, errors.Wrapf(ErrClassMismatch, "num_class is %d but %d classes are bound", cfg.NumClass, len(classes))
	}

	var net Network
	switch mode := cfg.Mode(); mode {
	case ModeTransfer:
		if zoo == nil {
			return nil, errors.Errorf("transfer from %q needs a model zoo", cfg.Transfer)
		}
		pretrained, err := zoo.Pretrained(cfg.Transfer)
		if err != nil {
			return nil, err
		}
		known := make(map[string]bool, len(pretrained.Classes()))
		for _, c := range pretrained.Classes() {
			known[c] = true
		}
		reuse := make(map[string]string)
		for _, c := range classes {
			if known[c] {
				reuse[c] = c
			}
		}
		if err := pretrained.ResetClass(classes, reuse); err != nil {
			return nil, errors.Wrapf(err, "reset classes of %q", cfg.Transfer)
		}
		net = pretrained
	case ModeFresh:
		fresh, err := NewPoolNet(Spec{
			BaseNetwork: cfg.BaseNetwork,
			Classes:     classes,
			Heads:       cfg.Heads,
			Scale:       cfg.Scale,
			TopK:        cfg.TopK,
		})
		if err != nil {
			return nil, err
		}
		fresh.Initialize(cfg.Seed)
		net = fresh
	default:
		return nil, errors.Errorf("unsupported build mode %s", mode)
	}

	biases, err := net.CollectParams(`.*bias`)
	if err != nil {
		return nil, err
	}
	for _, p := range biases {
		p.WDMult = 0
	}
	net.ResetCtx(ctxs)
	return net, nil
}
