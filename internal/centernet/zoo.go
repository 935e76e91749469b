package centernet

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Zoo resolves pretrained networks by name.
type Zoo interface {
	Pretrained(name string) (Network, error)
}

// FileZoo serves pretrained networks stored as <Root>/<name>.born.
type FileZoo struct {
	Root string
}

// Pretrained loads the network called name.
func (z FileZoo) Pretrained(name string) (Network, error) {
	path := filepath.Join(z.Root, name+".born")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrUnknownNetwork, "pretrained network %q not found in %s", name, z.Root)
		}
		return nil, errors.Wrapf(err, "pretrained network %q", name)
	}
	net, _, err := Load(path)
	if err != nil {
		return nil, err
	}
	return net, nil
}
