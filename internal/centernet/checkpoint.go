package centernet

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/born-ml/centernet/internal/nn"
	"github.com/born-ml/centernet/internal/serialization"
)

const (
	modelType   = "CenterNet"
	specMetaKey = "network.spec"
)

// Save writes the network's parameters and spec to a .born file. meta may
// be nil for plain weight files.
func Save(path string, net Network, meta *serialization.CheckpointMeta) error {
	params, err := net.CollectParams("")
	if err != nil {
		return err
	}
	spec, err := json.Marshal(net.Spec())
	if err != nil {
		return errors.Wrap(err, "marshal network spec")
	}
	header := serialization.Header{
		ModelType:      modelType,
		Metadata:       map[string]string{specMetaKey: string(spec)},
		CheckpointMeta: meta,
	}
	if err := serialization.WriteFile(path, nn.StateDict(params), header); err != nil {
		return errors.Wrapf(err, "save network to %s", path)
	}
	return nil
}

// Load restores a network saved with Save.
func Load(path string) (*PoolNet, serialization.Header, error) {
	header, sd, err := serialization.ReadFile(path)
	if err != nil {
		return nil, header, errors.Wrapf(err, "load network from %s", path)
	}
	if header.ModelType != modelType {
		return nil, header, errors.Errorf("%s holds a %q model, expected %q", path, header.ModelType, modelType)
	}
	var spec Spec
	if err := json.Unmarshal([]byte(header.Metadata[specMetaKey]), &spec); err != nil {
		return nil, header, errors.Wrapf(err, "%s: parse network spec", path)
	}
	net, err := NewPoolNet(spec)
	if err != nil {
		return nil, header, err
	}
	params, err := net.CollectParams("")
	if err != nil {
		return nil, header, err
	}
	if err := nn.LoadStateDict(params, sd); err != nil {
		return nil, header, errors.Wrapf(err, "%s", path)
	}
	return net, header, nil
}
