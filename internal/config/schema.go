package config

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://github.com/born-ml/centernet/blob/main/internal/config/schema.json"

var configSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(schemaURL)
}()

func validateSchema(c *Config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal configuration")
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode configuration")
	}
	if err := configSchema.Validate(v); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			b, _ := json.MarshalIndent(verr.BasicOutput(), "", "  ")
			return errors.Wrapf(ErrInvalidConfig, "%s", b)
		}
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}
