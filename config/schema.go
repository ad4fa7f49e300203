package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/uffizio/snap/errors"
)

// Validate checks the namespace contents against a JSON Schema document.
// Components call this from their bootstrap to fail fast on bad config;
// the returned error lists every violated constraint.
func (c *Config) Validate(schema []byte) error {
	if len(schema) == 0 {
		return errors.WrapContract(errors.ErrInvalidConfig, "config", "Validate", "empty schema")
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(c.Data())

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInit(err, "config", "Validate", "run schema validation")
	}

	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return errors.WrapInit(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"config", "Validate", "check document",
	)
}
