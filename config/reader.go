package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"
)

// FromMap decodes a sparse set of overrides onto the defaults and validates the result.
// Unknown keys are an error.
func FromMap(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses JSON5 or YAML overrides from r. The format is picked from the extension of name,
// .json and .json5 being read as JSON5 and anything else as YAML.
func Read(r io.Reader, name string) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	attributes := map[string]interface{}{}
	if ext := strings.ToLower(filepath.Ext(name)); ext == ".json" || ext == ".json5" {
		if err := json5.Unmarshal(raw, &attributes); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", name)
		}
	} else if len(strings.TrimSpace(string(raw))) > 0 {
		if err := yaml.Unmarshal(raw, &attributes); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", name)
		}
	}
	return FromMap(attributes)
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return Read(f, path)
}
