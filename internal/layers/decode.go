package layers

import (
	"bytes"
	"encoding/json"
	"path"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"skref/internal/errors"
)

// configFiles lists configuration override names in merge order within a tier.
var configFiles = []string{
	"skill-config.json",
	"skill-config.toml",
	"skill-config.yaml",
	"skill-config.yml",
}

func configRank(name string) int {
	for i, f := range configFiles {
		if f == name {
			return i
		}
	}
	return len(configFiles)
}

// decodeConfig reads a flat key/value mapping in the format named by the
// file extension.
func decodeConfig(name string, data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var err error
	switch path.Ext(name) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&out)
		if err == nil {
			out = normalizeJSONNumbers(out)
		}
	case ".toml":
		err = toml.Unmarshal(data, &out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		return nil, errors.Newf(errors.InvalidLayer, "unsupported configuration format %q", name)
	}
	if err != nil {
		return nil, errors.NewSkrefError(errors.InvalidLayer, "decode "+name, err)
	}
	return out, nil
}

// normalizeJSONNumbers turns integral json.Number values into int64, as the
// TOML decoder does, and the rest into float64.
func normalizeJSONNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeJSONValue(v)
	}
	return m
}

func normalizeJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return normalizeJSONNumbers(t)
	case []any:
		for i := range t {
			t[i] = normalizeJSONValue(t[i])
		}
		return t
	default:
		return v
	}
}
