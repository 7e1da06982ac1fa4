package config

import (
	"errors"
	"io/fs"
	"strings"
	"unicode"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"xform/internal/message"
)

// TransformerEnvPrefix scopes environment overrides for an unnamed
// expression stage, e.g. XFORM_TRANSFORMER__EXPRESSION='upper(payload)'.
// Named pipeline stages read XFORM_TRANSFORMER__<NAME>__EXPRESSION instead,
// see TransformerEnvPrefixFor.
const TransformerEnvPrefix = "XFORM_TRANSFORMER__"

// TransformerEnvPrefixFor returns the env prefix of the stage called name.
// The name is upper-cased and every rune outside [A-Z0-9] becomes '_', so
// "to-json" reads XFORM_TRANSFORMER__TO_JSON__*.
func TransformerEnvPrefixFor(name string) string {
	if name == "" {
		return TransformerEnvPrefix
	}
	return TransformerEnvPrefix + strings.Map(func(r rune) rune {
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name) + "__"
}

// Transformer holds the expression stage properties.
type Transformer struct {
	Expression         string `koanf:"expression"`
	DefaultContentType string `koanf:"default_content_type"`
}

// LoadTransformerConfig layers, lowest first: inline (values from the
// pipeline file), the optional YAML file at path, then environment
// variables under the stage's own prefix. An empty expression means
// identity.
func LoadTransformerConfig(name, path string, inline Transformer) (Transformer, error) {
	prefix := TransformerEnvPrefixFor(name)
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Transformer{}, err
		}
	}
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Transformer{}, err
	}

	cfg := inline
	if k.Exists("expression") {
		cfg.Expression = k.String("expression")
	}
	if k.Exists("default_content_type") {
		cfg.DefaultContentType = k.String("default_content_type")
	}
	if strings.TrimSpace(cfg.DefaultContentType) == "" {
		cfg.DefaultContentType = message.ContentTypeJSON
	}
	return cfg, nil
}
