package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EngineEnvPrefix scopes environment overrides for the processor process,
// e.g. XFORM_ENGINE__GRPC_PORT=7171.
const EngineEnvPrefix = "XFORM_ENGINE__"

// Engine holds the process-level properties of the processor.
type Engine struct {
	GRPCPort    int    `koanf:"grpc_port"`
	MetricsPort int    `koanf:"metrics_port"`
	Pipeline    string `koanf:"pipeline"` // pipeline YAML, empty = plugin only

	// Served on the gRPC port when no pipeline declares an expression stage.
	Transformer Transformer `koanf:"transformer"`
}

func DefaultEngine() Engine {
	return Engine{
		GRPCPort:    7070,
		MetricsPort: 9100,
		Pipeline:    "pipeline.yml",
	}
}

// LoadEngineConfig layers defaults, the optional YAML file at path and
// XFORM_ENGINE__ variables.
func LoadEngineConfig(path string) (Engine, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Engine{}, err
		}
	}
	if err := k.Load(env.Provider(EngineEnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EngineEnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Engine{}, err
	}

	cfg := DefaultEngine()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}
