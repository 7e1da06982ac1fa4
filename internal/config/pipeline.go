package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"xform/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, and
// returns the parsed file with every referenced config path made absolute
// relative to the pipeline file.
func LoadPipelineSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if len(cfg.Transformers) == 0 {
		// no transformers declared: a single identity expression stage
		cfg.Transformers = []spec.TransformerSpec{{Name: "transform", Type: spec.TransformerExpression}}
	}
	for i := range cfg.Transformers {
		t := &cfg.Transformers[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("transformer-%d", i)
		}
		t.Config = resolve(path, t.Config)
	}
	if cfg.Runner.Workers <= 0 {
		cfg.Runner.Workers = 1
	}
	if cfg.Runner.QueueSize <= 0 {
		cfg.Runner.QueueSize = 1024
	}
	return cfg, resolve(path, cfg.Source.Config), nil
}

func resolve(pipelinePath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(pipelinePath), p)
}
