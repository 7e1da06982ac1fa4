// Package spec describes the pipeline YAML file.
package spec

import "gopkg.in/yaml.v3"

// Transformer types.
const (
	TransformerExpression = "expression" // in-process expression stage
	TransformerGRPC       = "grpc"       // remote plugin
)

type sinkConfigs struct {
	Kafka yaml.Node `yaml:"kafka"` // decoded into the kafka sink Config
}

type debugSection struct {
	PerFrameDelayMS int  `yaml:"per_frame_delay_ms"`
	PrintCounter    bool `yaml:"print_counter"`
	AckBatchSize    int  `yaml:"ack_batch_size"`
	AckFlushMS      int  `yaml:"ack_flush_ms"`
	PrintValue      bool `yaml:"print_value"`
	ValueMaxBytes   int  `yaml:"value_max_bytes"`
}

type RunnerSpec struct {
	Workers   int  `yaml:"workers"`    // concurrent transform workers, default 1
	QueueSize int  `yaml:"queue_size"` // frames buffered between source and workers
	FailFast  bool `yaml:"fail_fast"`  // stop the pipeline on the first stage failure
}

type TransformerSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // "expression" or "grpc"

	// expression
	Expression         string `yaml:"expression"`
	DefaultContentType string `yaml:"default_content_type"`
	Config             string `yaml:"config"` // optional koanf file, env overrides apply

	// grpc
	Address     string `yaml:"address"` // e.g. "localhost:50051"
	TimeoutMS   int    `yaml:"timeout_ms"`
	RetryPolicy struct {
		Attempts  int `yaml:"attempts"`
		BackoffMS int `yaml:"backoff_ms"`
	} `yaml:"retry_policy"`
	CircuitBreaker struct {
		Failures uint32 `yaml:"failures"`
		ResetMS  int    `yaml:"reset_ms"`
	} `yaml:"circuit_breaker"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	// Ordered list of transformers applied between source and sinks.
	Transformers []TransformerSpec `yaml:"transformers"`

	Runner      RunnerSpec   `yaml:"runner"`
	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Debug       debugSection `yaml:"debug"`
}
