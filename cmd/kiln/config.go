package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// fileConfig is the kiln configuration file (~/.config/kiln/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type fileConfig struct {
	DataDir      string `yaml:"data_dir"`
	Checkpoint   string `yaml:"checkpoint"`
	TokenizerDir string `yaml:"tokenizer_dir"`

	Model struct {
		Dim        *int64 `yaml:"dim"`
		NLayers    *int64 `yaml:"n_layers"`
		NHeads     *int64 `yaml:"n_heads"`
		NKVHeads   *int64 `yaml:"n_kv_heads"`
		MaxSeqLen  *int64 `yaml:"max_seq_len"`
		MultipleOf *int64 `yaml:"multiple_of"`
	} `yaml:"model"`

	Epochs       *int64   `yaml:"epochs"`
	BatchSize    *int64   `yaml:"batch_size"`
	LearningRate *float64 `yaml:"learning_rate"`
	Seed         *int64   `yaml:"seed"`

	Steps *int64 `yaml:"steps"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kiln", "config.yaml")
}

// loadConfig reads the config file, returning a zero config if it does
// not exist or does not parse.
func loadConfig() fileConfig {
	path := configPath()
	if path == "" {
		return fileConfig{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}
	}
	return cfg
}

// applyTrainConfig fills train options from the config file for flags the
// user did not set on the command line.
func applyTrainConfig(c *cli.Command, cfg fileConfig, o *trainOptions) {
	if cfg.DataDir != "" && !c.IsSet("data") {
		o.dataDir = cfg.DataDir
	}
	if cfg.Checkpoint != "" && !c.IsSet("out") {
		o.checkpointOut = cfg.Checkpoint
	}
	if cfg.TokenizerDir != "" && !c.IsSet("tokenizer") {
		o.tokenizerDir = cfg.TokenizerDir
	}
	if cfg.Model.Dim != nil && !c.IsSet("dim") {
		o.dim = *cfg.Model.Dim
	}
	if cfg.Model.NLayers != nil && !c.IsSet("layers") {
		o.layers = *cfg.Model.NLayers
	}
	if cfg.Model.NHeads != nil && !c.IsSet("heads") {
		o.heads = *cfg.Model.NHeads
	}
	if cfg.Model.NKVHeads != nil && !c.IsSet("kv-heads") {
		o.kvHeads = *cfg.Model.NKVHeads
	}
	if cfg.Model.MaxSeqLen != nil && !c.IsSet("seq-len") {
		o.seqLen = *cfg.Model.MaxSeqLen
	}
	if cfg.Model.MultipleOf != nil && !c.IsSet("multiple-of") {
		o.multipleOf = *cfg.Model.MultipleOf
	}
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		o.epochs = *cfg.Epochs
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		o.batchSize = *cfg.BatchSize
	}
	if cfg.LearningRate != nil && !c.IsSet("lr") {
		o.lr = *cfg.LearningRate
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
}

// applyGenerateConfig fills generate options from the config file.
func applyGenerateConfig(c *cli.Command, cfg fileConfig, o *generateOptions) {
	if cfg.Checkpoint != "" && !c.IsSet("model") {
		o.modelPath = cfg.Checkpoint
	}
	if cfg.TokenizerDir != "" && !c.IsSet("tokenizer") {
		o.tokenizerDir = cfg.TokenizerDir
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		o.steps = *cfg.Steps
	}
}
