package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kiln/internal/corpus"
	"github.com/samcharles93/kiln/internal/model"
	"github.com/samcharles93/kiln/internal/tokenizer"
	"github.com/samcharles93/kiln/internal/train"
)

type trainOptions struct {
	dataDir       string
	checkpointOut string
	tokenizerDir  string

	dim        int64
	layers     int64
	heads      int64
	kvHeads    int64
	seqLen     int64
	multipleOf int64

	epochs      int64
	batchSize   int64
	lr          float64
	weightDecay float64
	warmup      int64
	clip        float64
	optimizer   string
	seed        int64
	noProgress  bool
}

func defaultTrainOptions() *trainOptions {
	return &trainOptions{
		dataDir:       "data",
		checkpointOut: "model.safetensors",
		dim:           128,
		layers:        4,
		heads:         4,
		seqLen:        128,
		multipleOf:    32,
		epochs:        1,
		batchSize:     8,
		lr:            3e-4,
		weightDecay:   0.01,
		warmup:        10,
		clip:          1.0,
		optimizer:     "adamw",
		seed:          1337,
	}
}

func trainCmd() *cli.Command {
	o := defaultTrainOptions()
	return &cli.Command{
		Name:  "train",
		Usage: "Train a model on a directory of text documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "directory of .txt training documents",
				Value:       o.dataDir,
				Destination: &o.dataDir,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "checkpoint output path",
				Value:       o.checkpointOut,
				Destination: &o.checkpointOut,
			},
			&cli.StringFlag{
				Name:        "tokenizer",
				Usage:       "GPT-2 tokenizer asset directory (empty = byte-level)",
				Destination: &o.tokenizerDir,
			},
			&cli.Int64Flag{
				Name:        "dim",
				Usage:       "embedding dimension",
				Value:       o.dim,
				Destination: &o.dim,
			},
			&cli.Int64Flag{
				Name:        "layers",
				Usage:       "number of transformer layers",
				Value:       o.layers,
				Destination: &o.layers,
			},
			&cli.Int64Flag{
				Name:        "heads",
				Usage:       "number of attention heads",
				Value:       o.heads,
				Destination: &o.heads,
			},
			&cli.Int64Flag{
				Name:        "kv-heads",
				Aliases:     []string{"kv_heads"},
				Usage:       "number of key/value heads (0 = same as heads)",
				Destination: &o.kvHeads,
			},
			&cli.Int64Flag{
				Name:        "seq-len",
				Aliases:     []string{"seq_len"},
				Usage:       "training sequence length",
				Value:       o.seqLen,
				Destination: &o.seqLen,
			},
			&cli.Int64Flag{
				Name:        "multiple-of",
				Aliases:     []string{"multiple_of"},
				Usage:       "round the feed-forward width up to this multiple",
				Value:       o.multipleOf,
				Destination: &o.multipleOf,
			},
			&cli.Int64Flag{
				Name:        "epochs",
				Usage:       "training epochs",
				Value:       o.epochs,
				Destination: &o.epochs,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Aliases:     []string{"batch_size", "b"},
				Usage:       "sequences per step",
				Value:       o.batchSize,
				Destination: &o.batchSize,
			},
			&cli.Float64Flag{
				Name:        "lr",
				Aliases:     []string{"learning-rate"},
				Usage:       "peak learning rate",
				Value:       o.lr,
				Destination: &o.lr,
			},
			&cli.Float64Flag{
				Name:        "weight-decay",
				Aliases:     []string{"weight_decay"},
				Usage:       "AdamW weight decay",
				Value:       o.weightDecay,
				Destination: &o.weightDecay,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "linear warmup steps",
				Value:       o.warmup,
				Destination: &o.warmup,
			},
			&cli.Float64Flag{
				Name:        "clip",
				Usage:       "max gradient norm (0 = no clipping)",
				Value:       o.clip,
				Destination: &o.clip,
			},
			&cli.StringFlag{
				Name:        "optimizer",
				Usage:       "optimizer (adamw, sgd)",
				Value:       o.optimizer,
				Destination: &o.optimizer,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for weight init and batch shuffling",
				Value:       o.seed,
				Destination: &o.seed,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &o.noProgress,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyTrainConfig(cmd, loadConfig(), o)
			return runTrain(ctx, cmd, o)
		},
	}
}

func runTrain(ctx context.Context, cmd *cli.Command, o *trainOptions) error {
	log := newLogger(cmd)

	tk, err := tokenizer.Open(o.tokenizerDir)
	if err != nil {
		return fmt.Errorf("opening tokenizer: %w", err)
	}

	ds, err := corpus.Load(o.dataDir, tk, int(o.seqLen))
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}

	args := model.Args{
		Dim:        int(o.dim),
		NLayers:    int(o.layers),
		NHeads:     int(o.heads),
		NKVHeads:   int(o.kvHeads),
		VocabSize:  tk.VocabSize(),
		MultipleOf: int(o.multipleOf),
		MaxSeqLen:  int(o.seqLen),
	}
	m, err := model.New(args)
	if err != nil {
		return fmt.Errorf("building model: %w", err)
	}
	m.InitRandom(o.seed)
	log.Info("model built",
		"dim", m.Args.Dim,
		"layers", m.Args.NLayers,
		"heads", m.Args.NHeads,
		"kv_heads", m.Args.NKVHeads,
		"vocab", m.Args.VocabSize,
		"parameters", m.NumParams())

	tr := train.New(m, ds, train.Config{
		Epochs:         int(o.epochs),
		BatchSize:      int(o.batchSize),
		LearningRate:   o.lr,
		WeightDecay:    o.weightDecay,
		WarmupSteps:    int(o.warmup),
		CosineDecay:    true,
		ClipNorm:       o.clip,
		Optimizer:      o.optimizer,
		Seed:           o.seed,
		CheckpointPath: o.checkpointOut,
		ProgressBar:    !o.noProgress,
	}, log)

	res, err := tr.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("training finished",
		"run_id", res.RunID,
		"steps", res.Steps,
		"loss", fmt.Sprintf("%.4f", res.FinalLoss),
		"perplexity", fmt.Sprintf("%.2f", res.Perplexity))
	return nil
}
