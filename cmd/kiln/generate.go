package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kiln/internal/checkpoint"
	"github.com/samcharles93/kiln/internal/infer"
	"github.com/samcharles93/kiln/internal/model"
	"github.com/samcharles93/kiln/internal/tokenizer"
)

type generateOptions struct {
	modelPath    string
	tokenizerDir string
	prompt       string
	steps        int64
}

func generateCmd() *cli.Command {
	o := &generateOptions{
		modelPath: "model.safetensors",
		steps:     128,
	}
	return &cli.Command{
		Name:    "generate",
		Aliases: []string{"gen"},
		Usage:   "Greedily generate text from a trained checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "checkpoint path",
				Value:       o.modelPath,
				Destination: &o.modelPath,
			},
			&cli.StringFlag{
				Name:        "tokenizer",
				Usage:       "GPT-2 tokenizer asset directory (empty = byte-level)",
				Destination: &o.tokenizerDir,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Destination: &o.prompt,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "maximum new tokens",
				Value:       o.steps,
				Destination: &o.steps,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyGenerateConfig(cmd, loadConfig(), o)
			return runGenerate(ctx, cmd, o)
		},
	}
}

func runGenerate(ctx context.Context, cmd *cli.Command, o *generateOptions) error {
	log := newLogger(cmd)
	if o.prompt == "" {
		return fmt.Errorf("a prompt is required (--prompt)")
	}

	// The checkpoint metadata carries the model configuration, so the
	// architecture flags used for training do not need repeating here.
	meta, err := checkpoint.ReadMeta(o.modelPath)
	if err != nil {
		return err
	}
	cfgJSON, ok := meta["config"]
	if !ok {
		return fmt.Errorf("checkpoint %s has no stored model configuration", o.modelPath)
	}
	var args model.Args
	if err := json.Unmarshal([]byte(cfgJSON), &args); err != nil {
		return fmt.Errorf("parsing stored model configuration: %w", err)
	}

	m, err := model.New(args)
	if err != nil {
		return fmt.Errorf("building model: %w", err)
	}
	if _, err := checkpoint.Load(o.modelPath, m.Parameters()); err != nil {
		return fmt.Errorf("loading weights: %w", err)
	}
	log.Info("checkpoint loaded", "path", o.modelPath, "run_id", meta["run_id"], "parameters", m.NumParams())

	tk, err := tokenizer.Open(o.tokenizerDir)
	if err != nil {
		return fmt.Errorf("opening tokenizer: %w", err)
	}
	gen, err := infer.New(m, tk, log)
	if err != nil {
		return err
	}

	fmt.Print(o.prompt)
	_, err = gen.Generate(ctx, o.prompt, infer.Options{
		MaxNewTokens: int(o.steps),
		Stream: func(text string) {
			fmt.Print(text)
		},
	})
	fmt.Println()
	if err != nil {
		return err
	}
	_ = os.Stdout.Sync()
	return nil
}
