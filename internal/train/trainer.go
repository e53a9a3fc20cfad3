// Package train runs next-token training: cross-entropy loss over
// shifted labels, manual gradients from the model's backward pass, and an
// optimizer driven by a warmup/cosine schedule.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/samcharles93/kiln/internal/checkpoint"
	"github.com/samcharles93/kiln/internal/corpus"
	"github.com/samcharles93/kiln/internal/logger"
	"github.com/samcharles93/kiln/internal/model"
)

// Config controls a training run.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	WeightDecay  float64
	WarmupSteps  int
	CosineDecay  bool
	ClipNorm     float64
	Optimizer    string // "adamw" or "sgd"
	Seed         int64

	// CheckpointPath receives the trained weights; empty skips saving.
	CheckpointPath string
	// ProgressBar draws a live bar on stderr.
	ProgressBar bool
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Steps      int
	FinalLoss  float64
	Perplexity float64
}

// Trainer owns one model/dataset pair for the duration of a run.
type Trainer struct {
	model *model.Transformer
	ds    *corpus.Dataset
	cfg   Config
	log   logger.Logger
}

// New builds a trainer. Zero config fields get working defaults
// (1 epoch, batch size 1, lr 3e-4, weight decay 0.01, AdamW).
func New(m *model.Transformer, ds *corpus.Dataset, cfg Config, log logger.Logger) *Trainer {
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 3e-4
	}
	if cfg.WeightDecay == 0 {
		cfg.WeightDecay = 0.01
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adamw"
	}
	if log == nil {
		log = logger.Default()
	}
	return &Trainer{model: m, ds: ds, cfg: cfg, log: log.With("component", "train")}
}

// Run trains until the configured epochs complete or ctx is canceled.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	cfg := t.cfg
	var opt Optimizer
	switch cfg.Optimizer {
	case "adamw":
		opt = NewAdamW(cfg.WeightDecay)
	case "sgd":
		opt = SGD{}
	default:
		return Result{}, fmt.Errorf("unknown optimizer %q", cfg.Optimizer)
	}

	stepsPerEpoch := (t.ds.Len() + cfg.BatchSize - 1) / cfg.BatchSize
	totalSteps := cfg.Epochs * stepsPerEpoch
	sched := Schedule{
		Base:        cfg.LearningRate,
		Final:       cfg.LearningRate / 10,
		WarmupSteps: cfg.WarmupSteps,
	}
	if cfg.CosineDecay {
		sched.TotalSteps = totalSteps
	}

	runID := uuid.NewString()
	t.log.Info("starting run",
		"run_id", runID,
		"chunks", t.ds.Len(),
		"steps", totalSteps,
		"parameters", t.model.NumParams(),
		"optimizer", cfg.Optimizer)

	var bar *progressbar.ProgressBar
	if cfg.ProgressBar {
		bar = progressbar.Default(int64(totalSteps), "training")
	}

	params := t.model.Parameters()
	rng := rand.New(rand.NewSource(cfg.Seed))
	vocab := t.model.Args.VocabSize

	t.model.Training = true
	defer func() { t.model.Training = false }()

	start := time.Now()
	step := 0
	var lastLoss float64
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		perm := rng.Perm(t.ds.Len())
		var epochLoss float64
		batches := 0
		for lo := 0; lo < len(perm); lo += cfg.BatchSize {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			hi := lo + cfg.BatchSize
			if hi > len(perm) {
				hi = len(perm)
			}
			batch := t.ds.Batch(perm[lo:hi])

			logits, err := t.model.Forward(batch.Inputs, 0)
			if err != nil {
				return Result{}, fmt.Errorf("forward at step %d: %w", step, err)
			}
			loss, dLogits, err := CrossEntropy(logits, batch.Labels, vocab)
			if err != nil {
				return Result{}, fmt.Errorf("loss at step %d: %w", step, err)
			}
			if err := t.model.Backward(dLogits); err != nil {
				return Result{}, fmt.Errorf("backward at step %d: %w", step, err)
			}

			ClipGradNorm(params, cfg.ClipNorm)
			opt.Step(params, sched.LR(step))
			t.model.ZeroGrads()

			epochLoss += loss
			batches++
			step++
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		lastLoss = epochLoss / float64(batches)
		t.log.Info("epoch complete",
			"epoch", epoch,
			"loss", fmt.Sprintf("%.4f", lastLoss),
			"perplexity", fmt.Sprintf("%.2f", Perplexity(lastLoss)),
			"lr", fmt.Sprintf("%.2e", sched.LR(step-1)))
	}
	if bar != nil {
		_ = bar.Finish()
	}

	res := Result{
		RunID:      runID,
		Steps:      step,
		FinalLoss:  lastLoss,
		Perplexity: Perplexity(lastLoss),
	}

	if cfg.CheckpointPath != "" {
		argsJSON, err := json.Marshal(t.model.Args)
		if err != nil {
			return res, fmt.Errorf("encoding model config: %w", err)
		}
		meta := map[string]string{
			"run_id":     runID,
			"config":     string(argsJSON),
			"trained_at": time.Now().UTC().Format(time.RFC3339),
			"steps":      fmt.Sprintf("%d", step),
		}
		if err := checkpoint.Save(cfg.CheckpointPath, params, meta); err != nil {
			return res, fmt.Errorf("saving checkpoint: %w", err)
		}
		t.log.Info("checkpoint saved", "path", cfg.CheckpointPath, "duration", time.Since(start).Round(time.Second))
	}
	return res, nil
}
