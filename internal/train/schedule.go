package train

import "math"

// Schedule produces the learning rate for a step: linear warmup from
// zero over WarmupSteps, then cosine decay from Base to Final over the
// remaining steps. With TotalSteps 0 the rate is constant at Base after
// warmup.
type Schedule struct {
	Base        float64
	Final       float64
	WarmupSteps int
	TotalSteps  int
}

// LR returns the learning rate for a zero-based step index.
func (s Schedule) LR(step int) float64 {
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return s.Base * float64(step+1) / float64(s.WarmupSteps)
	}
	if s.TotalSteps <= s.WarmupSteps {
		return s.Base
	}
	progress := float64(step-s.WarmupSteps) / float64(s.TotalSteps-s.WarmupSteps)
	if progress > 1 {
		progress = 1
	}
	cos := 0.5 * (1 + math.Cos(math.Pi*progress))
	return s.Final + (s.Base-s.Final)*cos
}
