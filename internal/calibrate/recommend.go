package calibrate

import (
	"errors"
	"fmt"
	"time"
)

// Default recommendation parameters.
const (
	DefaultBias      = 0.3
	DefaultMinRatio  = 1.5
	DefaultMinMargin = 0.002

	conservativeBias = 0.2
	aggressiveBias   = 0.8
)

var (
	// ErrIndistinguishable reports that speech was not loud enough relative
	// to the room to place a reliable threshold.
	ErrIndistinguishable = errors.New("cannot distinguish speech from silence")

	// ErrNoSamples is returned when a phase ended before any block arrived.
	ErrNoSamples = errors.New("calibration phase collected no audio")
)

// Options tunes how a threshold is placed between ambient and speech levels.
type Options struct {
	// Bias positions the threshold between the ambient peak (0) and the
	// speech mean (1). Low values favour stopping on quiet pauses.
	Bias float64
	// MinRatio and MinMargin set the separation the speech mean must reach
	// above the ambient peak, as a multiple and as an absolute level.
	MinRatio  float64
	MinMargin float64
	// SilenceDuration is passed through as the recommended silence duration.
	SilenceDuration time.Duration
}

// DefaultOptions returns the default recommendation parameters.
func DefaultOptions() Options {
	return Options{
		Bias:            DefaultBias,
		MinRatio:        DefaultMinRatio,
		MinMargin:       DefaultMinMargin,
		SilenceDuration: 2 * time.Second,
	}
}

// Validate checks that the options can produce a threshold strictly between
// the two phase levels.
func (o Options) Validate() error {
	if o.Bias <= 0 || o.Bias >= 1 {
		return fmt.Errorf("calibration bias must be between 0 and 1 exclusive, got %g", o.Bias)
	}
	if o.MinRatio < 1 {
		return fmt.Errorf("calibration min ratio must be at least 1, got %g", o.MinRatio)
	}
	if o.MinMargin < 0 {
		return fmt.Errorf("calibration min margin must not be negative, got %g", o.MinMargin)
	}
	return nil
}

// Setting is a named threshold alternative.
type Setting struct {
	Name      string  `json:"name"`
	Bias      float64 `json:"bias"`
	Threshold float64 `json:"threshold"`
}

// Recommendation is the outcome of a successful calibration.
type Recommendation struct {
	Threshold       float64       `json:"threshold"`
	SilenceDuration time.Duration `json:"silence_duration"`
	Ambient         Stats         `json:"ambient"`
	Speech          Stats         `json:"speech"`
	// Alternatives lists conservative, balanced and aggressive thresholds.
	Alternatives []Setting `json:"alternatives"`
}

// Advisory is returned instead of a recommendation when speech does not
// stand out from the room. It matches ErrIndistinguishable.
type Advisory struct {
	Ambient  Stats
	Speech   Stats
	Required float64 // speech mean needed for a recommendation
}

func (a *Advisory) Error() string {
	return fmt.Sprintf("%v: speech mean %.4f, ambient peak %.4f, need at least %.4f",
		ErrIndistinguishable, a.Speech.Mean, a.Ambient.Peak, a.Required)
}

func (a *Advisory) Unwrap() error { return ErrIndistinguishable }

// Recommend places a threshold between the ambient peak and the speech mean.
// It returns an *Advisory when the two are not separated by the configured
// margin; the caller decides whether to retry or keep its settings.
func Recommend(ambient, speech Stats, opts Options) (*Recommendation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if ambient.Blocks == 0 {
		return nil, fmt.Errorf("%s: %w", PhaseAmbient, ErrNoSamples)
	}
	if speech.Blocks == 0 {
		return nil, fmt.Errorf("%s: %w", PhaseSpeech, ErrNoSamples)
	}

	required := max(ambient.Peak*opts.MinRatio, ambient.Peak+opts.MinMargin)
	if speech.Mean < required || speech.Mean <= ambient.Peak {
		return nil, &Advisory{Ambient: ambient, Speech: speech, Required: required}
	}

	between := func(bias float64) float64 {
		return ambient.Peak + bias*(speech.Mean-ambient.Peak)
	}

	return &Recommendation{
		Threshold:       between(opts.Bias),
		SilenceDuration: opts.SilenceDuration,
		Ambient:         ambient,
		Speech:          speech,
		Alternatives: []Setting{
			{Name: "conservative", Bias: conservativeBias, Threshold: between(conservativeBias)},
			{Name: "balanced", Bias: opts.Bias, Threshold: between(opts.Bias)},
			{Name: "aggressive", Bias: aggressiveBias, Threshold: between(aggressiveBias)},
		},
	}, nil
}
