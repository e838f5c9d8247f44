package classifier

import (
	"context"
	"image"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/score"
)

// DefaultInterval is the time between two frame submissions.
const DefaultInterval = 1500 * time.Millisecond

// FrameSource yields the latest camera frame, if any.
type FrameSource interface {
	Frame() (image.Image, bool)
}

// WordSource yields the current target word.
type WordSource interface {
	Word() string
}

// Scorer records a point for this peer.
type Scorer interface {
	Increment(ctx context.Context, role score.Role) error
}

// Classifier decides whether a word appears in a frame.
type Classifier interface {
	ProcessFrame(ctx context.Context, word, frame string) (bool, error)
}

// Poller periodically submits frames and scores positive answers.
type Poller struct {
	Classifier Classifier
	Frames     FrameSource
	Words      WordSource
	Scores     Scorer
	Clock      clockwork.Clock
	Interval   time.Duration

	// OnResult, if set, is called with every classifier answer.
	OnResult func(word string, found bool)
}

// Run polls until ctx is cancelled. Failed submissions are logged and
// dropped; the next tick is the retry.
func (p *Poller) Run(ctx context.Context) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	img, ok := p.Frames.Frame()
	if !ok {
		return
	}
	frame, err := EncodeFrame(img)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode frame")
		return
	}

	word := p.Words.Word()
	found, err := p.Classifier.ProcessFrame(ctx, word, frame)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("word", word).Msg("classification failed")
		}
		return
	}
	log.Debug().Str("word", word).Bool("found", found).Msg("frame classified")

	if p.OnResult != nil {
		p.OnResult(word, found)
	}
	if !found {
		return
	}
	if err := p.Scores.Increment(ctx, score.Local); err != nil {
		log.Warn().Err(err).Msg("failed to record point")
	}
}
