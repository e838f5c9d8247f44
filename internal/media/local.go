// Package media provides the local and remote media of a call: sample
// tracks fed from files, a still-frame camera for classification and a
// drain for remote tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const streamID = "findit"

// oggPageDuration is the pacing of Opus pages.
const oggPageDuration = 20 * time.Millisecond

// errNoSamples ends the loop over a file with a valid header but no media.
var errNoSamples = errors.New("file has no media samples")

// TrackAdder is the part of a peer connection that accepts local tracks.
type TrackAdder interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
}

// LocalOptions selects the files feeding the local tracks. Empty paths
// leave the corresponding track silent.
type LocalOptions struct {
	VideoFile string // IVF with VP8 frames
	AudioFile string // Ogg with Opus pages
	Clock     clockwork.Clock
}

// Local holds the outgoing audio and video tracks of this peer.
type Local struct {
	Video *webrtc.TrackLocalStaticSample
	Audio *webrtc.TrackLocalStaticSample

	opts   LocalOptions
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	live   atomic.Bool
	once   sync.Once
}

// NewLocal creates the local tracks. They are live until Stop.
func NewLocal(opts LocalOptions) (*Local, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{Video: video, Audio: audio, opts: opts, ctx: ctx, cancel: cancel}
	l.live.Store(true)
	return l, nil
}

// Live reports whether the tracks have not been stopped.
func (l *Local) Live() bool {
	return l.live.Load()
}

// Attach adds both tracks to pc and starts feeding them.
func (l *Local) Attach(pc TrackAdder) error {
	if !l.Live() {
		return errors.New("local media stopped")
	}
	for _, track := range []*webrtc.TrackLocalStaticSample{l.Video, l.Audio} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		l.drainRTCP(sender)
	}
	l.Start()
	return nil
}

// Start feeds the configured files into the tracks, looping at EOF.
func (l *Local) Start() {
	if l.opts.VideoFile != "" {
		l.loop(l.opts.VideoFile, func(ctx context.Context, r io.Reader) error {
			return streamIVF(ctx, r, l.opts.Clock, l.Video.WriteSample)
		})
	}
	if l.opts.AudioFile != "" {
		l.loop(l.opts.AudioFile, func(ctx context.Context, r io.Reader) error {
			return streamOgg(ctx, r, l.opts.Clock, l.Audio.WriteSample)
		})
	}
}

// Stop ends the file feeds. It is safe to call more than once.
func (l *Local) Stop() {
	l.once.Do(func() {
		l.live.Store(false)
		l.cancel()
	})
	l.wg.Wait()
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func (l *Local) drainRTCP(sender *webrtc.RTPSender) {
	if sender == nil {
		return
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (l *Local) loop(path string, stream func(context.Context, io.Reader) error) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for l.ctx.Err() == nil {
			if err := playFile(l.ctx, path, stream); err != nil {
				log.Error().Err(err).Str("file", path).Msg("stopped feeding media file")
				return
			}
		}
	}()
}

func playFile(ctx context.Context, path string, stream func(context.Context, io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return stream(ctx, f)
}

// streamIVF writes every VP8 frame of r as a sample, paced by the file's
// timebase. It returns nil at the end of the file, or errNoSamples when the
// file has no frames.
func streamIVF(ctx context.Context, r io.Reader, clock clockwork.Clock, write func(media.Sample) error) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return errors.New("ivf timebase denominator is zero")
	}
	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frameDuration <= 0 {
		return errors.New("ivf frame duration is zero")
	}

	ticker := clock.NewTicker(frameDuration)
	defer ticker.Stop()

	written := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if written == 0 {
				return errNoSamples
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}
		if err := write(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
		written++
	}
}

// streamOgg writes every Opus page of r as a sample. Sample durations follow
// the granule positions at 48 kHz.
func streamOgg(ctx context.Context, r io.Reader, clock clockwork.Clock, write func(media.Sample) error) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	ticker := clock.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	written := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if written == 0 {
				return errNoSamples
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ogg page: %w", err)
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		if err := write(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
		written++
	}
}
