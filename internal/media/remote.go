package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Remote consumes the tracks sent by the other peer and counts what
// arrives.
type Remote struct {
	tracks  atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// Handle is a webrtc OnTrack handler.
func (r *Remote) Handle(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Info().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track started")
	r.drain(func(buf []byte) (int, error) {
		n, _, err := track.Read(buf)
		return n, err
	})
	log.Info().Str("kind", track.Kind().String()).Msg("remote track ended")
}

func (r *Remote) drain(read func([]byte) (int, error)) {
	r.tracks.Add(1)
	defer r.tracks.Add(-1)

	buf := make([]byte, 1500)
	for {
		n, err := read(buf)
		if err != nil {
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(n))
	}
}

// Tracks returns the number of remote tracks being received.
func (r *Remote) Tracks() int {
	return int(r.tracks.Load())
}

// Packets returns the number of RTP packets received.
func (r *Remote) Packets() uint64 {
	return r.packets.Load()
}

// Bytes returns the RTP payload bytes received.
func (r *Remote) Bytes() uint64 {
	return r.bytes.Load()
}
