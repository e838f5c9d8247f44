package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/BioHazard786/findit/internal/call"
	"github.com/BioHazard786/findit/internal/classifier"
	"github.com/BioHazard786/findit/internal/config"
	"github.com/BioHazard786/findit/internal/game"
	"github.com/BioHazard786/findit/internal/media"
	"github.com/BioHazard786/findit/internal/store/remote"
	"github.com/BioHazard786/findit/internal/ui"
)

// connectTimeout bounds the wait for the peer connection after signaling.
const connectTimeout = 5 * time.Minute

var playerOpts config.Options

func addPlayerFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&playerOpts.ServerURL, "server", "s", "", "document server websocket URL (env: FINDIT_SERVER)")
	fs.StringSliceVar(&playerOpts.STUNServers, "stun", nil, "STUN server URLs (env: FINDIT_STUN)")
	fs.StringVar(&playerOpts.TURNServer, "turn", "", "TURN server, e.g. turn:relay.example.com (env: FINDIT_TURN)")
	fs.StringVar(&playerOpts.TURNUser, "turn-user", "", "TURN username (env: FINDIT_TURN_USER)")
	fs.StringVar(&playerOpts.TURNPass, "turn-pass", "", "TURN password (env: FINDIT_TURN_PASS)")
	fs.BoolVar(&playerOpts.ForceRelay, "relay", false, "force relay-only connectivity through TURN (env: FINDIT_RELAY)")
	fs.StringVar(&playerOpts.ClassifierURL, "classifier", "", "classifier service base URL (env: FINDIT_CLASSIFIER)")
	fs.DurationVar(&playerOpts.PollInterval, "poll", 0, "time between classifier requests (env: FINDIT_POLL)")
	fs.StringVar(&playerOpts.VideoFile, "video", "", "IVF/VP8 file looped as the camera (env: FINDIT_VIDEO)")
	fs.StringVar(&playerOpts.AudioFile, "audio", "", "Ogg/Opus file looped as the microphone (env: FINDIT_AUDIO)")
	fs.StringVar(&playerOpts.Frames, "frames", "", "image or directory of images sent to the classifier (env: FINDIT_FRAMES)")
}

// Player holds everything one side of a game needs.
type Player struct {
	Config  *config.Config
	Store   *remote.Client
	PC      *webrtc.PeerConnection
	Local   *media.Local
	Remote  *media.Remote
	Session *game.Session

	updates   chan struct{}
	connected chan struct{}
	failed    chan struct{}
	started   time.Time
}

// NewPlayer dials the document server and prepares media and the peer
// connection. Nothing is negotiated yet.
func NewPlayer(ctx context.Context, cfg *config.Config) (*Player, error) {
	spin := ui.NewConnectionSpinner("Connecting to server...")
	spin.Start()
	st, err := remote.Dial(ctx, cfg.ServerURL)
	if err != nil {
		spin.Stop()
		return nil, err
	}
	spin.Success("Connected to " + cfg.ServerURL)

	p := &Player{
		Config:    cfg,
		Store:     st,
		Remote:    &media.Remote{},
		updates:   make(chan struct{}, 1),
		connected: make(chan struct{}),
		failed:    make(chan struct{}),
		started:   time.Now(),
	}

	if err := p.setup(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Player) setup() error {
	pc, err := call.NewPeerConnection(p.Config.ICE())
	if err != nil {
		return err
	}
	p.PC = pc

	var connectedOnce, failedOnce sync.Once
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("state", s.String()).Msg("peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(p.connected) })
		case webrtc.PeerConnectionStateFailed:
			failedOnce.Do(func() { close(p.failed) })
		}
		p.notify()
	})
	pc.OnTrack(p.Remote.Handle)

	local, err := media.NewLocal(media.LocalOptions{
		VideoFile: p.Config.VideoFile,
		AudioFile: p.Config.AudioFile,
	})
	if err != nil {
		return err
	}
	p.Local = local
	if err := local.Attach(pc); err != nil {
		return err
	}

	deps := game.Deps{
		Store:        p.Store,
		Transport:    pc,
		Media:        local,
		PollInterval: p.Config.PollInterval,
		OnUpdate:     p.notify,
	}
	if p.Config.Frames != "" {
		frames, err := media.OpenFrames(p.Config.Frames)
		if err != nil {
			return err
		}
		deps.Frames = frames
		ui.PrintInfof("Sending %d frame(s) from %s to %s", frames.Len(), p.Config.Frames, p.Config.ClassifierURL)
		deps.Classifier = classifier.NewClient(p.Config.ClassifierURL, nil)
	} else {
		ui.PrintWarning("No --frames given, the classifier will not score for you")
	}
	p.Session = game.New(deps)
	return nil
}

// notify wakes the scoreboard without blocking the caller.
func (p *Player) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// WaitConnected blocks until the media path to the other player is up.
func (p *Player) WaitConnected(ctx context.Context, message string) error {
	spin := ui.NewConnectionSpinner(message)
	spin.Start()
	defer spin.Stop()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	select {
	case <-p.connected:
		spin.Success("Connected to the other player")
		return nil
	case <-p.failed:
		return errors.New("peer connection failed, try --relay with a TURN server")
	case <-ctx.Done():
		return fmt.Errorf("waiting for the other player: %w", ctx.Err())
	}
}

// Play runs the scoreboard until the player quits, then prints the summary.
func (p *Player) Play(ctx context.Context) error {
	board := ui.NewScoreboard(p.Session, p.updates)
	if _, err := tea.NewProgram(board, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("scoreboard: %w", err)
	}

	final := board.Final()
	ui.RenderSummary(ui.Summary{
		CallID:      final.CallID,
		Rounds:      final.Round,
		LocalScore:  final.LocalScore,
		RemoteScore: final.RemoteScore,
		Duration:    time.Since(p.started).Round(time.Second).String(),
		Packets:     p.Remote.Packets(),
		Bytes:       p.Remote.Bytes(),
	})
	return nil
}

// Close releases the game, the media, the peer connection and the server
// connection.
func (p *Player) Close() {
	if p.Session != nil {
		if err := p.Session.Close(); err != nil {
			log.Debug().Err(err).Msg("close session")
		}
	} else {
		if p.Local != nil {
			p.Local.Stop()
		}
		if p.PC != nil {
			p.PC.Close()
		}
	}
	if p.Store != nil {
		p.Store.Close()
	}
}

// LoadConfig resolves the player flags.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(playerOpts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
