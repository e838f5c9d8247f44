// Package config resolves findit settings from flags, FINDIT_* environment
// variables and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/findit/internal/call"
	"github.com/BioHazard786/findit/internal/classifier"
	"github.com/BioHazard786/findit/internal/sqlstore"
)

// Default configuration values.
const (
	DefaultServerURL     = "ws://localhost:8080/ws"
	DefaultBind          = "0.0.0.0"
	DefaultPort          = 8080
	DefaultDBDriver      = sqlstore.DriverSQLite
	DefaultDBPath        = "data/findit.db"
	DefaultClassifierURL = classifier.DefaultBaseURL
	DefaultTURNPort      = 3478
)

// Config is the resolved configuration of a player.
type Config struct {
	// ServerURL is the websocket endpoint of the document server.
	ServerURL string

	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	ClassifierURL string
	PollInterval  time.Duration

	// Media files looped as this player's camera and microphone.
	VideoFile string
	AudioFile string

	// Frames is an image file or directory fed to the classifier.
	Frames string
}

// Options are the player's flag overrides. Zero values fall back to the
// defaults.
type Options struct {
	ServerURL     string
	STUNServers   []string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
	ClassifierURL string
	PollInterval  time.Duration
	VideoFile     string
	AudioFile     string
	Frames        string
}

// Load resolves opts against the defaults and validates the result.
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ServerURL:     orDefault(opts.ServerURL, DefaultServerURL),
		STUNServers:   compact(opts.STUNServers),
		TURNServer:    strings.TrimSpace(opts.TURNServer),
		TURNUser:      opts.TURNUser,
		TURNPass:      opts.TURNPass,
		ForceRelay:    opts.ForceRelay,
		ClassifierURL: orDefault(opts.ClassifierURL, DefaultClassifierURL),
		PollInterval:  opts.PollInterval,
		VideoFile:     opts.VideoFile,
		AudioFile:     opts.AudioFile,
		Frames:        opts.Frames,
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), call.DefaultSTUNServers...)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = classifier.DefaultInterval
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server URL must use ws or wss, got %q", c.ServerURL)
	}
	if _, err := url.Parse(c.ClassifierURL); err != nil {
		return fmt.Errorf("invalid classifier URL: %w", err)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("invalid poll interval: %s", c.PollInterval)
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	return nil
}

// TURNServers returns the UDP and TCP URLs of the TURN server, or nil when
// none is configured. A server given with its own port or query is used
// as is.
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	if strings.ContainsAny(host, ":?") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("turn:%s:%d?transport=udp", host, DefaultTURNPort),
		fmt.Sprintf("turn:%s:%d?transport=tcp", host, DefaultTURNPort),
	}
}

// ICE returns the peer connection settings.
func (c *Config) ICE() call.ICEConfig {
	return call.ICEConfig{
		STUNServers: c.STUNServers,
		TURNServers: c.TURNServers(),
		TURNUser:    c.TURNUser,
		TURNPass:    c.TURNPass,
		ForceRelay:  c.ForceRelay,
	}
}

// Server is the resolved configuration of the document server.
type Server struct {
	Bind           string
	Port           int
	AllowedOrigins []string

	// DBDriver is sqlite, postgres or none. With none documents live only
	// in memory.
	DBDriver string
	DBDSN    string
}

// ServerOptions are the document server's flag overrides.
type ServerOptions struct {
	Bind           string
	Port           int
	AllowedOrigins []string
	DBDriver       string
	DBDSN          string
}

// DriverNone disables the journal.
const DriverNone = "none"

// LoadServer resolves opts against the defaults and validates the result.
func LoadServer(opts ServerOptions) (*Server, error) {
	s := &Server{
		Bind:           orDefault(opts.Bind, DefaultBind),
		Port:           opts.Port,
		AllowedOrigins: compact(opts.AllowedOrigins),
		DBDriver:       orDefault(opts.DBDriver, DefaultDBDriver),
		DBDSN:          opts.DBDSN,
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Port < 1 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", s.Port)
	}

	switch s.DBDriver {
	case sqlstore.DriverSQLite:
		s.DBDSN = orDefault(s.DBDSN, DefaultDBPath)
	case sqlstore.DriverPostgres:
		if s.DBDSN == "" {
			return nil, errors.New("postgres journal requires --db-dsn")
		}
	case DriverNone:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", s.DBDriver)
	}
	return s, nil
}

// Journaled reports whether documents are persisted.
func (s *Server) Journaled() bool {
	return s.DBDriver != DriverNone
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
