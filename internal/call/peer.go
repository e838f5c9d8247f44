package call

import (
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when no STUN server is configured.
var DefaultSTUNServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// candidatePoolSize is the number of ICE candidates gathered ahead of the
// offer or answer.
const candidatePoolSize = 10

// ICEConfig describes the ICE servers of a peer connection.
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// NewPeerConnection builds a peer connection for a call.
// Relay-only ICE is used when TURN is configured and relaying is forced or
// the host looks like it sits behind a VPN or CGNAT.
func NewPeerConnection(cfg ICEConfig) (*webrtc.PeerConnection, error) {
	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = DefaultSTUNServers
	}
	iceServers := []webrtc.ICEServer{{URLs: stun}}

	if len(cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(cfg.TURNServers) > 0 && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:           iceServers,
		ICETransportPolicy:   policy,
		ICECandidatePoolSize: candidatePoolSize,
	})
	if err != nil {
		return nil, newError("create peer connection", "", err)
	}
	return pc, nil
}

// cgnatBlock is used by Cloudflare WARP, Tailscale and carrier grade NATs.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// ShouldForceRelay reports whether the host is likely behind a restrictive
// VPN or CGNAT, where direct connectivity usually fails.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if vpnInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true
			}
		}
	}
	return false
}

func vpnInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnatBlock.Contains(ip)
}
