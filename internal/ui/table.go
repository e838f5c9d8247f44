package ui

import (
	"fmt"
	"strings"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/skip2/go-qrcode"
)

// CallInfoView renders the box shown to the caller while waiting for the
// other player, including a QR code of the call id.
func CallInfoView(callID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Call created!\n\n%s Call ID:  %s\n\n", IconCall, IconCopy, BoldStyle.Foreground(Primary).Render(callID))
	b.WriteString(MutedStyle.Render("Share it: findit join " + callID))

	if qr, err := QRCode(callID); err == nil {
		b.WriteString("\n\n" + qr)
	}
	return CallBoxStyle.Render(b.String())
}

// QRCode renders content as a terminal QR code using half-block characters.
func QRCode(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	q.DisableBorder = true
	return strings.TrimRight(q.ToSmallString(false), "\n"), nil
}

// Summary is the final outcome of a game for this player.
type Summary struct {
	CallID      string
	Rounds      int64
	LocalScore  int64
	RemoteScore int64
	Duration    string

	// Packets and Bytes count the media received from the other player.
	Packets uint64
	Bytes   uint64
}

// Outcome describes the result from this player's point of view.
func (s Summary) Outcome() string {
	switch {
	case s.LocalScore > s.RemoteScore:
		return IconTrophy + " You win"
	case s.LocalScore < s.RemoteScore:
		return "Opponent wins"
	default:
		return "Draw"
	}
}

// SummaryView renders the end-of-game table.
func SummaryView(s Summary) string {
	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.SetTitle("Game Summary")
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Call", s.CallID},
		{"Rounds", s.Rounds},
		{"You", s.LocalScore},
		{"Opponent", s.RemoteScore},
		{"Duration", s.Duration},
		{"Media received", fmt.Sprintf("%d packets, %.1f MB", s.Packets, float64(s.Bytes)/1e6)},
		{"Result", s.Outcome()},
	})
	return t.Render()
}

func RenderSummary(s Summary) {
	fmt.Println(SummaryView(s))
}
