package ui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	ColorSuccess   = lipgloss.Color("#00D26A") // committed calls, converted tokens
	ColorWarning   = lipgloss.Color("#FFB800") // expected reverts, warnings
	ColorError     = lipgloss.Color("#FF4444") // unexpected reverts, failed sweeps
	ColorAddress   = lipgloss.Color("#00B4D8") // addresses, hashes
	ColorValue     = lipgloss.Color("#FFFFFF") // amounts
	ColorMeta      = lipgloss.Color("#555555") // blocks, metadata
	ColorBorder    = lipgloss.Color("#1E3A5F")
	ColorEvent     = lipgloss.Color("#9B5DE5") // event and contract names
	ColorHighlight = lipgloss.Color("#F15BB5") // selected rows
	ColorInfo      = lipgloss.Color("#4EA8DE")
)

// Base styles.
var (
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	StyleInfo    = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	StyleAddress = lipgloss.NewStyle().Foreground(ColorAddress)
	StyleValue   = lipgloss.NewStyle().Foreground(ColorValue).Bold(true)
	StyleMeta    = lipgloss.NewStyle().Foreground(ColorMeta)
	StyleEvent   = lipgloss.NewStyle().Foreground(ColorEvent).Bold(true)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorHighlight).
			Foreground(lipgloss.Color("#000000")).
			Bold(true)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorEvent).
			Bold(true).
			MarginBottom(1)
)

// Banner returns the CLI banner.
func Banner(version string) string {
	art := StyleEvent.Render("feeledger")
	tagline := StyleMeta.Render("fee-bearing ledger simulator  " + version)
	return art + "  " + tagline + "\n"
}

// Success formats a success message.
func Success(msg string) string { return StyleSuccess.Render("✓ " + msg) }

// Warn formats a warning message.
func Warn(msg string) string { return StyleWarning.Render("⚠ " + msg) }

// Err formats an error message.
func Err(msg string) string { return StyleError.Render("✗ " + msg) }

// Info formats an informational message.
func Info(msg string) string { return StyleInfo.Render("ℹ " + msg) }

// Hint formats a suggestion for the next command.
func Hint(msg string) string { return StyleMeta.Render("→ " + msg) }

// Addr formats an address.
func Addr(a string) string { return StyleAddress.Render(a) }

// Val formats a value.
func Val(v string) string { return StyleValue.Render(v) }

// Meta formats metadata text.
func Meta(m string) string { return StyleMeta.Render(m) }

// EventName formats an event or contract name.
func EventName(e string) string { return StyleEvent.Render(e) }

// TruncateAddr shortens an address for display: 0x1234…5678.
func TruncateAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
