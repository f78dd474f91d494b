package infra

import (
	"fmt"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner once the backend mode is known.
// Live mode gets a loud red warning; everything else is informational.
func PrintBanner(cfg *Config, provider, mode string) {
	mode = strings.ToUpper(mode)

	color := ColorCyan
	modeDesc := "SIMULATED FEED"

	switch mode {
	case "LIVE":
		color = ColorRed
		modeDesc = "LIVE ACCOUNT"
	case "PAPER":
		color = ColorGreen
		modeDesc = "PAPER ACCOUNT"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#               📈 TradeDesk Market Core                  #%s\n", color, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)
	fmt.Printf("%s#   PROVIDER: %-35s #%s\n", color, provider, ColorReset)
	fmt.Printf("%s#   MODE:     %-35s #%s\n", color, modeDesc, ColorReset)
	fmt.Printf("%s#   VERSION:  %-35s #%s\n", color, cfg.App.Version, ColorReset)
	fmt.Printf("%s#   SYMBOLS:  %-35d #%s\n", color, len(cfg.Feed.Symbols), ColorReset)
	fmt.Printf("%s#                                                         #%s\n", color, ColorReset)

	if mode == "LIVE" {
		fmt.Printf("%s#   ⚠️  WARNING: ORDER ACTIONS HIT A REAL ACCOUNT  ⚠️     #%s\n", ColorRed, ColorReset)
	}

	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Println()
}
