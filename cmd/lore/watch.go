package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/lore/internal/tui/watch"
)

const envAPIKey = "LORE_API_KEY"

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	apiURL := fs.String("api-url", "", "lore API URL (default: http://<api.listen>)")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API bearer token (or "+envAPIKey+")")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	url, key := *apiURL, *apiKey
	if url == "" || key == "" {
		cfg, err := readConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		if url == "" {
			url = "http://" + cfg.API.Listen
		}
		if key == "" {
			key = cfg.API.APIKey
		}
	}

	p := tea.NewProgram(watch.New(url, key))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Println("Usage: lore watch [--config PATH] [--api-url URL] [--api-key KEY]")
	fmt.Println()
	fmt.Println("Live view of a running lore serve: health, per-extension call stats")
	fmt.Println("and the stream of settled tool calls.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓              Select extension")
}
