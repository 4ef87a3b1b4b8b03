package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/calign/retime/pkg/version"
)

func main() {
	var (
		addr        string
		interval    time.Duration
		showVersion bool
	)

	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "Address of the retime status server")
	flag.DurationVar(&interval, "interval", time.Second, "Poll interval")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	p := tea.NewProgram(newModel(addr, interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "retime-top: %v\n", err)
		os.Exit(1)
	}
}
