package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the pgmcpserver ASCII art banner. When useColor is true,
// ANSI escape codes are used for a blue/cyan gradient.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                          `,
		`    ____   ____   __  __   ____  ____     `,
		`   |  _ \ / ___| |  \/  | / ___||  _ \    `,
		`   | |_) | |  _  | |\/| || |    | |_) |   `,
		`   |  __/| |_| | | |  | || |___ |  __/    `,
		`   |_|    \____| |_|  |_| \____||_|       `,
		`                                          `,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[1;34m", // bold blue
		"\033[1;34m",
		"\033[1;94m", // bold bright blue
		"\033[1;36m", // bold cyan
		"\033[1;96m", // bold bright cyan
		"\033[1;96m",
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
