package theme

import (
	"fmt"
	"io"
	"os"
)

// Banner returns the startup banner.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		cyan + "  ██   ██ " + magenta + "██     ██  █████  ████████  ██████ ██   ██\n" + reset +
		cyan + "   ██ ██  " + magenta + "██     ██ ██   ██    ██    ██      ██   ██\n" + reset +
		cyan + "    ███   " + magenta + "██  █  ██ ███████    ██    ██      ███████\n" + reset +
		cyan + "   ██ ██  " + magenta + "██ ███ ██ ██   ██    ██    ██      ██   ██\n" + reset +
		cyan + "  ██   ██ " + magenta + " ███ ███  ██   ██    ██     ██████ ██   ██\n" + reset +
		yellow + "  ─────────────────────────────────────────────────\n" + reset
	return art + "  search, dedupe and deliver posts from X\n"
}

// PrintBanner writes the banner to stderr so stdout stays machine-readable.
func PrintBanner() {
	Fprint(os.Stderr)
}

// Fprint writes the banner to w.
func Fprint(w io.Writer) {
	fmt.Fprint(w, Banner())
}
