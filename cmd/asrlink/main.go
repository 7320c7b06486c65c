// Command asrlink streams microphone audio to a speech recognition service and
// prints the recognised text.
//
// Usage:
//
//	asrlink [--config config.yaml] <command> [flags]
//
// Commands:
//
//	stream   - Record one session until interrupted, then finish it gracefully
//	devices  - List audio input devices and the one that would be used
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/asrlink/cmd/asrlink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
