package display

import (
	"fmt"
	"os"
	"strings"
)

// ConsoleDriver prints frames to stdout. Used by simulate mode when no
// display daemon is running.
type ConsoleDriver struct{}

func (ConsoleDriver) WriteLines(lines []string) error {
	_, err := fmt.Fprintf(os.Stdout, "[display] %s\n", strings.Join(lines, " | "))
	return err
}

func (ConsoleDriver) Close() error { return nil }
