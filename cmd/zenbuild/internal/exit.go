package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Fatal prints err as a FATAL line on stderr and exits with code 1.
func Fatal(err error) {
	Echo(os.Stderr, err)
	os.Exit(1)
}

// Echo writes err to w as a FATAL line.
func Echo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "[%s] %v\n", color.RedString("FATAL"), err)
}
