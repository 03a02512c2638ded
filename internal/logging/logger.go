package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Logger is a small value type; copy it freely.
type Logger struct {
	Verbose bool
	Debug   bool

	// Out receives all log lines. Nil means os.Stderr.
	Out io.Writer
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return Logger{Out: io.Discard}
}

func (l Logger) out() io.Writer {
	if l.Out == nil {
		return os.Stderr
	}
	return l.Out
}

func (l Logger) Infof(msg string, args ...any) {
	if l.Verbose || l.Debug {
		fmt.Fprintf(l.out(), color.GreenString("[info] ")+msg+"\n", args...)
	}
}

func (l Logger) Debugf(msg string, args ...any) {
	if l.Debug {
		fmt.Fprintf(l.out(), color.CyanString("[debug] ")+msg+"\n", args...)
	}
}

func (l Logger) Warnf(msg string, args ...any) {
	fmt.Fprintf(l.out(), color.YellowString("[warn] ")+msg+"\n", args...)
}

func (l Logger) Errorf(msg string, args ...any) {
	fmt.Fprintf(l.out(), color.RedString("[error] ")+msg+"\n", args...)
}
