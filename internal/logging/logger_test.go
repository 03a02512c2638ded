package logging

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
)

func TestLogger_Levels(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name    string
		logger  Logger
		log     func(Logger)
		wantOut string
	}{
		{"info hidden by default", Logger{}, func(l Logger) { l.Infof("hello %d", 1) }, ""},
		{"info shown verbose", Logger{Verbose: true}, func(l Logger) { l.Infof("hello %d", 1) }, "[info] hello 1\n"},
		{"info shown debug", Logger{Debug: true}, func(l Logger) { l.Infof("hi") }, "[info] hi\n"},
		{"debug hidden verbose", Logger{Verbose: true}, func(l Logger) { l.Debugf("x") }, ""},
		{"debug shown debug", Logger{Debug: true}, func(l Logger) { l.Debugf("x=%s", "y") }, "[debug] x=y\n"},
		{"warn always", Logger{}, func(l Logger) { l.Warnf("careful") }, "[warn] careful\n"},
		{"error always", Logger{}, func(l Logger) { l.Errorf("boom: %v", "bad") }, "[error] boom: bad\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logger.Out = &buf
			tt.log(tt.logger)
			if got := buf.String(); got != tt.wantOut {
				t.Errorf("output = %q, want %q", got, tt.wantOut)
			}
		})
	}
}

func TestNop_Discards(t *testing.T) {
	l := Nop()
	l.Errorf("nothing")
	if l.Out == nil {
		t.Fatal("Nop should set a writer")
	}
}
