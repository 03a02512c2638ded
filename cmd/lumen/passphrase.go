package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinLines buffers piped stdin across prompts. It is rebuilt when os.Stdin
// is swapped.
var (
	stdinLines  *bufio.Reader
	stdinSource *os.File
)

func stdinReader() *bufio.Reader {
	if stdinLines == nil || stdinSource != os.Stdin {
		stdinLines = bufio.NewReader(os.Stdin)
		stdinSource = os.Stdin
	}
	return stdinLines
}

// readPassphrase prompts on stderr and reads without echo from a terminal,
// or reads one line from stdin when it is not a terminal. Tests replace it.
var readPassphrase = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader().ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(pass), nil
}
