package iojson

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// FileReader decodes a JSON value of type T from a --file flag, an
// explicit "-" for stdin, or piped stdin. Reading from an interactive
// terminal without a file is an error rather than a hang.
type FileReader[T any] struct {
	path string
}

// Flag returns the --file/-f flag wired to this reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to a JSON file, or '-' for stdin",
		Destination: &fr.path,
	}
}

// Read decodes the input into a T.
func (fr *FileReader[T]) Read() (T, error) {
	var in io.Reader
	var v T

	switch {
	case fr.path != "" && fr.path != "-":
		f, err := os.Open(fr.path)
		if err != nil {
			return v, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	case fr.path == "" && term.IsTerminal(int(os.Stdin.Fd())):
		return v, fmt.Errorf("no input provided (stdin is a terminal); use -f or pipe JSON")
	default:
		in = os.Stdin
	}

	if err := json.NewDecoder(in).Decode(&v); err != nil {
		return v, fmt.Errorf("decode JSON input: %w", err)
	}
	return v, nil
}
