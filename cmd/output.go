package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/vidlens/config"
)

// outputFormat resolves the -o flag against the configured default.
func outputFormat(flag string, cfg *config.Config) (config.OutputFormat, error) {
	format := cfg.OutputFormat
	if flag != "" {
		format = config.OutputFormat(flag)
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format %q (must be text, json, or yaml)", format)
	}
	return format, nil
}

// WriteStructured renders v as JSON or YAML.
func WriteStructured(w io.Writer, format config.OutputFormat, v any) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported structured format %q", format)
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question, returning def on an empty answer.
func confirm(in io.Reader, out io.Writer, question string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s ", question, hint)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

// truncateLine shortens s to n runes on a single line.
func truncateLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
