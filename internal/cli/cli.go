// Package cli wires the §6.1 command-line surface to internal/controller:
// flag parsing, input/output plugin construction, and the root cobra
// command every invocation of the binary runs through.
//
// Grounded on mantle/cli.Execute's logging setup and mantle/cmd/kola's
// flag-heavy root command, adapted from mantle's persistent subcommand
// style to a single-command binary whose behaviour is almost entirely
// flag-selected.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"
)

var (
	logDebug   bool
	logVerbose bool
	logLevel   = capnslog.NOTICE

	plog = capnslog.NewPackageLogger("github.com/virtconv/virt2kvm", "cli")
)

// Execute builds the root command, runs it, and exits the process.
func Execute() {
	root := newRootCommand()
	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "Alias for --log-level=INFO")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "Alias for --log-level=DEBUG")

	if err := root.Execute(); err != nil {
		plog.Fatal(err)
	}
	os.Exit(0)
}

func startLogging() {
	switch {
	case logDebug:
		logLevel = capnslog.DEBUG
	case logVerbose:
		logLevel = capnslog.INFO
	}
	capnslog.SetFormatter(capnslog.NewStringFormatter(os.Stderr))
	capnslog.SetGlobalLogLevel(logLevel)
}

// kvList holds a repeated -io/-oo key[=value] flag's accumulated values.
type kvList struct {
	raw []string
}

func (l *kvList) String() string   { return strings.Join(l.raw, ",") }
func (l *kvList) Type() string     { return "key[=value]" }
func (l *kvList) Set(s string) error {
	l.raw = append(l.raw, s)
	return nil
}

// asMap splits each "key=value" or bare "key" entry. A bare "?" entry
// anywhere in the list means "print the option list", per §6.1.
func (l *kvList) asMap() (map[string]string, bool) {
	m := make(map[string]string, len(l.raw))
	printHelp := false
	for _, entry := range l.raw {
		if entry == "?" {
			printHelp = true
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		} else {
			m[parts[0]] = ""
		}
	}
	return m, printHelp
}

func printOptionList(w *os.File, transport string, known []string) {
	fmt.Fprintf(w, "options for %s:\n", transport)
	for _, k := range known {
		fmt.Fprintf(w, "  %s\n", k)
	}
}
