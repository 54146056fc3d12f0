// Command txctl drives the transactional property-change core from the
// command line: running canned commit scenarios against in-memory sources,
// and standing up a sqlite source for manual poking.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

func main() {
	parser := flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "run-scenario", "Run a canned commit scenario", `
Drive one of the transaction commit scenarios (best-effort, rollback,
single-write, optimistic-conflict) end to end against in-memory sources
and print the outcome.
`, &cmdRunScenario{})

	addCmd(parser, "serve-device", "Run a standalone sqlite-backed source", `
Open a sqlite-backed source at the given path, write one sample
property value to it, and print the source's identity and batch size. Useful for
poking at the sqlite source in isolation from a full transaction.
`, &cmdServeDevice{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithField("err", err).Error("txctl failed")
		os.Exit(1)
	}
}

func addCmd(parser *flags.Parser, name, short, long string, data interface{}) *flags.Command {
	cmd, err := parser.AddCommand(name, short, long, data)
	if err != nil {
		log.WithField("err", err).Fatal("failed to register command")
	}
	return cmd
}
