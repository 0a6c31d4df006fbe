// Package kernelcli hosts the kernel's urfave/cli/v2 application object:
// subcommands register themselves into a shared *cli.App via
// AddSubcommand from their own init(), so cmd/madkerneld only needs to
// import the packages for side effect and call Run.
package kernelcli

import (
	"os"

	"github.com/madkernel/server/framework/log"
	"github.com/urfave/cli/v2"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Usage = "mail platform core runtime kernel"
	app.Description = `madkerneld is the shared core runtime behind a multi-protocol mail
platform: one configuration snapshot, one authentication pipeline, one
OAuth token service, and one APPEND ingest transaction consumed by the
SMTP/IMAP/JMAP protocol front-ends.

This executable starts the kernel ('run') and reloads its configuration
snapshot without restarting ('reload'). Protocol wire grammar, TLS
termination, and directory backends are out of this executable's scope;
it only wires the interfaces they sit behind.

OAuth Key Management:
  madkerneld oauth-key                      - Print the configured oauth_key
  madkerneld oauth-key --generate           - Generate a fresh oauth_key
`
	app.Authors = []*cli.Author{
		{Name: "madkernel maintainers"},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
	}
	app.EnableBashCompletion = true
}

// AddGlobalFlag registers a flag on the root app, for packages whose
// init() wants to contribute a global option before Run is called.
func AddGlobalFlag(f cli.Flag) {
	app.Flags = append(app.Flags, f)
}

// AddSubcommand registers cmd as a top-level subcommand.
func AddSubcommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)
}

// Run parses os.Args and dispatches to the matching subcommand.
func Run() {
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
		os.Exit(1)
	}
}
