package main

import (
	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/vmrsync/cmd/vmrsync/commands"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("vmrsync"),
		kong.Description("Synchronize mapped upstream repositories into a virtual monorepo."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	global := &commands.Global{Logger: slog.Default()}
	ctx.FatalIfErrorf(ctx.Run(global, &cli))
}
