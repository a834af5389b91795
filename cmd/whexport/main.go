package main

import (
	"github.com/alerislife/welcome-home/internal/cli"
	_ "github.com/alerislife/welcome-home/internal/ledger/postgres"
	_ "github.com/alerislife/welcome-home/internal/ledger/sqlite"
)

// Populated at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetBuildInfo(version, commit, date)
	cli.Execute()
}
