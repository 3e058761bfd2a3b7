package main

import (
	"flag"

	"github.com/lingora/portal/internal/config"
	"github.com/lingora/portal/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to the portal config file")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
