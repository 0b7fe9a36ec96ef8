package main

import (
	"github.com/evigraph/backend/internal/server"
	"github.com/evigraph/backend/internal/util"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
