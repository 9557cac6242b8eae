package main

import (
	"os"

	"github.com/baechuer/notification-fabric/internal/bootstrap"
	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/baechuer/notification-fabric/internal/logger"
)

func main() {
	if err := bootstrap.Run(config.ChannelEmail); err != nil {
		logger.Logger.Error().Err(err).Msg("email worker exited")
		os.Exit(1)
	}
}
