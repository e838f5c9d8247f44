package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/cmd"
	"github.com/BioHazard786/findit/internal/logging"
)

func main() {
	envErr := godotenv.Load()

	closer, err := logging.Init()
	if err != nil {
		log.Error().Err(err).Msg("logging to stderr instead")
	}
	defer closer.Close()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn().Err(envErr).Msg("could not load .env")
	}
	cmd.Execute()
}
