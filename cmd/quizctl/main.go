package main

import (
	"os"

	"elsa-quiz-live/internal/cli"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("quizctl failed")
		os.Exit(1)
	}
}
