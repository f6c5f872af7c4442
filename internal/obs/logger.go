// Package obs carries the ambient observability stack: structured
// logging (wrapping the teacher's internal/logging package) and
// Prometheus metrics for the serving path. NewTrainingLogger offers a
// narrow zerolog console logger, mirroring the teacher's use of zerolog
// in its position-tracking subsystems; cmd/train reports progress with
// the standard log package and does not call it.
package obs

import (
	"os"

	"github.com/rs/zerolog"

	"fxreversal/internal/logging"
)

// NewServiceLogger builds the component-scoped structured logger used
// throughout the serving process.
func NewServiceLogger(cfg *logging.Config, component string) *logging.Logger {
	return logging.New(cfg).WithComponent(component)
}

// NewTrainingLogger returns a console-friendly zerolog logger whose
// output is read interactively rather than ingested as JSON. No
// command in this repository calls it.
func NewTrainingLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}
