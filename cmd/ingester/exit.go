package main

import (
	"context"

	"github.com/cockroachdb/errors"

	"riot-ingester/internal/config"
	"riot-ingester/internal/pipeline"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = pipeline.ForcedExitCode
)

// errUsage marks bad command lines.
var errUsage = errors.New("usage error")

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid), errors.Is(err, errUsage), errors.Is(err, pipeline.ErrUnknownStage):
		return exitConfig
	case pipeline.Interrupted(err), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}
