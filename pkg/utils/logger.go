package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// Verbose selects the development config (debug level, console encoding),
// otherwise the production config (info level, JSON).
func NewSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.Sugar(), nil
}

// ComponentLogger scopes a logger to one engine component so concurrent
// pagers stay distinguishable in shared output.
func ComponentLogger(log *zap.SugaredLogger, component string) *zap.SugaredLogger {
	return log.Named(component)
}
