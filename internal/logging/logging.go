// Package logging builds the process's single zap.Logger. Every component
// receives a child of this logger via .With, never constructs its own.
package logging

import "go.uber.org/zap"

// New builds a production or development zap logger depending on development,
// mirroring the teacher pattern of zap.NewProduction()/NewDevelopment()
// selected by a single flag rather than hand-assembled zapcore config.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
