package cli

import (
	"go.uber.org/zap"
)

// buildLogger constructs the process logger. Everything goes to stderr:
// stdout is reserved for protocol frames when serving.
func buildLogger(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
