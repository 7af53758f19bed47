package engine

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

const probeTimeout = 10 * time.Second

// Probe verifies that the engine interpreter is runnable by asking it for
// its version. It returns the version banner for logging.
func Probe(ctx context.Context, interpreter string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, interpreter, "--version")
	var out bytes.Buffer
	// Rscript prints its version banner to stderr.
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", apperrors.New(apperrors.ErrCodeEngineUnavailable,
			"engine interpreter is not runnable: "+interpreter, err)
	}
	return strings.TrimSpace(out.String()), nil
}
