package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
)

// Kind discriminates the two payload cases.
type Kind int

const (
	// Inline payloads travel as a single argv element.
	Inline Kind = iota
	// Staged payloads are spilled to a scratch file and passed by reference.
	Staged
)

// Payload is the marshalled argument bag for one invocation. Exactly one of
// Text and Path is populated, selected once by the Marshaller and consumed
// uniformly downstream.
type Payload struct {
	Kind Kind
	// Text is the serialized JSON, set when Kind == Inline.
	Text string
	// Path is the scratch file holding the JSON, set when Kind == Staged.
	Path string
	// Size is the serialized byte length in either case.
	Size int
}

// Ref returns the argv encoding of the payload: the JSON text itself, or the
// staged file path prefixed with "@" so the engine never has to guess which
// case it received.
func (p Payload) Ref() string {
	if p.Kind == Staged {
		return "@" + p.Path
	}
	return p.Text
}

// Marshaller serializes argument bags and decides between inline and staged
// delivery based on size.
type Marshaller struct {
	inlineThreshold int
	maxBytes        int64
	logger          *zap.Logger
}

// NewMarshaller creates a Marshaller. Payloads of inlineThreshold bytes or
// more are staged; payloads above maxBytes are rejected outright.
func NewMarshaller(inlineThreshold int, maxBytes int64, logger *zap.Logger) *Marshaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Marshaller{
		inlineThreshold: inlineThreshold,
		maxBytes:        maxBytes,
		logger:          logger,
	}
}

// Stage serializes args for sess. The size bound is checked before any file
// is written, so an oversized payload never touches the filesystem.
func (m *Marshaller) Stage(sess *session.Session, args map[string]interface{}) (Payload, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Payload{}, apperrors.New(apperrors.ErrCodeInvalidInput,
			"arguments are not JSON-serializable", err)
	}

	if int64(len(data)) > m.maxBytes {
		return Payload{}, apperrors.New(apperrors.ErrCodePayloadTooLarge,
			fmt.Sprintf("payload is %d bytes (max: %d)", len(data), m.maxBytes), nil)
	}

	if len(data) < m.inlineThreshold {
		return Payload{Kind: Inline, Text: string(data), Size: len(data)}, nil
	}

	// One scratch file per invocation, never reused.
	name := fmt.Sprintf("args-%s.json", uuid.NewString())
	path := filepath.Join(sess.ScratchPath(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Payload{}, apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to stage argument payload", err)
	}

	m.logger.Debug("staged argument payload",
		zap.String("session_id", sess.ID),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return Payload{Kind: Staged, Path: path, Size: len(data)}, nil
}

// Cleanup removes a staged payload file after its invocation completes.
// Inline payloads are a no-op.
func (m *Marshaller) Cleanup(p Payload) error {
	if p.Kind != Staged || p.Path == "" {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to remove staged payload", err)
	}
	return nil
}
