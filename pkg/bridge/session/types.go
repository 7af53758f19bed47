package session

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sandbox subdirectories created for every session.
const (
	InputDir      = "input"
	ProcessingDir = "processing"
	ResultsDir    = "results"
	ScratchDir    = "scratch"

	MetadataFile = "session.json"
)

// Session status values recorded in metadata and the index.
const (
	StatusInitialized = "initialized"
)

// Metadata is the configuration snapshot written next to each sandbox.
type Metadata struct {
	SessionID     string    `json:"session_id"`
	Name          string    `json:"name,omitempty"`
	StudyType     string    `json:"study_type,omitempty"`
	EffectMeasure string    `json:"effect_measure,omitempty"`
	AnalysisModel string    `json:"analysis_model,omitempty"`
	Created       time.Time `json:"created"`
	Status        string    `json:"status"`
}

// Session is a filesystem-isolated context for one logical conversation.
// The path is always a direct child of the registry's sandbox root.
type Session struct {
	ID       string
	Path     string
	Metadata Metadata
}

// Dir returns the named subdirectory of the session sandbox.
func (s *Session) Dir(name string) string {
	return filepath.Join(s.Path, name)
}

// ScratchPath returns the scratch directory for marshalled argument files.
func (s *Session) ScratchPath() string {
	return s.Dir(ScratchDir)
}

// HasData reports whether any raw data has been uploaded.
func (s *Session) HasData() bool {
	return dirHasEntries(s.Dir(InputDir))
}

// HasResults reports whether any final outputs exist.
func (s *Session) HasResults() bool {
	return dirHasEntries(s.Dir(ResultsDir))
}

// ResultFiles lists the names of files in the results directory.
func (s *Session) ResultFiles() []string {
	entries, err := os.ReadDir(s.Dir(ResultsDir))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}

func dirHasEntries(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// NewID generates a short opaque session identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
