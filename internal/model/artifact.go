package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact is the persisted result of training: the metadata needed to
// rebuild the preprocessing and backbone binding, plus the head weights.
type Artifact struct {
	Metadata Metadata `json:"metadata"`
	Head     *Head    `json:"head"`
}

func (a *Artifact) Validate() error {
	if err := a.Metadata.Validate(); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	if a.Head == nil {
		return fmt.Errorf("artifact has no head")
	}
	if err := a.Head.Validate(); err != nil {
		return err
	}
	if a.Head.Features != a.Metadata.FeatureSize || a.Head.Classes != len(a.Metadata.Classes) {
		return fmt.Errorf("head is %dx%d but metadata declares %d classes and %d features",
			a.Head.Classes, a.Head.Features, len(a.Metadata.Classes), a.Metadata.FeatureSize)
	}
	return nil
}

func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Save writes the artifact next to path and renames it into place.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
