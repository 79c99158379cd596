package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"agent-follower/internal/errors"
	"agent-follower/internal/models"
)

// positionsFile is the document form of a source snapshot. A bare list of
// positions is accepted as well.
type positionsFile struct {
	AgentID   string            `json:"agent_id" yaml:"agent_id"`
	Positions []models.Position `json:"positions" yaml:"positions"`
}

// Snapshot is a parsed source snapshot.
type Snapshot struct {
	AgentID   string
	Positions []models.Position
}

// LoadPositionsFile reads a source agent's positions from a .json, .yaml or
// .yml file.
func LoadPositionsFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading positions file: %w", err)
	}

	var snap Snapshot
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		snap, err = decodeJSON(data)
	case ".yaml", ".yml":
		snap, err = decodeYAML(data)
	default:
		return Snapshot{}, errors.Wrapf(errors.ErrInvalidPositionsInput, "unsupported file extension %q", ext)
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(errors.ErrInvalidPositionsInput, "%s: %v", path, err)
	}

	if err := validatePositions(snap.Positions); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func decodeJSON(data []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []models.Position
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Positions: list}, nil
	}
	var doc positionsFile
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{AgentID: doc.AgentID, Positions: doc.Positions}, nil
}

func decodeYAML(data []byte) (Snapshot, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return Snapshot{}, err
	}
	if len(node.Content) == 0 {
		return Snapshot{}, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var list []models.Position
		if err := node.Decode(&list); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Positions: list}, nil
	}
	var doc positionsFile
	if err := node.Decode(&doc); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{AgentID: doc.AgentID, Positions: doc.Positions}, nil
}

func validatePositions(positions []models.Position) error {
	seen := make(map[string]bool, len(positions))
	for i, p := range positions {
		if strings.TrimSpace(p.Symbol) == "" {
			return errors.Wrapf(errors.ErrInvalidPositionsInput, "position %d has no symbol", i)
		}
		if seen[p.Symbol] {
			return errors.Wrapf(errors.ErrInvalidPositionsInput, "duplicate symbol %s", p.Symbol)
		}
		seen[p.Symbol] = true
		if p.IsOpen() && p.EntryPrice <= 0 {
			return errors.Wrapf(errors.ErrInvalidPositionsInput, "%s: open position needs entry_price", p.Symbol)
		}
		if p.Leverage < 0 || p.Margin < 0 || p.CurrentPrice < 0 {
			return errors.Wrapf(errors.ErrInvalidPositionsInput, "%s: negative leverage, margin or price", p.Symbol)
		}
	}
	return nil
}
