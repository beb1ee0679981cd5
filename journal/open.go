package journal

import (
	"fmt"
	"strings"
)

// Options selects and locates a journal backend.
type Options struct {
	Type string `json:"type" yaml:"type"`                     // sqlite | csv | jsonl | none
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // sqlite or jsonl file
	Dir  string `json:"dir,omitempty" yaml:"dir,omitempty"`   // csv directory
	// Mirror additionally writes a JSONL copy next to the primary sink.
	Mirror string `json:"mirror,omitempty" yaml:"mirror,omitempty"`
}

// Open builds the journal named by o.
func Open(o Options) (Journal, error) {
	var primary Journal
	switch strings.ToLower(o.Type) {
	case "", "none":
		primary = Nop{}
	case "sqlite":
		j, err := NewSQLite(o.Path)
		if err != nil {
			return nil, err
		}
		primary = j
	case "csv":
		j, err := NewCSV(o.Dir)
		if err != nil {
			return nil, err
		}
		primary = j
	case "jsonl":
		j, err := NewJSONL(o.Path)
		if err != nil {
			return nil, err
		}
		primary = j
	default:
		return nil, fmt.Errorf("unknown journal type %q", o.Type)
	}
	if o.Mirror == "" {
		return primary, nil
	}
	m, err := NewJSONL(o.Mirror)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return Multi{primary, m}, nil
}
