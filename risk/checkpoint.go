package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the on-disk kill switch state. A halted checkpoint keeps a
// restarted process halted.
type Checkpoint struct {
	State       State        `json:"state"`
	Cause       string       `json:"cause,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	Since       time.Time    `json:"since"`
	Transitions []Transition `json:"transitions,omitempty"`
}

func LoadCheckpoint(path string) (Checkpoint, bool, error) {
	if path == "" {
		return Checkpoint{}, false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var ck Checkpoint
	if err := json.Unmarshal(b, &ck); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return ck, true, nil
}

func SaveCheckpoint(path string, ck Checkpoint) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(ck, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// A private temp file per write: concurrent savers never share one.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Save writes the switch's state to its configured path. Saves are
// serialized and each reads the state it writes under saveMu, so the file
// always ends at the latest state.
func (k *KillSwitch) Save() error {
	k.saveMu.Lock()
	defer k.saveMu.Unlock()

	k.mu.Lock()
	ck := Checkpoint{
		State:       k.state,
		Cause:       k.cause,
		Detail:      k.detail,
		Since:       k.since,
		Transitions: append([]Transition(nil), k.transitions...),
	}
	path := k.p.StatePath
	k.mu.Unlock()
	return SaveCheckpoint(path, ck)
}

// Restore loads a checkpoint from the configured path. It reports whether
// the restored switch is halted.
func (k *KillSwitch) Restore() (bool, error) {
	ck, ok, err := LoadCheckpoint(k.p.StatePath)
	if err != nil || !ok {
		return false, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.transitions = ck.Transitions
	if ck.State == Halted {
		k.state = Halted
		k.cause, k.detail = ck.Cause, ck.Detail
		k.since = ck.Since
	}
	return k.state == Halted, nil
}
