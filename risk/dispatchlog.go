package risk

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type dispatchEntry struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// OpenDispatchLog loads the dispatch keys recorded at path and appends
// every later commit to it, so a key dispatched before a restart is still
// refused after it. An empty path disables persistence. It returns the
// number of keys restored.
func (l *Ledger) OpenDispatchLog(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dlog != nil {
		return 0, errors.New("dispatch log already open")
	}

	entries, torn, err := readDispatchLog(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		l.dispatched[e.Key] = e.At
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	if torn {
		// Drop the torn line so new entries start on a clean line.
		if err := rewriteDispatchLog(path, entries); err != nil {
			return 0, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	l.dlog = f
	return len(entries), nil
}

// readDispatchLog tolerates a torn final line: a commit that crashed
// mid-append never reached the executor.
func readDispatchLog(path string) ([]dispatchEntry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var (
		out  []dispatchEntry
		torn int
	)
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if torn > 0 {
			return nil, false, fmt.Errorf("parse dispatch log %s line %d", path, torn)
		}
		var e dispatchEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Key == "" {
			torn = line
			continue
		}
		out = append(out, e)
	}
	return out, torn > 0, sc.Err()
}

func rewriteDispatchLog(path string, entries []dispatchEntry) error {
	var b []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b = append(append(b, line...), '\n')
	}
	tmp := path + ".rewrite"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// appendDispatchLocked persists dk before it is marked dispatched.
func (l *Ledger) appendDispatchLocked(dk string, at time.Time) error {
	if l.dlog == nil {
		return nil
	}
	b, err := json.Marshal(dispatchEntry{Key: dk, At: at})
	if err != nil {
		return err
	}
	if _, err := l.dlog.Write(append(b, '\n')); err != nil {
		return err
	}
	return l.dlog.Sync()
}

// CloseDispatchLog releases the dispatch log.
func (l *Ledger) CloseDispatchLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dlog == nil {
		return nil
	}
	err := l.dlog.Close()
	l.dlog = nil
	return err
}
