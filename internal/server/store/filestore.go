package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devplane-io/devplane/internal/server/state"
)

// FileBacking persists the whole document as one JSON file. Writes go to a
// temp file in the same directory followed by an atomic rename, so a crash
// leaves either the old document or the new one, never a torn write.
type FileBacking struct {
	path string
}

func NewFileBacking(path string) *FileBacking {
	return &FileBacking{path: path}
}

func (f *FileBacking) Load(ctx context.Context) (*state.State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state.New(), nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return state.New(), nil
	}

	s := state.New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", f.path, err)
	}
	return s, nil
}

func (f *FileBacking) Save(ctx context.Context, next, prev *state.State) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
