package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
)

// Persister stores committed state outside the message stream.
type Persister interface {
	Save(st *State) error
}

// FilePersister writes state to a file, replacing it atomically.
type FilePersister struct {
	Path string
}

// Save writes st to a temp file in the target directory and renames it over
// the target, so readers never observe a partial document.
func (p *FilePersister) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode state")
	}

	dir := filepath.Dir(p.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create state temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close state")
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("failed to replace state file %s", p.Path))
	}
	return nil
}

// Load reads a state file. A missing file is an empty state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if os.IsNotExist(err) {
		return &State{Bookmarks: map[string]Bookmark{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state")
	}
	return Parse(data)
}
