package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrMissingKeys is reported for bodies lacking workerId or content; they are echoed but not saved.
	ErrMissingKeys = errors.New("request lacks workerId or content")
	// ErrInvalidWorkerID is returned for worker ids that are not a plain file name.
	ErrInvalidWorkerID = errors.New("invalid worker id")
)

// apiSchema requires the keys a saved record needs. Anything else in the body is
// echoed back and otherwise ignored.
var apiSchema = jsonschema.MustCompileString("api_post.schema.json", `{
	"type": "object",
	"required": ["workerId", "content"],
	"properties": {
		"workerId": {"type": "string"}
	}
}`)

// jsonlStore appends records to one <workerId>.jsonl file per worker.
type jsonlStore struct {
	dir string
	mu  sync.Mutex
}

func newJSONLStore(dir string) (*jsonlStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &jsonlStore{dir: dir}, nil
}

// pathFor maps a worker id to its file, rejecting ids that would leave the data folder.
func (store *jsonlStore) pathFor(workerID string) (string, error) {
	if workerID == "" || strings.ContainsAny(workerID, `/\`) || !filepath.IsLocal(workerID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkerID, workerID)
	}
	return filepath.Join(store.dir, workerID+".jsonl"), nil
}

// Append writes line and a newline to the worker's file, returning the file's path.
func (store *jsonlStore) Append(workerID string, line []byte) (string, error) {
	path, err := store.pathFor(workerID)
	if err != nil {
		return "", err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	if _, err = f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
