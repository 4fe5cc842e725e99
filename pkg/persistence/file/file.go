// Package file provides file-based persistence: one JSON document per record
// under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/chatflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	flowRepo     *FlowRepository
	sessionRepo  *SessionRepository
	templateRepo *TemplateRepository
	scheduleRepo *ScheduleRepository
	channelRepo  *ChannelConfigRepository
	agentRepo    *AgentRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		flowRepo:     NewFlowRepository(cleanRoot),
		sessionRepo:  NewSessionRepository(cleanRoot),
		templateRepo: NewTemplateRepository(cleanRoot),
		scheduleRepo: NewScheduleRepository(cleanRoot),
		channelRepo:  NewChannelConfigRepository(cleanRoot),
		agentRepo:    NewAgentRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository { return fp.flowRepo }

func (fp *Persistence) SessionRepository() persistence.SessionRepository { return fp.sessionRepo }

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository { return fp.templateRepo }

func (fp *Persistence) ScheduleRepository() persistence.ScheduleRepository { return fp.scheduleRepo }

func (fp *Persistence) ChannelConfigRepository() persistence.ChannelConfigRepository {
	return fp.channelRepo
}

func (fp *Persistence) AgentRepository() persistence.AgentRepository { return fp.agentRepo }

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

// writeJSON writes v atomically: a temp file in the same directory is renamed over the target.
func writeJSON(dir, id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", id, err)
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, id+".json"))
}

// readJSON loads dir/id.json into v. It returns notFound when the file does not exist.
func readJSON(dir, id string, v any, notFound error) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("%w: %w", notFound, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return nil
}

// listIDs returns the ids of every document stored in dir.
func listIDs(dir string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
