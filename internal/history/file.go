package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/keylock"
)

// FileStore keeps one JSONL file per user under BaseDir. Saves go through a temp
// file and a rename, so readers never observe a half-written transcript.
type FileStore struct {
	BaseDir string
	locks   keylock.Map[core.UserID]
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{BaseDir: baseDir}
}

func (s *FileStore) path(user core.UserID) string {
	return filepath.Join(s.BaseDir, user.String()+".jsonl")
}

func (s *FileStore) Load(ctx context.Context, user core.UserID) ([]core.Turn, error) {
	unlock, err := s.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	path := s.path(user)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []core.Turn{}, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	turns := []core.Turn{}
	reader := bufio.NewReader(file)
	lineNo := 0

	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read history: %w", readErr)
		}

		lineNo++
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			var turn core.Turn
			if err := json.Unmarshal(line, &turn); err != nil {
				slog.Warn("skipping malformed history line", "path", path, "line", lineNo, "error", err)
			} else {
				turns = append(turns, turn)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	return turns, nil
}

func (s *FileStore) Save(ctx context.Context, user core.UserID, turns []core.Turn) error {
	unlock, err := s.locks.Lock(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	path := s.path(user)

	if len(turns) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove history: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.BaseDir, user.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeTurns(tmp, turns); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp history: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace history: %w", err)
	}

	return nil
}

func writeTurns(file *os.File, turns []core.Turn) error {
	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)

	for _, turn := range turns {
		if err := encoder.Encode(turn); err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync history: %w", err)
	}

	return nil
}
