package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sudooom.arena/internal/model"
)

// FileBackend 每个房间一个 <dir>/<id>.json，先写临时文件再改名
type FileBackend struct {
	dir string
}

// NewFileBackend 创建文件后端，目录不存在时创建
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *FileBackend) Save(ctx context.Context, rooms []*model.Room) error {
	var errs []error
	for _, r := range rooms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.write(r); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (b *FileBackend) write(r *model.Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, r.ID+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path(r.ID))
}

func (b *FileBackend) Delete(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *FileBackend) Get(ctx context.Context, id string) (*model.Room, error) {
	data, err := os.ReadFile(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}

func (b *FileBackend) LoadAll(ctx context.Context) ([]*model.Room, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	rooms := make([]*model.Room, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var r model.Room
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		rooms = append(rooms, &r)
	}
	return rooms, nil
}
