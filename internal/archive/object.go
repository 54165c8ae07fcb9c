package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/imedwei/docker-pbs-backup/internal/backup"
	"github.com/imedwei/docker-pbs-backup/internal/storage"
	"github.com/imedwei/docker-pbs-backup/internal/utils"
)

// ObjectExtension is appended to every unit name to form its object key.
const ObjectExtension = ".tar.zst"

// Object archives each unit as a zstd-compressed tarball in object storage,
// under <namespace>/<run timestamp>/<unit>.tar.zst.
type Object struct {
	store     storage.Storage
	namespace string
	tempDir   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewObject creates an object storage archiver. Archives are built in tempDir
// before upload; an empty tempDir means the system default.
func NewObject(store storage.Storage, namespace, tempDir string, logger *slog.Logger) *Object {
	return &Object{
		store:     store,
		namespace: namespace,
		tempDir:   tempDir,
		logger:    logger,
		now:       time.Now,
	}
}

// Archive implements backup.Archiver. Every unit is attempted; the exit code
// is 1 when any of them failed.
func (o *Object) Archive(ctx context.Context, units []backup.Unit) (int, error) {
	if len(units) == 0 {
		o.logger.Info("Nothing to archive")
		return 0, nil
	}

	prefix := utils.RunPrefix(o.namespace, o.now())
	failed := 0

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		key := utils.ObjectKey(prefix, u.Name, ObjectExtension)
		size, err := o.archiveUnit(ctx, u, key)
		if err != nil {
			if ctx.Err() != nil {
				return -1, ctx.Err()
			}
			o.logger.Error("Failed to archive unit", "unit", u.Name, "key", key, "error", err)
			failed++
			continue
		}
		o.logger.Info("Archived unit", "unit", u.Name, "key", key, "size", utils.FormatBytes(size))
	}

	if failed > 0 {
		return 1, nil
	}
	return 0, nil
}

func (o *Object) archiveUnit(ctx context.Context, u backup.Unit, key string) (int64, error) {
	tmp, err := os.CreateTemp(o.tempDir, "docker-pbs-backup-*"+ObjectExtension)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := writeTarZstd(ctx, tmp, u.Path); err != nil {
		return 0, err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	metadata := map[string]string{
		"backup-unit":      u.Name,
		"backup-kind":      u.Kind.String(),
		"backup-timestamp": o.now().UTC().Format(time.RFC3339),
	}
	if err := o.store.Upload(ctx, key, tmp, metadata); err != nil {
		return 0, err
	}
	return size, nil
}

// writeTarZstd writes the tree rooted at dir to w as a zstd-compressed tar.
// Entry names are relative to dir.
func writeTarZstd(ctx context.Context, w io.Writer, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", file, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()
		if _, err := utils.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", file, err)
		}
		return nil
	})

	err = errors.Join(walkErr, tw.Close(), zw.Close())
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, err)
	}
	return nil
}
