package docstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/planstore/internal/errors"
)

// AuditLogName is the base name of a plan's audit trail. Rotated generations
// share it as a prefix.
const AuditLogName = "update-history.jsonl"

// backupTimeFormat sorts lexically in creation order.
const backupTimeFormat = "20060102T150405.000000000Z"

// excluded reports whether a top-level plan directory entry is left out of
// backups and untouched by restores.
func excluded(name string) bool {
	return name == LockFileName || strings.HasPrefix(name, AuditLogName)
}

// CreateBackup copies the whole plan directory tree to
// <backupRoot>/<base>.backup-<timestamp> and returns that path. An empty
// backupRoot places the backup next to planDir.
func CreateBackup(planDir, backupRoot string) (string, error) {
	info, err := os.Stat(planDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewBackupError(planDir, errors.ErrPlanNotFound)
		}
		return "", errors.NewBackupError(planDir, err)
	}
	if !info.IsDir() {
		return "", errors.NewBackupError(planDir, fmt.Errorf("%s is not a directory", planDir))
	}

	abs, err := filepath.Abs(planDir)
	if err != nil {
		return "", errors.NewBackupError(planDir, err)
	}
	if backupRoot == "" {
		backupRoot = filepath.Dir(abs)
	}
	if err := os.MkdirAll(backupRoot, 0755); err != nil {
		return "", errors.NewBackupError(planDir, err)
	}

	base := fmt.Sprintf("%s.backup-%s", filepath.Base(abs), time.Now().UTC().Format(backupTimeFormat))
	dest := filepath.Join(backupRoot, base)
	for i := 1; Exists(dest); i++ {
		dest = filepath.Join(backupRoot, fmt.Sprintf("%s-%d", base, i))
	}

	if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
		return "", errors.NewBackupError(planDir, err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", errors.NewBackupError(planDir, err)
	}
	for _, e := range entries {
		if excluded(e.Name()) {
			continue
		}
		if err := copyTree(filepath.Join(abs, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			_ = os.RemoveAll(dest)
			return "", errors.NewBackupError(planDir, err)
		}
	}

	return dest, nil
}

// RestoreFromBackup makes planDir's contents equal to the backup at
// backupPath. Entries excluded from backups are left in place.
func RestoreFromBackup(backupPath, planDir string) error {
	info, err := os.Stat(backupPath)
	if err != nil {
		return errors.NewRestoreError(backupPath, err)
	}
	if !info.IsDir() {
		return errors.NewRestoreError(backupPath, fmt.Errorf("%s is not a directory", backupPath))
	}
	if err := os.MkdirAll(planDir, info.Mode().Perm()); err != nil {
		return errors.NewRestoreError(backupPath, err)
	}

	current, err := os.ReadDir(planDir)
	if err != nil {
		return errors.NewRestoreError(backupPath, err)
	}
	for _, e := range current {
		if excluded(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(planDir, e.Name())); err != nil {
			return errors.NewRestoreError(backupPath, err)
		}
	}

	saved, err := os.ReadDir(backupPath)
	if err != nil {
		return errors.NewRestoreError(backupPath, err)
	}
	for _, e := range saved {
		if excluded(e.Name()) {
			continue
		}
		if err := copyTree(filepath.Join(backupPath, e.Name()), filepath.Join(planDir, e.Name())); err != nil {
			return errors.NewRestoreError(backupPath, err)
		}
	}
	return nil
}

// RemoveBackup deletes a backup directory created by CreateBackup.
func RemoveBackup(backupPath string) error {
	if backupPath == "" {
		return nil
	}
	return os.RemoveAll(backupPath)
}

func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil

	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
