package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/segdex/pkg/errors"
)

const LockFile = "write.lock"

// LockInfo is the content of the lock file: who holds the index for writing.
type LockInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held single-writer lock on an index directory.
type Lock struct {
	path string
	info LockInfo
}

// AcquireLock takes the writer lock of the index at dir without waiting. It
// fails with ErrLockHeld if another writer holds it.
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFile)
	host, _ := os.Hostname()
	info := LockInfo{
		Owner:      uuid.NewString(),
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: time.Now().UTC(),
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			msg := "another writer holds the lock"
			if holder, rerr := ReadLock(dir); rerr == nil {
				msg = fmt.Sprintf("held by pid %d on %s since %s", holder.PID, holder.Host, holder.AcquiredAt.Format(time.RFC3339))
			}
			return nil, apperrors.New(apperrors.ErrLockHeld, "acquire write lock", dir, msg)
		}
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "acquire write lock", dir, err)
	}
	data, _ := json.Marshal(info)
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "acquire write lock", dir, errors.Join(werr, cerr))
	}
	return &Lock{path: path, info: info}, nil
}

func (l *Lock) Info() LockInfo {
	return l.info
}

// Release removes the lock file if it still belongs to this lock.
func (l *Lock) Release() error {
	current, err := ReadLock(filepath.Dir(l.path))
	if err != nil {
		return err
	}
	if current.Owner != l.info.Owner {
		return apperrors.Newf(apperrors.ErrLockHeld, "release write lock", filepath.Dir(l.path),
			"lock now owned by %s", current.Owner)
	}
	if err := os.Remove(l.path); err != nil {
		return apperrors.Wrap(apperrors.ErrIOFailure, "release write lock", filepath.Dir(l.path), err)
	}
	return nil
}

// ReadLock returns the current holder of the lock at dir.
func ReadLock(dir string) (*LockInfo, error) {
	path := filepath.Join(dir, LockFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrIOFailure, "read write lock", path, err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, apperrors.Newf(apperrors.ErrIOFailure, "read write lock", path, "malformed lock file: %v", err)
	}
	return &info, nil
}

// ForceUnlock removes a lock left behind by a crashed writer. It reports
// whether a lock file was present.
func ForceUnlock(dir string) (bool, error) {
	err := os.Remove(filepath.Join(dir, LockFile))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, apperrors.Wrap(apperrors.ErrIOFailure, "force unlock", dir, err)
	}
}
