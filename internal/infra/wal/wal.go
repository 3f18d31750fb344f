// Package wal provides an append-only JSON-lines write-ahead log.
// Every record is fsynced before Write returns. A record that fails to
// reach disk is cut off again, so the file only ever holds whole,
// acknowledged records.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileMode is the permission used when the log file is created.
const FileMode fs.FileMode = 0o600

// File is the storage a WAL writes to. *os.File satisfies it.
type File interface {
	io.ReadWriteSeeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// WAL is a write-ahead log backed by a single file.
type WAL struct {
	mu   sync.Mutex
	file File
	// size is the length of the acknowledged prefix of file.
	size int64
	// broken is set when a failed write could not be rolled back; the log
	// refuses further writes from then on.
	broken error
}

// Open opens or creates the log at path. Writes always go to the end of the file.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	w, err := New(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return w, nil
}

// New wraps an already opened file that appends on every write.
func New(file File) (*WAL, error) {
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek wal end: %w", err)
	}
	return &WAL{file: file, size: size}, nil
}

// Write appends v as one JSON line and syncs the file. On failure the
// partial record is truncated away before Write returns.
func (w *WAL) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return w.broken
	}

	n, err := w.file.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		err = fmt.Errorf("write wal record: %w", err)
	} else if err = w.file.Sync(); err != nil {
		err = fmt.Errorf("sync wal: %w", err)
	}
	if err != nil {
		w.rollback(err)
		return err
	}

	w.size += int64(len(line))
	return nil
}

// rollback cuts the file back to the acknowledged prefix. If that cannot be
// confirmed the log is sealed. Caller holds mu.
func (w *WAL) rollback(cause error) {
	if err := w.file.Truncate(w.size); err != nil {
		w.broken = fmt.Errorf("wal sealed: rollback after %v failed: %w", cause, err)
		return
	}
	if err := w.file.Sync(); err != nil {
		w.broken = fmt.Errorf("wal sealed: sync after rollback failed: %w", err)
	}
}

// ReadAll calls fn for every record in write order.
// A torn final line (crash during write) is truncated away so later writes
// start on a clean line. A malformed complete line is an error.
func (w *WAL) ReadAll(fn func(raw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	r := bufio.NewReader(w.file)
	var offset int64
	for seen := 1; ; seen++ {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				return w.truncateTail(offset)
			}
			w.size = offset
			return nil
		}
		if err != nil {
			return fmt.Errorf("read wal: %w", err)
		}

		raw := bytes.TrimSpace(line)
		if len(raw) > 0 {
			if !json.Valid(raw) {
				return fmt.Errorf("decode wal record %d at offset %d: malformed JSON", seen, offset)
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
		offset += int64(len(line))
	}
}

func (w *WAL) truncateTail(offset int64) error {
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn wal tail at %d: %w", offset, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync wal after truncate: %w", err)
	}
	w.size = offset
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.file.Close()
}
