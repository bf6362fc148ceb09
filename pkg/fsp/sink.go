// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fsp

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ulikunitz/xz"
)

// maxNameAttempts bounds UniqueFilename, there are only 1000 names.
const maxNameAttempts = 1000

var (
	nameRand      = rand.New(rand.NewSource(time.Now().UnixNano()))
	nameRandMutex sync.Mutex
)

func randomDigits() int {
	nameRandMutex.Lock()
	defer nameRandMutex.Unlock()

	return nameRand.Intn(1000)
}

// UniqueFilename picks a name within dir of the prefix followed by three
// random digits, which does not exist yet.
func UniqueFilename(dir, prefix string) (string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%s%03d", prefix, randomDigits()))

		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("no free file name for %s in %s", prefix, dir)
}

// Sink stores a received file. The checksum is calculated over the
// uncompressed data.
type Sink struct {
	Path string

	file   *os.File
	xzw    *xz.Writer
	digest *Digest
	w      io.Writer
}

// CreateSink creates a new file with a unique name in dir. A compressed sink
// writes an xz archive, suffixed by ".xz".
func CreateSink(dir string, compress bool) (*Sink, error) {
	var (
		name string
		f    *os.File
		err  error
	)

	// Another process might take the same name in between.
	for i := 0; i < 10; i++ {
		if name, err = UniqueFilename(dir, FilePrefix); err != nil {
			return nil, err
		}
		if compress {
			name += ".xz"
		}

		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s := &Sink{
		Path:   name,
		file:   f,
		digest: NewDigest(),
	}

	if compress {
		if s.xzw, err = xz.NewWriter(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.w = io.MultiWriter(s.xzw, s.digest)
	} else {
		s.w = io.MultiWriter(f, s.digest)
	}

	return s, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Checksum of the data written so far.
func (s *Sink) Checksum() uint16 {
	return s.digest.Sum16()
}

// Close flushes the archive, if any, and closes the file.
func (s *Sink) Close() (errs error) {
	if s.xzw != nil {
		if err := s.xzw.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := s.file.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}

// OpenArchive reads an xz archive created by a compressed Sink.
func OpenArchive(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
