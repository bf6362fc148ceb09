// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fsp

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileSource serves a snapshot of a file in chunks of ChunkSize bytes. It
// implements rdp.Source.
//
// The file is read once. Changes afterwards are not served, but reported by
// Watch.
type FileSource struct {
	Path string

	data     []byte
	checksum uint16

	watcher       *fsnotify.Watcher
	modifications int
	mutex         sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewFileSource reads the file at path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fs := &FileSource{
		Path:     path,
		data:     data,
		checksum: Checksum(data),
	}

	log.WithFields(log.Fields{
		"file":     path,
		"size":     len(data),
		"chunks":   fs.Chunks(),
		"checksum": fmt.Sprintf("%04x", fs.checksum),
	}).Info("Loaded file to serve")

	return fs, nil
}

// Size of the served snapshot in bytes.
func (fs *FileSource) Size() int {
	return len(fs.data)
}

// Checksum of the served snapshot.
func (fs *FileSource) Checksum() uint16 {
	return fs.checksum
}

// Chunks is the number of chunks. An empty file has no chunks.
func (fs *FileSource) Chunks() int {
	return (len(fs.data) + ChunkSize - 1) / ChunkSize
}

// Chunk returns the index-th chunk.
func (fs *FileSource) Chunk(index int) ([]byte, error) {
	if index < 0 || index >= fs.Chunks() {
		return nil, fmt.Errorf("chunk %d is out of range, %s has %d chunks", index, fs.Path, fs.Chunks())
	}

	start := index * ChunkSize
	end := start + ChunkSize
	if end > len(fs.data) {
		end = len(fs.data)
	}
	return fs.data[start:end], nil
}

// Watch the file for modifications. Each modification is logged.
func (fs *FileSource) Watch() (err error) {
	if fs.watcher, err = fsnotify.NewWatcher(); err != nil {
		return
	}
	if err = fs.watcher.Add(fs.Path); err != nil {
		_ = fs.watcher.Close()
		fs.watcher = nil
		return
	}

	fs.stopSyn = make(chan struct{})
	fs.stopAck = make(chan struct{})

	go fs.handler()
	return
}

func (fs *FileSource) handler() {
	defer close(fs.stopAck)

	for {
		select {
		case <-fs.stopSyn:
			return

		case e, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}

			fs.mutex.Lock()
			fs.modifications++
			fs.mutex.Unlock()

			log.WithFields(log.Fields{
				"file":  fs.Path,
				"event": e.Op.String(),
			}).Warn("Served file changed on disk, continuing with the loaded snapshot")

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).WithField("file", fs.Path).Warn("Watching served file errored")
		}
	}
}

// Modifications counts the file system events seen by Watch.
func (fs *FileSource) Modifications() int {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	return fs.modifications
}

// Close stops watching.
func (fs *FileSource) Close() error {
	if fs.watcher == nil {
		return nil
	}

	close(fs.stopSyn)
	<-fs.stopAck

	err := fs.watcher.Close()
	fs.watcher = nil
	return err
}
