package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jellybean4/urft/arq"
)

var ErrBadName = errors.New("bad file name")

// ReadChunks loads the whole file at name, split into chunks of at most size
// bytes. An empty file yields no chunks.
func ReadChunks(name string, size int) ([][]byte, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size %d", size)
	}
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer CloseFiles(file)

	if info, err := file.Stat(); err != nil {
		return nil, err
	} else if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	}

	var chunks [][]byte
	for pos := 0; ; pos += size {
		buffer := make([]byte, size)
		if cnt, err := ReadFile(file, pos, buffer); err != nil {
			return nil, err
		} else if cnt == 0 {
			return chunks, nil
		} else if cnt < size {
			return append(chunks, buffer[:cnt]), nil
		} else {
			chunks = append(chunks, buffer)
		}
	}
}

// ReadFile fills buffer from pos, returning fewer bytes only at end of file.
func ReadFile(file *os.File, pos int, buffer []byte) (int, error) {
	var size int
	for size < len(buffer) {
		cnt, err := file.ReadAt(buffer[size:], int64(pos+size))
		size += cnt
		if err == io.EOF {
			return size, nil
		} else if err != nil {
			return 0, err
		}
	}
	return size, nil
}

// DirSink writes received files into Dir, creating it on first use.
type DirSink struct {
	Dir string
}

// Create opens Dir/base(name) for writing, truncating an existing file. Any
// directory part of name is dropped so a peer cannot write outside Dir.
func (d DirSink) Create(name string) (io.WriteCloser, error) {
	base := filepath.Base(name)
	if name == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(d.Dir, base), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

func CloseFiles(files ...*os.File) {
	for _, f := range files {
		if f == nil {
			continue
		}
		f.Close()
	}
}

// session tags every log line of one transfer with a fresh id.
func session(conf arq.Config) (arq.Config, *logrus.Entry) {
	base := conf.Logger
	if base == nil {
		base = logrus.StandardLogger()
	}
	log := base.WithField("transfer", uuid.Must(uuid.NewV4()).String())
	conf.Logger = log
	return conf, log
}
