package runtime

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// tailPollInterval bounds how quickly a follow-mode reader notices new data
const tailPollInterval = 250 * time.Millisecond

// tailReader streams a log file, optionally starting at the last N lines
// and following appends. Read returns io.EOF once the stream is closed or
// its context is cancelled, which is how a follow stream that never ends on
// its own still gets released on disconnect.
type tailReader struct {
	ctx    context.Context
	cancel context.CancelFunc
	file   *os.File
	follow bool

	closeOnce sync.Once
}

func newTailReader(ctx context.Context, path string, opts LogOptions) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && opts.Follow {
			// The task may not have produced output yet; follow from an
			// empty placeholder so the stream begins when it appears.
			file, err = os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
		}
		if err != nil {
			return nil, err
		}
	}

	if opts.TailLines > 0 {
		if err := seekToLastLines(file, opts.TailLines); err != nil {
			file.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &tailReader{
		ctx:    ctx,
		cancel: cancel,
		file:   file,
		follow: opts.Follow,
	}, nil
}

func (t *tailReader) Read(p []byte) (int, error) {
	for {
		if err := t.ctx.Err(); err != nil {
			return 0, io.EOF
		}

		n, err := t.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !t.follow {
			return 0, io.EOF
		}

		select {
		case <-t.ctx.Done():
			return 0, io.EOF
		case <-time.After(tailPollInterval):
		}
	}
}

func (t *tailReader) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.file.Close()
	})
	return err
}

// seekToLastLines positions the file so reads start at most n lines before
// the current end. Only the final 32KiB are examined; older history is
// skipped rather than scanned.
func seekToLastLines(file *os.File, n int) error {
	const window = 32 * 1024

	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	start := size - window
	if start < 0 {
		start = 0
	}

	buf := make([]byte, size-start)
	if _, err := file.ReadAt(buf, start); err != nil && err != io.EOF {
		return err
	}

	// Walk backwards counting newlines.
	offset := int64(len(buf))
	seen := 0
	for offset > 0 {
		idx := bytes.LastIndexByte(buf[:offset], '\n')
		if idx < 0 {
			offset = 0
			break
		}
		seen++
		if seen > n {
			offset = int64(idx + 1)
			break
		}
		offset = int64(idx)
	}

	_, err = file.Seek(start+offset, io.SeekStart)
	return err
}
