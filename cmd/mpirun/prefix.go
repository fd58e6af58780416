// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/muesli/termenv"
)

// prefixer interleaves the output of several ranks on one writer,
// line by line, each line prefixed by the colored rank.
type prefixer struct {
	mu    sync.Mutex
	w     io.Writer
	out   *termenv.Output
	width int
}

func newPrefixer(w io.Writer, n int) *prefixer {
	return &prefixer{w: w, out: termenv.NewOutput(w), width: len(strconv.Itoa(n - 1))}
}

func (p *prefixer) prefix(rank int) string {
	s := fmt.Sprintf("[%*d] ", p.width, rank)
	return p.out.String(s).Foreground(p.out.Color(strconv.Itoa(1 + rank%6))).String()
}

// writer returns the writer for the given rank.
// It must be closed to flush a last unterminated line.
func (p *prefixer) writer(rank int) io.WriteCloser {
	return &lineWriter{p: p, prefix: p.prefix(rank)}
}

func (p *prefixer) writeLine(prefix string, line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, prefix)
	if err == nil {
		_, err = p.w.Write(line)
	}
	return err
}

type lineWriter struct {
	p      *prefixer
	prefix string
	buf    []byte
}

func (lw *lineWriter) Write(b []byte) (int, error) {
	lw.buf = append(lw.buf, b...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			return len(b), nil
		}
		if err := lw.p.writeLine(lw.prefix, lw.buf[:i+1]); err != nil {
			return len(b), err
		}
		lw.buf = lw.buf[i+1:]
	}
}

func (lw *lineWriter) Close() error {
	if len(lw.buf) == 0 {
		return nil
	}
	line := append(lw.buf, '\n')
	lw.buf = nil
	return lw.p.writeLine(lw.prefix, line)
}
