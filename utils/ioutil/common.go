// Package ioutil implements some I/O utility functions.
package ioutil

import "io"

// CheckClose calls Close on the given io.Closer. If the given *error
// points to nil, it will be assigned the error returned by Close.
// Otherwise, any error returned by Close will be ignored. CheckClose is
// usually called with defer.
func CheckClose(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error {
	return r.closer.Close()
}

// NewReadCloser creates an io.ReadCloser with the given io.Reader and
// io.Closer.
func NewReadCloser(r io.Reader, c io.Closer) io.ReadCloser {
	return &readCloser{Reader: r, closer: c}
}
