package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Raster format signatures. A downloaded payload must start with one of
// these or it never enters the mosaic.
var rasterMagics = [][]byte{
	{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, // PNG
	{'I', 'I', '*', 0},                            // TIFF little-endian
	{'M', 'M', 0, '*'},                            // TIFF big-endian
	{0xff, 0xd8, 0xff},                            // JPEG
}

// PermanentError marks a failure that retrying cannot fix: client errors,
// malformed or empty payloads. The fetcher fails such tiles immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the fetcher will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// VerifyRasterBytes checks that a payload is non-empty and carries a
// known raster signature. Violations are permanent failures.
func VerifyRasterBytes(data []byte) error {
	if len(data) == 0 {
		return Permanent(errors.New("empty payload"))
	}
	for _, magic := range rasterMagics {
		if bytes.HasPrefix(data, magic) {
			return nil
		}
	}
	return Permanent(fmt.Errorf("payload does not start with a known raster signature (got % x)", head(data, 8)))
}

// VerifyRasterFile re-verifies an on-disk tile. Existence alone is never
// trusted: a partially written or corrupt file fails verification and
// gets refetched.
func VerifyRasterFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return VerifyRasterBytes(data)
}

func head(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}
