package logging

import (
	"io"
	"log"
	"os"
)

const prefix = "connprobe "

func New() *log.Logger {
	return NewWriter(os.Stdout)
}

// NewWriter is New with a caller supplied destination.
func NewWriter(w io.Writer) *log.Logger {
	if w == nil {
		w = io.Discard
	}
	return log.New(w, prefix, log.LstdFlags|log.LUTC)
}
