package common

import (
	"io"
	"log"
	"os"
)

var (
	logger = log.New(os.Stderr, "[mavlog] ", log.LstdFlags|log.Lmicroseconds)
)

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// SetOutput redirects package logging, e.g. into a rotating file writer.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}
