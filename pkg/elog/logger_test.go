package elog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalReturnsAborted(t *testing.T) {
	buf := new(bytes.Buffer)
	log := New(3, buf)
	log.Infof("read block %d", 7)
	err := log.Fatal(FormatError, "block 7 byte-length mismatch", sampleErr())
	assert.Equal(t, Aborted, err)
	assert.Contains(t, buf.String(), "fatal")
}

func sampleErr() error {
	return New(FormatError, "byte-length sum mismatch")
}
