// File: cmd/mender/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("serve: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("failed to load or validate config")))
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	var (
		exitStatus = -1
		written    string
		path       string
	)
	osExit = func(code int) { exitStatus = code }

	t.Run("writes the panic log", func(t *testing.T) {
		exitStatus = -1
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			path, written = name, string(data)
			return nil
		}

		func() {
			defer handlePanic()
			panic("validator exploded")
		}()

		assert.Equal(t, 2, exitStatus)
		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, written, "panic: validator exploded")
		assert.Contains(t, written, "goroutine", "the stack trace should be included")
	})

	t.Run("falls back to stderr when the log cannot be written", func(t *testing.T) {
		exitStatus = -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }

		func() {
			defer handlePanic()
			panic("again")
		}()

		assert.Equal(t, 2, exitStatus)
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		exitStatus = -1
		require.NotPanics(t, func() {
			defer handlePanic()
		})
		assert.Equal(t, -1, exitStatus)
	})
}
