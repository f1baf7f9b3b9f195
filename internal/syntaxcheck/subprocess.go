package syntaxcheck

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// SubprocessChecker runs a model response through a local compiler or
// linter command, grounded in the subprocess pipe-wiring/kill/exit-code
// pattern the teacher used to run test commands on an agent host.
type SubprocessChecker struct {
	// Command is the compiler/checker invocation, e.g. []string{"go",
	// "build", "-o", os.DevNull, "{{file}}"}. The literal token
	// "{{file}}" is replaced with the path of a temp file holding code.
	Command []string
	// FileExt is the extension given to the temp file (e.g. ".go").
	FileExt string
	// Timeout bounds the subprocess; spec §6 requires <5s and treats a
	// timeout as a failing Result, not an error.
	Timeout time.Duration
	WorkDir string
	Logger  zerolog.Logger
}

// NewSubprocessChecker builds a SubprocessChecker with the spec §6
// default 5-second timeout.
func NewSubprocessChecker(command []string, fileExt, workDir string, logger zerolog.Logger) *SubprocessChecker {
	return &SubprocessChecker{
		Command: command,
		FileExt: fileExt,
		Timeout: 5 * time.Second,
		WorkDir: workDir,
		Logger:  logger.With().Str("component", "syntaxcheck.subprocess").Logger(),
	}
}

func (c *SubprocessChecker) Check(code string) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	tmp, err := os.CreateTemp(c.WorkDir, "check-*"+c.FileExt)
	if err != nil {
		return Result{OK: false, Errors: []string{fmt.Sprintf("create temp file: %v", err)}}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return Result{OK: false, Errors: []string{fmt.Sprintf("write temp file: %v", err)}}
	}
	if err := tmp.Close(); err != nil {
		return Result{OK: false, Errors: []string{fmt.Sprintf("close temp file: %v", err)}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = strings.ReplaceAll(a, "{{file}}", tmp.Name())
	}
	if len(args) == 0 {
		return Result{OK: false, Errors: []string{"no checker command configured"}}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = filepath.Dir(tmp.Name())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		c.Logger.Debug().Msg("syntax check timed out")
		return Result{OK: false, Errors: []string{"syntax check timed out"}}
	}
	if err != nil {
		return Result{OK: false, Errors: []string{strings.TrimSpace(stderr.String())}}
	}
	return Result{OK: true}
}
