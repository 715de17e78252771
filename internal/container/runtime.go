// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container detects a docker or podman runtime and runs one-shot
// tool containers with stdin/stdout piping. The PDF extraction stage uses
// it to run poppler tools without requiring them on the host.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// stderrTail bounds how much of a failed tool's stderr is kept for the error.
const stderrTail = 512

// Runtime runs poppler-style tools in throwaway containers.
type Runtime interface {
	// Name returns the runtime name ("docker" or "podman").
	Name() string

	// Available reports whether the runtime binary exists on PATH and
	// responds to an info command.
	Available() bool

	// ImageExists returns nil when image is present locally.
	ImageExists(image string) error

	// Run executes image with args appended to the container command line,
	// piping stdin in and capturing stdout. The container has no network
	// and is removed on exit. On failure the tail of the tool's stderr is
	// part of the error.
	Run(ctx context.Context, image string, args []string, stdin io.Reader, stdout io.Writer) error
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osExecutor) RunSilent(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// spec describes how one runtime binary checks for a local image.
type spec struct {
	bin        string
	imageCheck []string
}

// known lists the supported runtimes in detection order.
var known = []spec{
	{bin: binDocker, imageCheck: []string{"image", "inspect"}},
	{bin: binPodman, imageCheck: []string{"image", "exists"}},
}

type runtime struct {
	spec
	exec executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available() bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(r.bin, "info") == nil
}

func (r *runtime) ImageExists(image string) error {
	args := append(append([]string(nil), r.imageCheck...), image)
	if err := r.exec.RunSilent(r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func (r *runtime) Run(ctx context.Context, image string, args []string, stdin io.Reader, stdout io.Writer) error {
	full := append([]string{"run", "--rm", "-i", "--network", "none", image}, args...)

	var stderr bytes.Buffer
	if err := r.exec.RunPiped(ctx, r.bin, full, stdin, stdout, &stderr); err != nil {
		if msg := tail(stderr.String()); msg != "" {
			return fmt.Errorf("running %s container %s: %w: %s", r.bin, image, err, msg)
		}
		return fmt.Errorf("running %s container %s: %w", r.bin, image, err)
	}
	return nil
}

// tail returns the last stderrTail bytes of s on one line.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return strings.Join(strings.Fields(s), " ")
}

func newRuntime(bin string, exec executor) (*runtime, bool) {
	for _, s := range known {
		if s.bin == bin {
			return &runtime{spec: s, exec: exec}, true
		}
	}
	return nil, false
}

// DetectRuntime returns the named runtime ("docker" or "podman"), or the
// first available one when name is empty. Docker is tried before podman.
func DetectRuntime(name string) (Runtime, error) {
	return detectRuntime(name, osExecutor{})
}

func detectRuntime(name string, exec executor) (Runtime, error) {
	if name != "" {
		rt, ok := newRuntime(name, exec)
		if !ok {
			return nil, fmt.Errorf("unknown container runtime %q: use %s or %s", name, binDocker, binPodman)
		}
		if !rt.Available() {
			return nil, fmt.Errorf("container runtime %s not found or not operational", name)
		}
		return rt, nil
	}

	for _, s := range known {
		if rt := (&runtime{spec: s, exec: exec}); rt.Available() {
			return rt, nil
		}
	}
	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}
