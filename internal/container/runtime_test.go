// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor answers LookPath and RunSilent from tables and hands piped
// runs to pipe.
type fakeExecutor struct {
	onPath map[string]bool
	ok     map[string]bool // "bin arg1 arg2" -> RunSilent succeeds
	pipe   func(name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	if f.onPath[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (f *fakeExecutor) RunSilent(name string, args ...string) error {
	key := strings.Join(append([]string{name}, args...), " ")
	if f.ok[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (f *fakeExecutor) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if f.pipe == nil {
		return nil
	}
	return f.pipe(name, args, stdin, stdout, stderr)
}

func mustRuntime(t *testing.T, bin string, e executor) *runtime {
	t.Helper()
	rt, ok := newRuntime(bin, e)
	require.True(t, ok, bin)
	return rt
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		exec    *fakeExecutor
		runtime string
		wantErr string
	}{
		{
			name: "docker available",
			exec: &fakeExecutor{onPath: map[string]bool{"docker": true}, ok: map[string]bool{"docker info": true}},
			want: "docker",
		},
		{
			name: "podman when docker missing",
			exec: &fakeExecutor{onPath: map[string]bool{"podman": true}, ok: map[string]bool{"podman info": true}},
			want: "podman",
		},
		{
			name: "docker info fails",
			exec: &fakeExecutor{
				onPath: map[string]bool{"docker": true, "podman": true},
				ok:     map[string]bool{"podman info": true},
			},
			want: "podman",
		},
		{
			name: "docker preferred",
			exec: &fakeExecutor{
				onPath: map[string]bool{"docker": true, "podman": true},
				ok:     map[string]bool{"docker info": true, "podman info": true},
			},
			want: "docker",
		},
		{
			name:    "podman requested",
			runtime: "podman",
			exec: &fakeExecutor{
				onPath: map[string]bool{"docker": true, "podman": true},
				ok:     map[string]bool{"docker info": true, "podman info": true},
			},
			want: "podman",
		},
		{
			name:    "requested runtime down",
			runtime: "podman",
			exec:    &fakeExecutor{onPath: map[string]bool{"docker": true}, ok: map[string]bool{"docker info": true}},
			wantErr: "podman not found",
		},
		{
			name:    "unknown runtime",
			runtime: "nerdctl",
			exec:    &fakeExecutor{},
			wantErr: `unknown container runtime "nerdctl"`,
		},
		{
			name:    "none available",
			exec:    &fakeExecutor{},
			wantErr: "no container runtime available",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(tt.runtime, tt.exec)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rt.Name())
		})
	}
}

func TestImageExists(t *testing.T) {
	const image = "waycore/poppler:latest"
	tests := []struct {
		bin   string
		check string
	}{
		{"docker", "docker image inspect " + image},
		{"podman", "podman image exists " + image},
	}
	for _, tt := range tests {
		t.Run(tt.bin, func(t *testing.T) {
			found := mustRuntime(t, tt.bin, &fakeExecutor{ok: map[string]bool{tt.check: true}})
			assert.NoError(t, found.ImageExists(image))

			missing := mustRuntime(t, tt.bin, &fakeExecutor{})
			assert.ErrorContains(t, missing.ImageExists(image), image)
		})
	}
}

func TestRunPopplerTools(t *testing.T) {
	const image = "waycore/poppler:latest"
	tests := []struct {
		bin  string
		args []string
		want string
	}{
		{"docker", []string{"pdftotext", "-enc", "UTF-8", "-", "-"},
			"run --rm -i --network none " + image + " pdftotext -enc UTF-8 - -"},
		{"podman", []string{"pdfinfo", "-enc", "UTF-8", "-"},
			"run --rm -i --network none " + image + " pdfinfo -enc UTF-8 -"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			var gotBin, gotArgs string
			e := &fakeExecutor{pipe: func(name string, args []string, stdin io.Reader, stdout, _ io.Writer) error {
				gotBin, gotArgs = name, strings.Join(args, " ")
				data, err := io.ReadAll(stdin)
				if err != nil {
					return err
				}
				_, err = io.WriteString(stdout, "page of "+string(data)+"\f")
				return err
			}}

			var out bytes.Buffer
			err := mustRuntime(t, tt.bin, e).Run(context.Background(), image, tt.args, strings.NewReader("%PDF-1.7"), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.bin, gotBin)
			assert.Equal(t, tt.want, gotArgs)
			assert.Equal(t, "page of %PDF-1.7\f", out.String())
		})
	}
}

func TestRunReportsToolStderr(t *testing.T) {
	e := &fakeExecutor{pipe: func(_ string, _ []string, _ io.Reader, _, stderr io.Writer) error {
		io.WriteString(stderr, "Syntax Error: Couldn't find trailer dictionary\nSyntax Error: Couldn't read xref table\n")
		return errors.New("exit status 1")
	}}

	err := mustRuntime(t, "docker", e).Run(context.Background(), "waycore/poppler:latest", []string{"pdftotext", "-", "-"}, strings.NewReader(""), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waycore/poppler:latest")
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "Couldn't find trailer dictionary Syntax Error: Couldn't read xref table")
}

func TestRunWithoutStderr(t *testing.T) {
	e := &fakeExecutor{pipe: func(string, []string, io.Reader, io.Writer, io.Writer) error {
		return errors.New("exit status 125")
	}}
	err := mustRuntime(t, "podman", e).Run(context.Background(), "img", nil, strings.NewReader(""), io.Discard)
	assert.EqualError(t, err, "running podman container img: exit status 125")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "", tail("  \n"))
	assert.Equal(t, "a b", tail("a\n  b\n"))

	long := strings.Repeat("x", stderrTail+100)
	got := tail(long)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.Len(t, got, stderrTail+3)
}

func TestNewRuntimeUnknown(t *testing.T) {
	_, ok := newRuntime("lxc", &fakeExecutor{})
	assert.False(t, ok)
}
