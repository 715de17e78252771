// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdftext

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	missing map[string]bool
	outputs map[string]string
	calls   []string
	err     error
}

func (f *fakeRunner) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, stdout io.Writer) error {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(stdout, f.outputs[name])
	return err
}

type fakeRuntime struct {
	imageErr error
	outputs  map[string]string
	image    string
	stdin    string
}

func (f *fakeRuntime) Name() string    { return "docker" }
func (f *fakeRuntime) Available() bool { return true }

func (f *fakeRuntime) ImageExists(string) error { return f.imageErr }

func (f *fakeRuntime) Run(_ context.Context, image string, args []string, stdin io.Reader, stdout io.Writer) error {
	f.image = image
	data, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	f.stdin = string(data)
	_, err = io.WriteString(stdout, f.outputs[args[0]])
	return err
}

const sampleInfo = `Title:          Field Guide to Water
Author:         Survival Office
Subject:        Purification
Producer:       pdfTeX
Pages:          3
Page size:      612 x 792 pts (letter)
`

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guide.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	return path
}

func TestSplitPages(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "trailing form feed", in: "one\ftwo\f", want: []string{"one", "two"}},
		{name: "no trailing form feed", in: "one\ftwo", want: []string{"one", "two"}},
		{name: "blank middle page kept", in: "one\f\fthree\f", want: []string{"one", "", "three"}},
		{name: "empty", in: "", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitPages(tt.in)
			assert.Equal(t, len(tt.want), len(got))
			for i := range tt.want {
				assert.Equal(t, tt.want[i], got[i])
			}
		})
	}
}

func TestParseInfo(t *testing.T) {
	m := parseInfo(sampleInfo)
	assert.Equal(t, "Field Guide to Water", m.Title)
	assert.Equal(t, "Survival Office", m.Author)
	assert.Equal(t, "Purification", m.Subject)
	assert.Equal(t, 3, m.PageCount)
}

func TestNewHostExtractorMissingTool(t *testing.T) {
	_, err := newHostExtractor(&fakeRunner{missing: map[string]bool{"pdfinfo": true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdfinfo")
}

func TestHostExtractor(t *testing.T) {
	path := writePDF(t)
	r := &fakeRunner{outputs: map[string]string{
		"pdftotext": "Boil water for one minute.\fStore in clean containers.\f",
		"pdfinfo":   sampleInfo,
	}}
	h, err := newHostExtractor(r)
	require.NoError(t, err)

	pages, err := h.Pages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boil water for one minute.", "Store in clean containers."}, pages)

	meta, err := h.Metadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.PageCount)
	assert.Equal(t, int64(len("%PDF-1.4 fake")), meta.FileSize)

	require.Len(t, r.calls, 2)
	assert.Equal(t, "pdftotext -enc UTF-8 "+path+" -", r.calls[0])
	assert.Equal(t, "pdfinfo -enc UTF-8 "+path, r.calls[1])
}

func TestHostExtractorError(t *testing.T) {
	h, err := newHostExtractor(&fakeRunner{err: errors.New("exit status 1")})
	require.NoError(t, err)

	_, err = h.Pages(context.Background(), "broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf")
}

func TestContainerExtractor(t *testing.T) {
	path := writePDF(t)
	rt := &fakeRuntime{outputs: map[string]string{
		"pdftotext": "page one\fpage two\f",
		"pdfinfo":   sampleInfo,
	}}
	c, err := NewContainerExtractor(rt, "")
	require.NoError(t, err)

	pages, err := c.Pages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"page one", "page two"}, pages)
	assert.Equal(t, DefaultImage, rt.image)
	assert.Equal(t, "%PDF-1.4 fake", rt.stdin)

	meta, err := c.Metadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Field Guide to Water", meta.Title)
}

func TestNewContainerExtractorMissingImage(t *testing.T) {
	_, err := NewContainerExtractor(&fakeRuntime{imageErr: errors.New("no such image")}, "custom:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker")
}
