package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codescout/internal/token"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(token.NewCounter(""), 512)
}

func TestSelectByExtension(t *testing.T) {
	r := testRegistry(t)

	assert.Equal(t, []string{"lang-go"}, r.Select("internal/store/db.go", nil))
	assert.Equal(t, []string{"lang-python"}, r.Select("lib/user.py", nil))
	assert.Equal(t, []string{"regex-asm"}, r.Select("boot/start.s", nil))
}

func TestSelectMarkdownClaimsBothPlugins(t *testing.T) {
	r := testRegistry(t)

	got := r.Select("docs/README.md", nil)
	assert.Contains(t, got, "markdown")
	assert.Contains(t, got, "markdown-code")
}

func TestSelectByFilename(t *testing.T) {
	r := testRegistry(t)

	assert.Equal(t, []string{"manifest"}, r.Select("Makefile", nil))
	assert.Equal(t, []string{"manifest"}, r.Select("services/api/Dockerfile", nil))
}

func TestSelectByShebang(t *testing.T) {
	r := testRegistry(t)

	assert.Equal(t, []string{"lang-python"}, r.Select("bin/deploy", []byte("#!/usr/bin/env python3\nprint()\n")))
	assert.Equal(t, []string{"regex-shell"}, r.Select("bin/run", []byte("#!/bin/bash\necho hi\n")))
}

func TestSelectFallsBackToRaw(t *testing.T) {
	r := testRegistry(t)

	assert.Equal(t, []string{RawPluginID}, r.Select("assets/logo.png", nil))
	assert.Equal(t, []string{RawPluginID}, r.Select("LICENSE", []byte("MIT License\n")))
}

func TestGetReturnsRegisteredPlugins(t *testing.T) {
	r := testRegistry(t)

	for _, id := range []string{"lang-go", "lang-python", "markdown", "markdown-code", "regex-asm", "regex-shell", "plaintext", "manifest", RawPluginID} {
		p, ok := r.Get(id)
		require.True(t, ok, "plugin %s must be registered", id)
		assert.Equal(t, id, p.ID())
	}

	_, ok := r.Get("lang-cobol")
	assert.False(t, ok)
}
