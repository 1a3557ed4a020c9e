package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/model"
	"docqa/internal/pkg/jwtutil"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[auth]
jwt_secret = "cli-secret"
jwt_expire_minute = 30

[database]
driver = "sqlite"

[sqlite]
path = "` + filepath.ToSlash(filepath.Join(dir, "docqa.db")) + `"

[ingest]
dispatcher = "local"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "token", "issue", "--subject", "ops", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := jwtutil.ParseToken("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestDocumentsList(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "documents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "FILENAME")

	_, err = run(t, "--config", path, "documents", "list", "--status", "bogus")
	assert.Error(t, err)
}

func TestDocumentsReprocess_Validation(t *testing.T) {
	path := writeConfig(t)

	_, err := run(t, "--config", path, "documents", "reprocess", "abc")
	assert.ErrorContains(t, err, "invalid document id")

	_, err = run(t, "--config", path, "documents", "reprocess", "42")
	assert.ErrorContains(t, err, "document not found")
}

func TestPrintDocuments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printDocuments(&buf, []model.Document{
		{ID: 3, Filename: "a.pdf", Status: model.DocumentStatusFailed, FailureReason: "quota"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "a.pdf")
	assert.Contains(t, lines[1], "quota")
}
