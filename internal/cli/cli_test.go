package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCatalogCommand(t *testing.T) {
	out, err := run(t, "catalog", "--format", "json")
	require.NoError(t, err)

	var got struct {
		Actions []struct {
			Name string `json:"name"`
		} `json:"actions"`
		Reactions []struct {
			Name string `json:"name"`
		} `json:"reactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Actions, 3)
	assert.Equal(t, "every_interval", got.Actions[0].Name)
	require.Len(t, got.Reactions, 3)
	assert.Equal(t, "send_email", got.Reactions[2].Name)

	out, err = run(t, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "new_mail")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "area dev")
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "version", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestSweepCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "area.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  db_path: "+filepath.Join(dir, "area.db")+"\n"), 0o644))
	t.Setenv("AREA_CONFIG_FILE", "")
	t.Setenv("AREA_DB_PATH", "")
	t.Setenv("AREA_REDIS_URL", "")
	t.Setenv("AREA_SESSION_SECRET", "")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "cli-test-key")

	out, err := run(t, "sweep", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"evaluated":0,"triggered":0,"failed":0}`, out)
	assert.FileExists(t, filepath.Join(dir, "area.db"))
}

func TestSweepCommand_RequiresEncryptionKey(t *testing.T) {
	t.Setenv("AREA_CONFIG_FILE", "")
	t.Setenv("AREA_DB_PATH", filepath.Join(t.TempDir(), "area.db"))
	t.Setenv("TOKEN_ENCRYPTION_KEY", "")

	_, err := run(t, "sweep")
	assert.ErrorContains(t, err, "TOKEN_ENCRYPTION_KEY")
}
