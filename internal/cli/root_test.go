package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slimatic/zakapp-sub004/internal/store"
	"github.com/slimatic/zakapp-sub004/internal/testutil"
)

// execute runs the root command with isolated config sources.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file=", "--namespace", testutil.Namespace))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// seededDB returns the path of a SQLite database holding every fixture
// for testutil.OwnerID.
func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	st, err := store.Open(context.Background(), store.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, testutil.SeedAll(context.Background(), st, testutil.OwnerID))
	require.NoError(t, st.Close())
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "zakapp", cmd.Use)
	assert.Contains(t, cmd.Long, "stableId")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"export", "import", "verify", "stableid", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"config", "env-file", "driver", "db", "namespace"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestImportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	importCmd, _, err := cmd.Find([]string{"import"})
	require.NoError(t, err)

	assert.Equal(t, "skip", importCmd.Flags().Lookup("strategy").DefValue)
	assert.Equal(t, "f", importCmd.Flags().Lookup("file").Shorthand)
	for _, name := range []string{"dry-run", "rekey", "reassign-to", "consent", "atomicity", "parallel", "resume", "user-id"} {
		assert.NotNil(t, importCmd.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "verify", "--file", "x", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfigFlag(t *testing.T) {
	_, _, err := execute(t, "export", "--user-id", "u", "--driver", "mysql")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorContains(t, err, "invalid config")
}
