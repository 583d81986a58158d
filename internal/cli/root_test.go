package cli

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	stdout, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "payramp "+version)
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"perf", "serve", "gateway", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestLogFlags(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	_, err := executeRoot(t, "version", "--log-level", "debug", "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	_, err = executeRoot(t, "version", "--log-level", "loud")
	assert.Error(t, err)

	_, err = executeRoot(t, "version", "--log-level", "info", "--log-format", "xml")
	assert.Error(t, err)
}
