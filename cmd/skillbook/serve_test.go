package main

import (
	"testing"

	"github.com/jingkaihe/skillbook/pkg/server"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServeConfig(t *testing.T) {
	tests := []struct {
		name          string
		config        *server.ServerConfig
		expectedError string
	}{
		{
			name:   "valid config",
			config: &server.ServerConfig{Host: "localhost", Port: 8765},
		},
		{
			name:   "valid IP address",
			config: &server.ServerConfig{Host: "127.0.0.1", Port: 8765},
		},
		{
			name:   "valid 0.0.0.0",
			config: &server.ServerConfig{Host: "0.0.0.0", Port: 3000},
		},
		{
			name:          "empty host",
			config:        &server.ServerConfig{Host: "", Port: 8765},
			expectedError: "host cannot be empty",
		},
		{
			name:          "invalid host with space",
			config:        &server.ServerConfig{Host: "local host", Port: 8765},
			expectedError: "invalid host: local host",
		},
		{
			name:          "invalid host with colon",
			config:        &server.ServerConfig{Host: "localhost:8765", Port: 8765},
			expectedError: "invalid host: localhost:8765",
		},
		{
			name:          "port zero",
			config:        &server.ServerConfig{Host: "localhost", Port: 0},
			expectedError: "port must be between 1 and 65535, got 0",
		},
		{
			name:          "port too large",
			config:        &server.ServerConfig{Host: "localhost", Port: 70000},
			expectedError: "port must be between 1 and 65535, got 70000",
		},
		{
			name:   "privileged port only warns",
			config: &server.ServerConfig{Host: "localhost", Port: 80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServeConfig(tt.config)
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestWatchEnabled(t *testing.T) {
	previous := settings
	t.Cleanup(func() { settings = previous })

	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().Bool("watch", false, "")
		return cmd
	}

	settings.Watch = true
	assert.True(t, watchEnabled(newCmd()), "setting applies when the flag is not given")

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("watch", "false"))
	assert.False(t, watchEnabled(cmd), "explicit flag wins")

	settings.Watch = false
	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("watch", "true"))
	assert.True(t, watchEnabled(cmd))
}
