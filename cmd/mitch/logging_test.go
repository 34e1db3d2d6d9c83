package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		fallback logrus.Level
		expected logrus.Level
	}{
		{"config fallback", nil, logrus.WarnLevel, logrus.WarnLevel},
		{"verbose", []string{"--verbose"}, logrus.InfoLevel, logrus.DebugLevel},
		{"log-level wins over verbose", []string{"--verbose", "--log-level", "error"}, logrus.InfoLevel, logrus.ErrorLevel},
		{"log-level", []string{"--log-level", "warn"}, logrus.DebugLevel, logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newFlagCommand()
			require.NoError(t, cmd.ParseFlags(tt.args))

			logger, err := configureLogger(cmd, tt.fallback)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_InvalidLevel(t *testing.T) {
	cmd := newFlagCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "trace"}))

	_, err := configureLogger(cmd, logrus.InfoLevel)
	assert.ErrorContains(t, err, "invalid log level: trace")
}
