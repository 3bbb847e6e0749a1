package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "impersonate")
	assert.Contains(t, names, "provision")
	assert.Contains(t, names, "gen-license")
}

func TestProvisionRequiresUUIDAndAuthKey(t *testing.T) {
	cmd := newProvisionCmd()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "--uuid")
}

func TestProvisionBuildsBenignPayloadBeforeTouchingTheNetwork(t *testing.T) {
	cmd := newProvisionCmd()
	cmd.SetArgs([]string{
		"--uuid", "aabbccddeeff00112233",
		"--auth-key", "0123456789abcdef",
		"--benign",
		"--ssid", "home",
		"--password", "hunter2",
		"--interface", "nonexistent0",
	})
	err := cmd.Execute()
	// the payload is built successfully; failure only happens once the
	// client tries to drive a wifi adapter against an interface that
	// does not exist.
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "build wifi network payload")
}

func TestGenLicenseExecutesWithoutError(t *testing.T) {
	cmd := newGenLicenseCmd()
	assert.Equal(t, "gen-license", cmd.Use)
	assert.NoError(t, cmd.Execute())
}
