package main

import (
	"bytes"
	"testing"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"audit":   false,
		"repair":  false,
		"version": false,
	}

	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
}

func TestConfigFlagRegistered(t *testing.T) {
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Fatal("--config flag not registered")
	}
}
