package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "reconcile", "migrate", "fee", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	set, _, err := root.Find([]string{"fee", "set"})
	require.NoError(t, err)
	assert.Equal(t, "set", set.Name())
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "backoffice dev")
}

func TestFeeSetRequiresAmount(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"fee", "set"})
	assert.Error(t, root.Execute())
}

func TestParseFee(t *testing.T) {
	cases := map[string]string{
		"2000":     "2000.00",
		"1500.5":   "1500.50",
		"1.500,50": "1500.50",
		" 750,00 ": "750.00",
		"99.999":   "100.00",
	}
	for in, want := range cases {
		got, err := parseFee(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.StringFixed(2), in)
	}

	_, err := parseFee("-5")
	assert.Error(t, err)
	_, err = parseFee("abc")
	assert.Error(t, err)
}
