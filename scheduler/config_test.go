package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("requires class name", func(t *testing.T) {
		err := Config{InvocationMode: InvocationInProcess}.Validate()
		require.Error(t, err)
	})

	t.Run("requires known invocation mode", func(t *testing.T) {
		err := Config{ClassName: "Counter", InvocationMode: "bogus"}.Validate()
		require.Error(t, err)
	})

	t.Run("out of process requires command", func(t *testing.T) {
		err := Config{ClassName: "Counter", InvocationMode: InvocationOutOfProcess}.Validate()
		require.Error(t, err)

		err = Config{
			ClassName:      "Counter",
			InvocationMode: InvocationOutOfProcess,
			OutOfProcess:   &ProcessConfig{Command: "./worker"},
		}.Validate()
		require.NoError(t, err)
	})

	t.Run("in process is valid on its own", func(t *testing.T) {
		err := Config{ClassName: "Counter", InvocationMode: InvocationInProcess}.Validate()
		require.NoError(t, err)
	})

	t.Run("sweep enabled requires schedule", func(t *testing.T) {
		err := Config{
			ClassName:      "Counter",
			InvocationMode: InvocationInProcess,
			Sweep:          SweepConfig{Enabled: true},
		}.Validate()
		require.Error(t, err)
	})
}

func TestSet_ValidateRejectsDuplicateClassNames(t *testing.T) {
	s := Set{Classes: []Config{
		{ClassName: "Counter", InvocationMode: InvocationInProcess},
		{ClassName: "Counter", InvocationMode: InvocationInProcess},
	}}
	require.Error(t, s.Validate())
}

func TestSet_Lookup(t *testing.T) {
	s := Set{Classes: []Config{
		{ClassName: "Counter", InvocationMode: InvocationInProcess},
	}}
	cfg, ok := s.Lookup("Counter")
	require.True(t, ok)
	require.Equal(t, InvocationInProcess, cfg.InvocationMode)

	_, ok = s.Lookup("Missing")
	require.False(t, ok)
}

func TestLoadSet_DecodesAndValidatesYAML(t *testing.T) {
	doc := `
version: 1
classes:
  - class_name: Counter
    invocation_mode: in_process
  - class_name: Billing
    invocation_mode: out_of_process
    out_of_process:
      command: ./billing-worker
      args: ["--mode=batch"]
    sweep:
      enabled: true
      schedule: "@every 30s"
`
	s, err := LoadSet(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 1, s.Version)
	require.Len(t, s.Classes, 2)

	billing, ok := s.Lookup("Billing")
	require.True(t, ok)
	require.Equal(t, "./billing-worker", billing.OutOfProcess.Command)
	require.True(t, billing.Sweep.Enabled)
}

func TestLoadSet_RejectsInvalidConfig(t *testing.T) {
	doc := `
classes:
  - class_name: Counter
    invocation_mode: bogus
`
	_, err := LoadSet(strings.NewReader(doc))
	require.Error(t, err)
}
