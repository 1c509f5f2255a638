package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incapacity-engine/incapacity"
	"github.com/warp/incapacity-engine/incapacity/store"
)

func TestLoadDemoCases(t *testing.T) {
	ctx := context.Background()
	engine := incapacity.NewEngine(store.NewMemory(), incapacity.WithStrictTransitions(true))

	ids, err := loadDemoCases(ctx, engine)
	require.NoError(t, err)
	require.Len(t, ids, len(demoCases))

	want := []incapacity.Status{
		incapacity.StatusReported,
		incapacity.StatusTranscribed,
		incapacity.StatusPaid,
		incapacity.StatusRejected,
	}
	for i, id := range ids {
		c, err := engine.GetCase(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want[i], c.Status, "demo case %d", i)
	}

	rec, err := engine.Reconcile(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "835088.00", rec.Balance.StringFixed(2))
}

func TestExpectedCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"expected", "--type", "EG", "--days", "95", "--ibc", "900000"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Expected: 1835088.00")
}
