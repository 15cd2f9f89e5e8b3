// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thongonary/AnomalyTrigger/pkg/autoencoder"
	"github.com/thongonary/AnomalyTrigger/pkg/config"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"
)

// writeNtuple writes a tree "ntuple" with the branches n, jetEt[n] and met.
func writeNtuple(t *testing.T, path string, numEvents int, offset float32) {
	f, err := groot.Create(path)
	require.NoError(t, err)
	var (
		n     int32
		jetEt []float32
		met   float32
	)
	w, err := rtree.NewWriter(f, "ntuple", []rtree.WriteVar{
		{Name: "n", Value: &n},
		{Name: "jetEt", Value: &jetEt, Count: "n"},
		{Name: "met", Value: &met},
	})
	require.NoError(t, err)
	for ii := range numEvents {
		x := offset + float32(ii%5)
		jetEt = []float32{x, x / 2, x / 4}[:1+ii%3]
		n = int32(len(jetEt))
		met = x / 10
		_, err = w.Write()
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"train", "eval", "concat"})
	assert.NotNil(t, root.PersistentFlags().Lookup("v"), "klog flags are registered")
}

func TestModelContext(t *testing.T) {
	cfg := config.Default()
	cfg.LearningRate = 0.05
	cfg.LatentDim = 6
	g := &globalOptions{}
	ctx, err := g.modelContext(cfg)
	require.NoError(t, err)
	lr, found := ctx.GetParam(optimizers.ParamLearningRate)
	require.True(t, found)
	assert.Equal(t, 0.05, lr)
	latent, _ := ctx.GetParam(autoencoder.ParamLatentDim)
	assert.Equal(t, 6, latent)

	g.settings = "learning_rate=0.1"
	ctx, err = g.modelContext(cfg)
	require.NoError(t, err)
	lr, _ = ctx.GetParam(optimizers.ParamLearningRate)
	assert.Equal(t, 0.1, lr, "--set overrides the configuration")
}

func TestTrainAndEval(t *testing.T) {
	dir := t.TempDir()
	writeNtuple(t, filepath.Join(dir, "bg.root"), 40, 0)
	writeNtuple(t, filepath.Join(dir, "sig.root"), 20, 50)
	outDir := filepath.Join(dir, "out")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
model_name: AE_test
output_dir: %q
tree_name: ntuple
batch_size: 8
num_epochs: 2
features:
  - {name: jetEt, length: 3, scale: 50}
  - {name: met, length: 1}
samples:
  - {name: BG, files: %q, color: yellow, hist_type: bar}
  - {name: Sig, files: %q, color: r}
cut: {field: jetEt, threshold: 2, min_count: 1}
`, outDir, filepath.Join(dir, "bg.root"), filepath.Join(dir, "sig.root"))), 0o644))

	out, err := run(t, "train", "--config", configPath, "--quiet", "--set", "fnn_num_hidden_nodes=8")
	require.NoError(t, err)
	assert.Contains(t, out, "Step")
	assert.FileExists(t, filepath.Join(outDir, "AE_test_training.svg"))
	assert.DirExists(t, filepath.Join(outDir, "AE_test_checkpoint"))

	out, err = run(t, "eval", "--config", configPath, "--quiet", "--cut")
	require.NoError(t, err)
	assert.Contains(t, out, "Sig")
	for _, name := range []string{
		"AE_test_Loss.png", "AE_test_LogLoss.png", "AE_test_ROC.png", "AE_test_ROCZoom.png",
		"AE_test_ROC.html", "AE_test_losses.parquet", "AE_test_losses.npz", "AE_test_summary.csv",
	} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	_, err = run(t, "eval", "--config", configPath, "--set", "unknown_param=1")
	assert.Error(t, err)
}

func TestEvalWithoutCheckpoint(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
output_dir: %q
features:
  - {name: jetEt, length: 3}
`, dir)), 0o644))
	_, err := run(t, "eval", "--config", configPath, "--quiet")
	assert.Error(t, err)

	_, err = run(t, "eval", "--config", configPath, "--quiet", "--cut")
	assert.Error(t, err, "no cut configured")
}

type fakeReader map[string][]float64

func (r fakeReader) ReadArray(path, field string) ([]int, []float64, error) {
	data, found := r[filepath.Base(path)]
	if !found || field != "Jets" {
		return nil, nil, errors.Errorf("no %q in %q", field, path)
	}
	return []int{len(data) / 2, 2}, data, nil
}

func TestConcat(t *testing.T) {
	saved := arrayReader
	defer func() { arrayReader = saved }()
	arrayReader = fakeReader{"a.h5": {1, 2}, "b.h5": {3, 4, 5, 6}}

	dir := t.TempDir()
	for _, name := range []string{"a.h5", "b.h5"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	output := filepath.Join(dir, "out", "jets.npy")
	out, err := run(t, "concat", "--input", dir, "--field", "Jets", "--output", output, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "[3 2]")
	assert.FileExists(t, output)

	_, err = run(t, "concat", "--input", dir, "--output", output, "--quiet")
	assert.Error(t, err, "default field Particles doesn't exist")
}

func TestEnvFile(t *testing.T) {
	saved := arrayReader
	defer func() { arrayReader = saved }()
	arrayReader = fakeReader{"a.h5": {1, 2}}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.h5"), nil, 0o644))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ANOMALYTRIGGER_CONCAT_FIELD=Jets\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("ANOMALYTRIGGER_CONCAT_FIELD") })

	output := filepath.Join(dir, "jets.npy")
	_, err := run(t, "concat", "--env", envFile, "--input", dir, "--output", output, "--quiet")
	require.NoError(t, err, "field taken from the environment file")
	assert.FileExists(t, output)

	_, err = run(t, "concat", "--env", filepath.Join(dir, "missing.env"), "--input", dir, "--output", output)
	assert.Error(t, err)
}
