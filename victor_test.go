package victor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/victor-db/victor/internal/errors"
)

// corruptLastByte truncates victor.bin within root by one byte, simulating
// a write interrupted mid-append.
func corruptLastByte(t *testing.T, root string) {
	t.Helper()
	path := filepath.Join(root, "victor.bin")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))
}

func openTestDb(t *testing.T, opts ...Option) *Db {
	t.Helper()
	db, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Scenario 1: trivial three-vector.
func TestSearch_TrivialThreeVector(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	require.NoError(t, db.Insert(ctx, "Apple", []float64{1, 0, 0}, []string{"fruit"}))
	require.NoError(t, db.Insert(ctx, "Banana", []float64{0, 1, 0}, []string{"fruit"}))
	require.NoError(t, db.Insert(ctx, "Rock", []float64{0, 0, 1}, []string{"mineral"}))

	results, err := db.Search(ctx, []float64{0.9, 0.1, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Apple", results[0].Content)
	assert.Equal(t, "Banana", results[1].Content)
}

// Scenario 2: tag filter narrows the corpus, and the length reflects the
// filtered set even though k exceeds it. The two survivors are exactly
// distance 2 apart from the query; ties are broken by insertion order
// (earlier first), per the ordering invariant.
func TestSearch_TagFilterNarrows(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	require.NoError(t, db.Insert(ctx, "Apple", []float64{1, 0, 0}, []string{"fruit"}))
	require.NoError(t, db.Insert(ctx, "Banana", []float64{0, 1, 0}, []string{"fruit"}))
	require.NoError(t, db.Insert(ctx, "Rock", []float64{0, 0, 1}, []string{"mineral"}))

	results, err := db.Search(ctx, []float64{0, 0, 1}, []string{"fruit"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "Rock", r.Content)
	}
	assert.Equal(t, "Apple", results[0].Content)
	assert.Equal(t, "Banana", results[1].Content)
}

// Scenario 3: k larger than an empty corpus.
func TestSearch_KLargerThanEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	results, err := db.Search(ctx, []float64{1, 0, 0}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// Scenario 4: dimension mismatch leaves the database unchanged and later
// searches still work.
func TestInsert_DimensionMismatchLeavesDbUsable(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	require.NoError(t, db.Insert(ctx, "first", []float64{1, 2, 3}, nil))

	err := db.Insert(ctx, "bad", []float64{1, 2, 3, 4}, nil)
	assert.Equal(t, verrors.ErrCodeDimensionMismatch, verrors.Code(err))

	info, err := db.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.RecordCount)

	results, err := db.Search(ctx, []float64{1, 2, 3}, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "first", results[0].Content)
}

// Scenario 5: clear and re-use with a different dimension.
func TestClear_AllowsReuseWithDifferentDimension(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	require.NoError(t, db.Insert(ctx, "a", []float64{1, 2, 3}, nil))
	require.NoError(t, db.Insert(ctx, "b", []float64{4, 5, 6}, nil))
	require.NoError(t, db.Insert(ctx, "c", []float64{7, 8, 9}, nil))

	require.NoError(t, db.Clear(ctx))

	fiveDim := []float64{1, 2, 3, 4, 5}
	require.NoError(t, db.Insert(ctx, "new", fiveDim, nil))

	results, err := db.Search(ctx, fiveDim, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Content)
}

// Scenario 6: quantization survival bound.
func TestSearch_QuantizationSurvivalBound(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	v := []float64{3, 4, 0}
	require.NoError(t, db.Insert(ctx, "X", v, nil))

	results, err := db.Search(ctx, v, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	magnitude := float32(5) // L2 norm of [3,4,0]
	bound := (magnitude / 127) * (magnitude / 127) * 3
	assert.LessOrEqual(t, results[0].Distance, bound)
}

func TestInsert_RejectsInvalidEmbedding(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	err := db.Insert(ctx, "empty", nil, nil)
	assert.Equal(t, verrors.ErrCodeInvalidEmbedding, verrors.Code(err))
}

func TestClear_IdempotentOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDb(t)

	require.NoError(t, db.Clear(ctx))
	require.NoError(t, db.Clear(ctx))

	info, err := db.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.RecordCount)
}

func TestOpen_TailRepairPolicyDefaultsToRefuse(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, db.Insert(ctx, "a", []float64{1, 2}, nil))
	require.NoError(t, db.Close())

	// Simulate a crash mid-append by truncating the file by one byte.
	corruptLastByte(t, root)

	reopened, err := Open(root)
	require.NoError(t, err)
	defer reopened.Close()

	err = reopened.Insert(ctx, "b", []float64{3, 4}, nil)
	assert.Equal(t, verrors.ErrCodeCorruptDatabase, verrors.Code(err))
}

func TestOpen_TailRepairPolicyTruncateRecovers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	db, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, db.Insert(ctx, "a", []float64{1, 2}, nil))
	require.NoError(t, db.Close())

	corruptLastByte(t, root)

	reopened, err := Open(root, WithTailRepairPolicy(RepairTruncate))
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Insert(ctx, "b", []float64{5, 6}, nil))
}
