package vector

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a", "b", "c"}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[0].Distance > 1e-9 {
		t.Errorf("top result should be a at distance 0, got %s %f", results[0].ID, results[0].Distance)
	}
	if results[1].Distance < results[0].Distance {
		t.Error("results not in ascending distance order")
	}

	all, _ := idx.Search(ctx, []float32{-1, 0, 0}, 10, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}
	if math.Abs(all[len(all)-1].Distance-2) > 1e-9 {
		t.Errorf("opposite vector should be at distance 2, got %f", all[len(all)-1].Distance)
	}
}

func TestMemoryIndex_AddReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}})
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("expected size 1 after replace, got %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 1, nil)
	if len(res) != 1 || res[0].Distance > 1e-9 {
		t.Errorf("replaced vector not used: %+v", res)
	}
}

func TestMemoryIndex_SearchAllowSet(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y", "z"}, [][]float32{{1, 0}, {0, 1}, {1, 1}})

	res, err := idx.Search(ctx, []float32{1, 0}, 5, map[string]struct{}{"y": {}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "y" {
		t.Errorf("allow set ignored: %+v", res)
	}

	res, _ = idx.Search(ctx, []float32{1, 0}, 5, map[string]struct{}{})
	if len(res) != 0 {
		t.Errorf("empty allow set should match nothing, got %d", len(res))
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Remove(ctx, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	if idx.Has("x") || !idx.Has("y") {
		t.Error("Has disagrees with Remove")
	}
	_ = idx.Add(ctx, []string{"y"}, [][]float32{{1, 0}})
	if idx.Size() != 1 {
		t.Errorf("re-add after remove should replace, size %d", idx.Size())
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx", "vectors.bin")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(2)
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 || !loaded.Has("y") {
		t.Fatalf("loaded index incomplete: size %d", loaded.Size())
	}
	res, _ := loaded.Search(ctx, []float32{0, 1}, 1, nil)
	if res[0].ID != "y" {
		t.Errorf("expected y, got %s", res[0].ID)
	}

	wrongDim, _ := NewMemoryIndex(3)
	if err := wrongDim.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}

	missing, _ := NewMemoryIndex(2)
	if err := missing.Load(filepath.Join(t.TempDir(), "absent.bin")); err != nil {
		t.Errorf("missing file should not error: %v", err)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 0},
		{[]float32{1, 0}, []float32{0, 1}, 1},
		{[]float32{1, 0}, []float32{-1, 0}, 2},
		{[]float32{2, 0}, []float32{5, 0}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CosineDistance(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
