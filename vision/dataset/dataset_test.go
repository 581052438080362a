package dataset

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tsawler/go-dsne/vision/pairing"
	"github.com/tsawler/go-dsne/vision/preprocessing"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// createTestDomain builds a domain whose i-th image is a 1x2x2 image filled with
// offset+i, so tests can trace samples back to their origin.
func createTestDomain(t *testing.T, name string, labels []int32, offset float32) *Domain {
	t.Helper()
	images := make([]preprocessing.Image, len(labels))
	for i := range labels {
		v := offset + float32(i)
		img, err := preprocessing.NewImage([]float32{v, v, v, v}, 1, 2, 2)
		if err != nil {
			t.Fatalf("Failed to create image: %v", err)
		}
		images[i] = img
	}
	d, err := NewDomain(name, images, labels)
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}
	return d
}

// repeatLabels returns counts[c] copies of label c for every class c.
func repeatLabels(counts ...int) []int32 {
	var labels []int32
	for c, n := range counts {
		for i := 0; i < n; i++ {
			labels = append(labels, int32(c))
		}
	}
	return labels
}

func TestNewDomain(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		d := createTestDomain(t, "src", []int32{0, 1, 1}, 0)
		if d.Len() != 3 {
			t.Errorf("Expected 3 samples, got %d", d.Len())
		}
		c, h, w := d.ImageShape()
		if c != 1 || h != 2 || w != 2 {
			t.Errorf("Expected shape 1x2x2, got %dx%dx%d", c, h, w)
		}
		dist := d.ClassDistribution()
		if dist[0] != 1 || dist[1] != 2 {
			t.Errorf("Unexpected class distribution: %v", dist)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		img, _ := preprocessing.NewImage([]float32{1}, 1, 1, 1)
		_, err := NewDomain("bad", []preprocessing.Image{img}, []int32{0, 1})
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("MixedShapes", func(t *testing.T) {
		a, _ := preprocessing.NewImage([]float32{1}, 1, 1, 1)
		b, _ := preprocessing.NewImage([]float32{1, 2}, 1, 1, 2)
		_, err := NewDomain("bad", []preprocessing.Image{a, b}, []int32{0, 1})
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		d, err := NewDomain("empty", nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if d.Len() != 0 {
			t.Errorf("Expected empty domain, got %d", d.Len())
		}
	})
}

func TestConcat(t *testing.T) {
	a := createTestDomain(t, "part", []int32{0, 0}, 0)
	b := createTestDomain(t, "part", []int32{1}, 10)

	d, err := Concat("joined", a, b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Name != "joined" || d.Len() != 3 {
		t.Errorf("Expected 3 samples named joined, got %d named %s", d.Len(), d.Name)
	}
	if d.Labels[2] != 1 || d.Images[2].Data[0] != 10 {
		t.Errorf("Expected the last sample from the second domain, got label %d value %f", d.Labels[2], d.Images[2].Data[0])
	}

	other, _ := preprocessing.NewImage(make([]float32, 9), 1, 3, 3)
	odd, _ := NewDomain("odd", []preprocessing.Image{other}, []int32{0})
	if _, err := Concat("bad", a, odd); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestDomainSubsetIsIndependent(t *testing.T) {
	d := createTestDomain(t, "src", []int32{0, 1, 2}, 0)
	sub := d.Subset([]int{2, 0})

	if sub.Len() != 2 || sub.Labels[0] != 2 || sub.Labels[1] != 0 {
		t.Fatalf("Unexpected subset labels: %v", sub.Labels)
	}
	sub.Images[0].Data[0] = 99
	if d.Images[2].Data[0] != 2 {
		t.Error("Subset shares image data with its parent")
	}
}

func TestResample(t *testing.T) {
	labels := repeatLabels(5, 2, 9, 0, 1)
	d := createTestDomain(t, "src", labels, 0)
	original := d.ClassDistribution()

	t.Run("PerClassCap", func(t *testing.T) {
		for _, perClass := range []int{1, 2, 3, 10} {
			out := Resample(d, perClass, seeded(uint64(perClass)))
			dist := out.ClassDistribution()
			total := 0
			for label, count := range original {
				want := min(perClass, count)
				if dist[label] != want {
					t.Errorf("cap %d class %d: expected %d, got %d", perClass, label, want, dist[label])
				}
				total += want
			}
			if out.Len() != total {
				t.Errorf("cap %d: expected %d samples, got %d", perClass, total, out.Len())
			}
		}
	})

	t.Run("KeepsImageLabelAlignment", func(t *testing.T) {
		out := Resample(d, 3, seeded(7))
		for i, img := range out.Images {
			origin := int(img.Data[0])
			if labels[origin] != out.Labels[i] {
				t.Errorf("Sample %d came from position %d with label %d but carries %d",
					i, origin, labels[origin], out.Labels[i])
			}
		}
	})

	t.Run("NoDuplicates", func(t *testing.T) {
		out := Resample(d, 4, seeded(8))
		seen := make(map[float32]bool)
		for _, img := range out.Images {
			if seen[img.Data[0]] {
				t.Fatalf("Sample %v selected twice", img.Data[0])
			}
			seen[img.Data[0]] = true
		}
	})

	t.Run("NotGroupedByClass", func(t *testing.T) {
		big := createTestDomain(t, "big", repeatLabels(50, 50, 50), 0)
		out := Resample(big, 40, seeded(9))
		sorted := sort.SliceIsSorted(out.Labels, func(i, j int) bool { return out.Labels[i] < out.Labels[j] })
		if sorted {
			t.Error("Expected resampled output to be shuffled across classes")
		}
	})

	t.Run("NoCapPassthrough", func(t *testing.T) {
		for _, perClass := range []int{0, -1} {
			out := Resample(d, perClass, seeded(1))
			if out != d {
				t.Errorf("cap %d: expected the input domain back", perClass)
			}
		}
	})

	t.Run("OwnsCopies", func(t *testing.T) {
		out := Resample(d, 1, seeded(2))
		origin := int(out.Images[0].Data[0])
		out.Images[0].Data[0] = -1
		if d.Images[origin].Data[0] != float32(origin) {
			t.Error("Resampled domain shares image data with its input")
		}
	})

	t.Run("Seeded", func(t *testing.T) {
		a := Resample(d, 2, seeded(42))
		b := Resample(d, 2, seeded(42))
		for i := range a.Labels {
			if a.Images[i].Data[0] != b.Images[i].Data[0] {
				t.Fatal("Same seed produced different resamples")
			}
		}
	})

	t.Run("EmptyDomain", func(t *testing.T) {
		empty, _ := NewDomain("empty", nil, nil)
		if out := Resample(empty, 3, seeded(1)); out.Len() != 0 {
			t.Errorf("Expected empty output, got %d", out.Len())
		}
	})
}

func TestPairDatasetWorkedExample(t *testing.T) {
	src := createTestDomain(t, "src", []int32{0, 0, 1}, 0)
	tgt := createTestDomain(t, "tgt", []int32{0, 1, 1}, 100)

	pd, err := NewPairDataset(src, tgt, PairOptions{SourceCap: -1, TargetCap: -1, Ratio: -1, Rand: seeded(1)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if pd.Len() != 9 {
		t.Fatalf("Expected 9 pairs, got %d", pd.Len())
	}
	intra, inter, available := pd.Counts()
	if intra != 4 || inter != 5 || available != 5 {
		t.Errorf("Expected 4/5/5 pair split, got %d/%d/%d", intra, inter, available)
	}

	want := []pairing.Pair{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}
	for p, w := range want {
		sample, err := pd.Get(p)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", p, err)
		}
		if sample.SourceImage.Data[0] != float32(w.Source) || sample.TargetImage.Data[0] != float32(100+w.Target) {
			t.Errorf("Get(%d): expected pair %s, got images %v/%v", p, w, sample.SourceImage.Data[0], sample.TargetImage.Data[0])
		}
		if sample.SourceLabel != src.Labels[w.Source] || sample.TargetLabel != tgt.Labels[w.Target] {
			t.Errorf("Get(%d): labels do not match pair %s", p, w)
		}
	}

	intraCount := 0
	for p := 0; p < pd.Len(); p++ {
		s, _ := pd.Get(p)
		if s.Intraclass() {
			intraCount++
		}
	}
	if intraCount != 4 {
		t.Errorf("Expected 4 intraclass samples, got %d", intraCount)
	}
}

func TestPairDatasetRatio(t *testing.T) {
	src := createTestDomain(t, "src", repeatLabels(20, 20, 20), 0)
	tgt := createTestDomain(t, "tgt", repeatLabels(30, 30, 30), 1000)

	pd, err := NewPairDataset(src, tgt, PairOptions{SourceCap: 5, TargetCap: 2, Ratio: 3, Rand: seeded(3)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if pd.Source().Len() != 15 || pd.Target().Len() != 6 {
		t.Fatalf("Expected 15 source and 6 target samples, got %d and %d", pd.Source().Len(), pd.Target().Len())
	}

	intra, inter, available := pd.Counts()
	// every source sample matches the two target samples of its class
	if intra != 30 {
		t.Errorf("Expected 30 intraclass pairs, got %d", intra)
	}
	if available != 15*6-30 {
		t.Errorf("Expected %d interclass pairs available, got %d", 15*6-30, available)
	}
	if inter != min(3*intra, available) {
		t.Errorf("Expected %d interclass pairs, got %d", min(3*intra, available), inter)
	}
	if pd.Len() != intra+inter {
		t.Errorf("Expected %d pairs, got %d", intra+inter, pd.Len())
	}

	pairs := pd.Index().Pairs()
	for i := 1; i < len(pairs); i++ {
		if !pairs[i-1].Less(pairs[i]) {
			t.Fatalf("Pairs %d and %d are not strictly ordered", i-1, i)
		}
	}
}

func TestPairDatasetRatioLimitsInterclass(t *testing.T) {
	src := createTestDomain(t, "src", repeatLabels(10, 10, 10, 10), 0)
	tgt := createTestDomain(t, "tgt", repeatLabels(10, 10, 10, 10), 100)

	pd, err := NewPairDataset(src, tgt, PairOptions{SourceCap: -1, TargetCap: 1, Ratio: 1, Rand: seeded(4)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	intra, inter, available := pd.Counts()
	if intra != 40 || available != 120 || inter != 40 {
		t.Errorf("Expected 40 intraclass, 120 available, 40 kept; got %d, %d, %d", intra, available, inter)
	}
}

func TestPairDatasetGetErrors(t *testing.T) {
	src := createTestDomain(t, "src", []int32{0, 1}, 0)
	tgt := createTestDomain(t, "tgt", []int32{1, 0}, 10)
	pd, err := NewPairDataset(src, tgt, PairOptions{Ratio: -1, Rand: seeded(5)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, p := range []int{-1, pd.Len(), pd.Len() + 5} {
		if _, err := pd.Get(p); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Get(%d): expected ErrIndexOutOfRange, got %v", p, err)
		}
	}
}

func TestPairDatasetIdempotentGet(t *testing.T) {
	src := createTestDomain(t, "src", repeatLabels(3, 3), 0)
	tgt := createTestDomain(t, "tgt", repeatLabels(3, 3), 10)
	norm, _ := preprocessing.Normalize([]float32{1}, []float32{2})
	pd, err := NewPairDataset(src, tgt, PairOptions{
		SourceCap:  -1,
		TargetCap:  2,
		Ratio:      1,
		Transforms: []preprocessing.Transform{norm, preprocessing.HorizontalFlip()},
		Rand:       seeded(6),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for p := 0; p < pd.Len(); p++ {
		a, _ := pd.Get(p)
		a.SourceImage.Data[0] = 12345
		b, _ := pd.Get(p)
		c, _ := pd.Get(p)
		if b.SourceImage.Data[0] == 12345 {
			t.Fatal("Mutating a returned image changed the dataset")
		}
		for i := range b.SourceImage.Data {
			if b.SourceImage.Data[i] != c.SourceImage.Data[i] || b.TargetImage.Data[i] != c.TargetImage.Data[i] {
				t.Fatalf("Get(%d) is not idempotent", p)
			}
		}
		if b.SourceLabel != c.SourceLabel || b.TargetLabel != c.TargetLabel {
			t.Fatalf("Get(%d) labels are not idempotent", p)
		}
	}
}

func TestPairDatasetTransformsApplied(t *testing.T) {
	src := createTestDomain(t, "src", []int32{0}, 4)
	tgt := createTestDomain(t, "tgt", []int32{0}, 8)
	norm, _ := preprocessing.Normalize([]float32{0}, []float32{2})

	pd, err := NewPairDataset(src, tgt, PairOptions{
		Transforms: []preprocessing.Transform{norm, preprocessing.Scale(3)},
		Rand:       seeded(7),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s, err := pd.Get(0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.SourceImage.Data[0] != 6 || s.TargetImage.Data[0] != 12 {
		t.Errorf("Expected 6 and 12 after transforms, got %v and %v", s.SourceImage.Data[0], s.TargetImage.Data[0])
	}
	if src.Images[0].Data[0] != 4 {
		t.Error("Transforms modified the stored source image")
	}
}

func TestPairDatasetEmpty(t *testing.T) {
	src := createTestDomain(t, "src", []int32{0, 0}, 0)
	tgt := createTestDomain(t, "tgt", []int32{1, 1}, 10)

	t.Run("ZeroLengthAllowed", func(t *testing.T) {
		// no intraclass pairs means the ratio keeps no interclass pairs either
		pd, err := NewPairDataset(src, tgt, PairOptions{Ratio: 3, Rand: seeded(1)})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if pd.Len() != 0 {
			t.Errorf("Expected empty dataset, got %d pairs", pd.Len())
		}
		if _, err := pd.Get(0); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
		}
	})

	t.Run("RequirePairs", func(t *testing.T) {
		_, err := NewPairDataset(src, tgt, PairOptions{Ratio: 3, RequirePairs: true, Rand: seeded(1)})
		if !errors.Is(err, ErrEmptyPairSet) {
			t.Errorf("Expected ErrEmptyPairSet, got %v", err)
		}
	})
}

func TestPairDatasetConfigurationErrors(t *testing.T) {
	src := createTestDomain(t, "src", []int32{0}, 0)

	if _, err := NewPairDataset(nil, src, DefaultPairOptions()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for nil source, got %v", err)
	}

	opts := DefaultPairOptions()
	opts.Transforms = []preprocessing.Transform{nil}
	if _, err := NewPairDataset(src, src, opts); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for nil transform, got %v", err)
	}

	broken := &Domain{Name: "broken", Labels: []int32{0, 1}}
	if _, err := NewPairDataset(broken, src, DefaultPairOptions()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	// A struct literal bypasses NewDomain; mixed shapes must still be refused
	small, _ := preprocessing.NewImage(make([]float32, 4), 1, 2, 2)
	large, _ := preprocessing.NewImage(make([]float32, 9), 1, 3, 3)
	mixed := &Domain{Name: "mixed", Images: []preprocessing.Image{small, large}, Labels: []int32{0, 0}}
	if _, err := NewPairDataset(src, mixed, DefaultPairOptions()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for mixed shapes, got %v", err)
	}
	if _, err := NewSingleDataset(mixed); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for mixed shapes, got %v", err)
	}

	short := &Domain{Name: "short", Images: []preprocessing.Image{{Data: []float32{1}, Channels: 1, Height: 2, Width: 2}}, Labels: []int32{0}}
	if err := short.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for short image data, got %v", err)
	}
}

func TestZeroPairOptionsKeepEverything(t *testing.T) {
	src := createTestDomain(t, "src", repeatLabels(3, 3), 0)
	tgt := createTestDomain(t, "tgt", repeatLabels(20, 20), 0)

	pd, err := NewPairDataset(src, tgt, PairOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pd.Target().Len() != 40 {
		t.Errorf("Expected zero TargetCap to keep all 40 target samples, got %d", pd.Target().Len())
	}
	if pd.Len() != 6*40 {
		t.Errorf("Expected every pair, got %d", pd.Len())
	}

	pd, err = NewPairDataset(src, tgt, DefaultPairOptions())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if pd.Target().Len() != 20 {
		t.Errorf("Expected the default cap of 10 per class, got %d", pd.Target().Len())
	}
}

func TestPairDatasetSeededReproducible(t *testing.T) {
	build := func(seed uint64) *PairDataset {
		src := createTestDomain(t, "src", repeatLabels(12, 12, 12), 0)
		tgt := createTestDomain(t, "tgt", repeatLabels(12, 12, 12), 100)
		opts := DefaultPairOptions()
		opts.SourceCap = 6
		opts.TargetCap = 3
		opts.Rand = seeded(seed)
		pd, err := NewPairDataset(src, tgt, opts)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		return pd
	}

	a, b := build(11), build(11)
	if a.Index().Fingerprint() != b.Index().Fingerprint() {
		t.Error("Same seed produced different pair indexes")
	}
	if a.ID() == b.ID() {
		t.Error("Expected distinct dataset ids")
	}
}

func TestPairDatasetConcurrentGet(t *testing.T) {
	src := createTestDomain(t, "src", repeatLabels(8, 8), 0)
	tgt := createTestDomain(t, "tgt", repeatLabels(8, 8), 100)
	pd, err := NewPairDataset(src, tgt, PairOptions{TargetCap: 4, Ratio: 2, Rand: seeded(12)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := make([]PairSample, pd.Len())
	for p := range expected {
		expected[p], _ = pd.Get(p)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 0; p < pd.Len(); p++ {
				s, err := pd.Get(p)
				if err != nil || s.SourceImage.Data[0] != expected[p].SourceImage.Data[0] ||
					s.TargetImage.Data[0] != expected[p].TargetImage.Data[0] {
					errs <- "concurrent Get returned a different sample"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestSingleDataset(t *testing.T) {
	d := createTestDomain(t, "tgt", []int32{3, 1}, 5)
	sd, err := NewSingleDataset(d, preprocessing.Scale(2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if sd.Len() != 2 {
		t.Errorf("Expected 2 samples, got %d", sd.Len())
	}
	s, err := sd.Get(1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Label != 1 || s.Image.Data[0] != 12 {
		t.Errorf("Unexpected sample: label %d, value %v", s.Label, s.Image.Data[0])
	}
	if d.Images[1].Data[0] != 6 {
		t.Error("Transform modified the stored image")
	}

	for _, p := range []int{-1, 2} {
		if _, err := sd.Get(p); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Get(%d): expected ErrIndexOutOfRange, got %v", p, err)
		}
	}

	if _, err := NewSingleDataset(nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestDatasetInterface(t *testing.T) {
	var _ Dataset[PairSample] = (*PairDataset)(nil)
	var _ Dataset[Sample] = (*SingleDataset)(nil)
}

func TestSummary(t *testing.T) {
	src := createTestDomain(t, "mnist", []int32{0, 1}, 0)
	tgt := createTestDomain(t, "mnist-m", []int32{0, 1}, 10)
	pd, err := NewPairDataset(src, tgt, PairOptions{Ratio: 1, Rand: seeded(1)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	summary := pd.Summary()
	for _, want := range []string{"4 pairs", "2 intraclass", "mnist-m", "Class distribution"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary missing %q:\n%s", want, summary)
		}
	}
}
