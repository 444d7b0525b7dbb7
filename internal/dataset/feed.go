package dataset

import (
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownie44l1/dr-api/internal/preprocess"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// Sample is one image file and the index of its class folder.
type Sample struct {
	Path  string
	Label int
}

// Directory is an organized tree: one sub-folder per class.
type Directory struct {
	Root    string
	Classes []string
	Samples []Sample
}

// ScanDirectory lists class folders in name order and the image files
// inside each, also in name order.
func ScanDirectory(root string) (*Directory, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory: %w", err)
	}

	dir := &Directory{Root: root}
	for _, e := range entries {
		if e.IsDir() {
			dir.Classes = append(dir.Classes, e.Name())
		}
	}
	sort.Strings(dir.Classes)

	for label, class := range dir.Classes {
		files, err := os.ReadDir(filepath.Join(root, class))
		if err != nil {
			return nil, fmt.Errorf("failed to read class folder %s: %w", class, err)
		}
		var names []string
		for _, f := range files {
			if !f.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			dir.Samples = append(dir.Samples, Sample{Path: filepath.Join(root, class, n), Label: label})
		}
	}

	if len(dir.Samples) == 0 {
		return nil, fmt.Errorf("no images found under %s", root)
	}
	return dir, nil
}

type FeedOptions struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	Augmenter *Augmenter
	Prep      preprocess.Preprocessor
}

// Feed yields batches of samples and loads them as model-ready images.
type Feed struct {
	*Directory
	opts FeedOptions
	rng  *rand.Rand
}

func NewFeed(dir *Directory, opts FeedOptions) *Feed {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	return &Feed{
		Directory: dir,
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
}

func (f *Feed) Len() int {
	return len(f.Samples)
}

// Batches returns one epoch of batches, reshuffled on every call when
// shuffling is enabled.
func (f *Feed) Batches() [][]Sample {
	order := make([]Sample, len(f.Samples))
	copy(order, f.Samples)
	if f.opts.Shuffle {
		f.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var batches [][]Sample
	for start := 0; start < len(order); start += f.opts.BatchSize {
		end := start + f.opts.BatchSize
		if end > len(order) {
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// Load decodes a sample, resizes it to the model resolution and applies
// augmentation when the feed has an Augmenter.
func (f *Feed) Load(s Sample) (image.Image, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer file.Close()

	img, _, err := preprocess.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}

	img = f.opts.Prep.Resize(img)
	if f.opts.Augmenter != nil {
		img = f.opts.Augmenter.Apply(img)
	}
	return img, nil
}

// Tensor loads a sample and normalizes it.
func (f *Feed) Tensor(s Sample) ([]float32, error) {
	img, err := f.Load(s)
	if err != nil {
		return nil, err
	}
	return f.opts.Prep.Tensor(img)
}

// Align relabels the samples so that label i means classes[i]. Every
// folder of the directory must appear in classes.
func (d *Directory) Align(classes []string) error {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	mapping := make([]int, len(d.Classes))
	for i, c := range d.Classes {
		j, ok := index[c]
		if !ok {
			return fmt.Errorf("class folder %q in %s is not one of %v", c, d.Root, classes)
		}
		mapping[i] = j
	}
	for i := range d.Samples {
		d.Samples[i].Label = mapping[d.Samples[i].Label]
	}
	d.Classes = append([]string(nil), classes...)
	return nil
}
