// Package imageio reads and writes the images the model consumes and
// produces.
package imageio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// LabelsFile is the optional per-directory label table: a YAML map from file
// name to class label.
const LabelsFile = "labels.yaml"

var ErrUnsupportedFormat = errors.New("imageio: unsupported image format")

var extensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// Load decodes an image file into a channels-first image. A positive size
// resizes it to size x size.
func Load(path string, channels, size int) (tensor.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return tensor.Image{}, err
	}
	defer func() { _ = f.Close() }()
	src, _, err := image.Decode(f)
	if err != nil {
		return tensor.Image{}, fmt.Errorf("decode %s: %w", path, err)
	}
	img := tensor.FromImage(src, channels)
	if size > 0 && (img.H != size || img.W != size) {
		img = tensor.Resize(img, size, size)
	}
	return img, nil
}

// Save encodes img by file extension: png, bmp, tiff or jpeg.
func Save(path string, img tensor.Image) error {
	return encodeFile(path, img.ToNRGBA())
}

func encodeFile(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(*os.File) error
	switch ext {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".bmp":
		encode = func(f *os.File) error { return bmp.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error { return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: 95}) }
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// SaveGrid tiles images left to right into a single file, scaling each tile
// to the height of the first image.
func SaveGrid(path string, images []tensor.Image) error {
	if len(images) == 0 {
		return errors.New("imageio: no images to save")
	}
	h := images[0].H
	w := 0
	for _, img := range images {
		w += img.W * h / max(img.H, 1)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	x := 0
	for _, img := range images {
		tw := img.W * h / max(img.H, 1)
		src := img.ToNRGBA()
		draw.NearestNeighbor.Scale(canvas, image.Rect(x, 0, x+tw, h), src, src.Bounds(), draw.Src, nil)
		x += tw
	}
	return encodeFile(path, canvas)
}

// DirOptions controls LoadDir.
type DirOptions struct {
	Channels int
	Size     int
	// Workers bounds concurrent decodes; zero means 4.
	Workers int
	// Limit caps the number of files; zero means all.
	Limit int
}

// LoadDir decodes every image in dir, in file name order. Labels come from
// LabelsFile when present; files missing from it make the whole batch
// unlabelled.
func LoadDir(ctx context.Context, dir string, opts DirOptions) (stage.Batch, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stage.Batch{}, nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}
	if opts.Channels <= 0 {
		opts.Channels = 3
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	images := make([]tensor.Image, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := Load(filepath.Join(dir, name), opts.Channels, opts.Size)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stage.Batch{}, nil, err
	}

	batch := stage.Batch{Images: images}
	labels, err := readLabels(filepath.Join(dir, LabelsFile))
	if err != nil {
		return stage.Batch{}, nil, err
	}
	if labels != nil {
		batch.Labels = make([]int, len(names))
		for i, name := range names {
			l, ok := labels[name]
			if !ok {
				batch.Labels = nil
				break
			}
			batch.Labels[i] = l
		}
	}
	return batch, names, nil
}

func readLabels(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var labels map[string]int
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return labels, nil
}
