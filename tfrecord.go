package slyconv

// TFRecord object detection export of the rectangle labels.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// LabelMapFile is the name of the label map written next to the TFRecord files.
const LabelMapFile = "label_map.pbtxt"

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFRecordWriter streams the rectangle objects of annotated images to a TFRecord file.
//
// Class IDs are the 1-based positions of the classes in the project meta.
type TFRecordWriter struct {
	file     *os.File
	w        *bufio.Writer
	classIDs map[string]int64
	count    int
}

// NewTFRecordWriter creates <dir>/<split>.record.
func NewTFRecordWriter(dir, split string, meta ProjectMeta) (*TFRecordWriter, error) {
	path := filepath.Join(dir, split+".record")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", path, err)
	}

	classIDs := make(map[string]int64, len(meta.Classes))
	for i, c := range meta.Classes {
		classIDs[c.Title] = int64(i + 1)
	}
	return &TFRecordWriter{file: f, w: bufio.NewWriter(f), classIDs: classIDs}, nil
}

// Write adds an example for the image at imagePath with annotation ann. Non-rectangle objects
// are not exported.
func (t *TFRecordWriter) Write(imagePath string, ann Annotation) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	features, err := t.features(imagePath, ann)
	if err != nil {
		return err
	}
	if err := writeTFRecordExample(t.w, example.New(features)); err != nil {
		return err
	}
	t.count++
	return nil
}

// Count returns the number of written examples.
func (t *TFRecordWriter) Count() int {
	return t.count
}

// Close flushes and closes the file.
func (t *TFRecordWriter) Close() error {
	if err := t.w.Flush(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

// features returns the object detection features for one image.
func (t *TFRecordWriter) features(imagePath string, ann Annotation) (TFFeatureMap, error) {
	_, format, err := decodeImageConfig(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %w", err)
	}
	imgData, err := readFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %w", err)
	}

	width, height := ann.Size.Width, ann.Size.Height
	name := filepath.Base(imagePath)
	f := make(TFFeatureMap, 16)
	f["image/height"] = height
	f["image/width"] = width
	f["image/filename"] = name
	f["image/source_id"] = name
	f["image/encoded"] = imgData
	f["image/format"] = format

	var xmins, ymins, xmaxs, ymaxs []float32
	var classes []string
	var classIDs []int64
	for _, o := range ann.Objects {
		r, ok := o.Rectangle()
		if !ok {
			continue
		}
		xmins = append(xmins, float32(r.Left)/float32(width))
		ymins = append(ymins, float32(r.Top)/float32(height))
		xmaxs = append(xmaxs, float32(r.Right)/float32(width))
		ymaxs = append(ymaxs, float32(r.Bottom)/float32(height))
		classes = append(classes, o.ClassTitle)
		classIDs = append(classIDs, t.classIDs[o.ClassTitle])
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return f, nil
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// WriteLabelMap writes the class IDs used by TFRecordWriter to <dir>/label_map.pbtxt in the
// StringIntLabelMap text format.
func WriteLabelMap(dir string, meta ProjectMeta) (err error) {
	path := filepath.Join(dir, LabelMapFile)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %w", path, err)
	}
	defer closeWithErrCheck(file, &err)

	for i, c := range meta.Classes {
		if _, err := fmt.Fprintf(file, "item {\n  id: %d\n  name: %q\n}\n", i+1, c.Title); err != nil {
			return fmt.Errorf("failed to write the label map %q: %w", path, err)
		}
	}
	return nil
}
