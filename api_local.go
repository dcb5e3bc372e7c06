package slyconv

// A local, file based implementation of API.

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalProject implements API by writing projects in the Supervisely directory layout below a
// root directory:
//
//	<root>/<project>/meta.json
//	<root>/<project>/<dataset>/img/<image>
//	<root>/<project>/<dataset>/ann/<image>.json
type LocalProject struct {
	root     string
	projects map[int]string // Project directories by ID.
	datasets map[int]string // Dataset directories by ID.
	images   map[int]localImage
	nextID   int
}

type localImage struct {
	datasetID int
	name      string
}

// NewLocalProject returns a LocalProject writing below root, which is created if necessary.
func NewLocalProject(root string) (*LocalProject, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("cannot create directory %q: %w", root, err)
	}
	return &LocalProject{
		root:     root,
		projects: make(map[int]string),
		datasets: make(map[int]string),
		images:   make(map[int]localImage),
		nextID:   1,
	}, nil
}

func (p *LocalProject) id() int {
	id := p.nextID
	p.nextID++
	return id
}

// createDir creates a new directory for name in parent, renaming it on conflict.
func createDir(parent, name string) (string, error) {
	candidate := name
	for n := 1; ; n++ {
		err := os.Mkdir(filepath.Join(parent, candidate), 0755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		candidate = conflictName(name, n)
	}
}

// CreateProject implements API. The description is not stored.
func (p *LocalProject) CreateProject(_ context.Context, _ int, name, _ string) (
	ProjectInfo, error) {

	name, err := createDir(p.root, name)
	if err != nil {
		return ProjectInfo{}, err
	}
	info := ProjectInfo{ID: p.id(), Name: name}
	p.projects[info.ID] = filepath.Join(p.root, name)
	return info, nil
}

// UpdateProjectMeta implements API.
func (p *LocalProject) UpdateProjectMeta(_ context.Context, projectID int, meta ProjectMeta) error {
	dir, ok := p.projects[projectID]
	if !ok {
		return fmt.Errorf("unknown project %d", projectID)
	}
	return WriteSupervisely(filepath.Join(dir, "meta.json"), meta)
}

// CreateDataset implements API.
func (p *LocalProject) CreateDataset(_ context.Context, projectID int, name string) (
	DatasetInfo, error) {

	projectDir, ok := p.projects[projectID]
	if !ok {
		return DatasetInfo{}, fmt.Errorf("unknown project %d", projectID)
	}
	name, err := createDir(projectDir, name)
	if err != nil {
		return DatasetInfo{}, err
	}
	dir := filepath.Join(projectDir, name)
	for _, sub := range []string{"img", "ann"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0755); err != nil {
			return DatasetInfo{}, err
		}
	}

	info := DatasetInfo{ID: p.id(), Name: name}
	p.datasets[info.ID] = dir
	return info, nil
}

// UploadImages implements API by copying the files. Like the server, it gives every image an
// empty annotation of the image size, replaced by UploadAnnotations.
func (p *LocalProject) UploadImages(_ context.Context, datasetID int, names, paths []string) (
	[]ImageInfo, error) {

	dir, ok := p.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %d", datasetID)
	}
	if len(names) != len(paths) {
		return nil, fmt.Errorf("got %d names for %d paths", len(names), len(paths))
	}

	infos := make([]ImageInfo, len(names))
	for i, name := range names {
		width, height, err := imageSize(paths[i])
		if err != nil {
			return nil, fmt.Errorf("failed to read the image size of %q: %w", paths[i], err)
		}
		if err := copyFile(filepath.Join(dir, "img", name), paths[i]); err != nil {
			return nil, fmt.Errorf("failed to copy %q: %w", paths[i], err)
		}
		empty := Annotation{
			Size:    ImageSize{Height: height, Width: width},
			Tags:    []Tag{},
			Objects: []Object{},
		}
		if err := WriteSupervisely(filepath.Join(dir, "ann", name+".json"), empty); err != nil {
			return nil, err
		}
		infos[i] = ImageInfo{ID: p.id(), Name: name}
		p.images[infos[i].ID] = localImage{datasetID: datasetID, name: name}
	}
	return infos, nil
}

// UploadAnnotations implements API.
func (p *LocalProject) UploadAnnotations(_ context.Context, datasetID int, imageIDs []int,
	anns []Annotation) error {

	if len(imageIDs) != len(anns) {
		return fmt.Errorf("got %d annotations for %d images", len(anns), len(imageIDs))
	}
	for i, id := range imageIDs {
		img, ok := p.images[id]
		if !ok || img.datasetID != datasetID {
			return fmt.Errorf("unknown image %d in dataset %d", id, datasetID)
		}
		path := filepath.Join(p.datasets[datasetID], "ann", img.name+".json")
		if err := WriteSupervisely(path, anns[i]); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies the file at src to dst.
func copyFile(dst, src string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	_, err = io.Copy(out, in)
	return err
}
