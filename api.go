package slyconv

import (
	"context"
	"fmt"
)

// ProjectInfo describes a created project.
type ProjectInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DatasetInfo describes a created dataset.
type DatasetInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ImageInfo describes an uploaded image.
type ImageInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Hash string `json:"hash,omitempty"`
}

// API is the subset of the Supervisely service used by the Uploader.
//
// Create calls never fail on a name conflict; the new project or dataset is renamed instead.
type API interface {
	// CreateProject creates an image project in the workspace.
	CreateProject(ctx context.Context, workspaceID int, name, description string) (ProjectInfo, error)
	// UpdateProjectMeta replaces the class and tag schema of the project.
	UpdateProjectMeta(ctx context.Context, projectID int, meta ProjectMeta) error
	// CreateDataset creates a dataset in the project.
	CreateDataset(ctx context.Context, projectID int, name string) (DatasetInfo, error)
	// UploadImages uploads the files at paths under the given names. The returned infos are in
	// the order of names.
	UploadImages(ctx context.Context, datasetID int, names, paths []string) ([]ImageInfo, error)
	// UploadAnnotations sets the annotation of each image in the dataset. imageIDs and anns are
	// parallel.
	UploadAnnotations(ctx context.Context, datasetID int, imageIDs []int, anns []Annotation) error
}

// APIError is returned for a failed API call.
type APIError struct {
	Method string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Method, e.Status, e.Body)
}

// conflictName returns the name to use for the n-th conflict of name (n >= 1).
func conflictName(name string, n int) string {
	return fmt.Sprintf("%s_%03d", name, n)
}
