package slyconv

// Conversion and upload of all dataset splits.

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Uploader converts and uploads the dataset splits described by its settings.
type Uploader struct {
	API      API
	Settings *Settings
	Recorder Recorder // Optional.
}

// Result summarises a run.
type Result struct {
	Project  ProjectInfo
	Datasets []DatasetResult
}

// DatasetResult summarises the upload of one split.
type DatasetResult struct {
	Dataset     DatasetInfo
	Images      int
	Annotations int
}

// Meta returns the project meta built from the settings.
func (u *Uploader) Meta() (ProjectMeta, error) {
	colors, err := u.Settings.Colors()
	if err != nil {
		return ProjectMeta{}, err
	}
	return BuildProjectMeta(u.Settings.Classes, colors), nil
}

// Run creates the project, declares its meta and uploads all splits in order. Missing split
// directories and label files are reported before the project is created. The first error ends
// the run; batches uploaded up to that point stay in place.
func (u *Uploader) Run(ctx context.Context) (Result, error) {
	s := u.Settings
	recorder := u.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	meta, err := u.Meta()
	if err != nil {
		return Result{}, err
	}
	if err := s.CheckSplits(); err != nil {
		return Result{}, err
	}

	project, err := u.API.CreateProject(ctx, s.Server.WorkspaceID, s.ProjectName, s.ProjectNameFull)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create project %q: %w", s.ProjectName, err)
	}
	log.Printf("Created project %q (id %d)", project.Name, project.ID)
	result := Result{Project: project}

	if err := u.API.UpdateProjectMeta(ctx, project.ID, meta); err != nil {
		return result, fmt.Errorf("failed to update the project meta: %w", err)
	}
	if err := recorder.StartRun(project); err != nil {
		return result, fmt.Errorf("failed to start the ledger run: %w", err)
	}
	if s.TFRecordDir != "" {
		if err := os.MkdirAll(s.TFRecordDir, 0755); err != nil {
			return result, err
		}
		if err := WriteLabelMap(s.TFRecordDir, meta); err != nil {
			return result, err
		}
	}

	for _, split := range s.Splits {
		ds, err := u.uploadSplit(ctx, project, meta, split, recorder)
		result.Datasets = append(result.Datasets, ds)
		if err != nil {
			return result, fmt.Errorf("split %q: %w", split.Name, err)
		}
	}

	return result, nil
}

// uploadSplit uploads the images of split in batches, with annotations if the split is labelled.
func (u *Uploader) uploadSplit(ctx context.Context, project ProjectInfo, meta ProjectMeta,
	split Split, recorder Recorder) (res DatasetResult, err error) {

	dataset, err := u.API.CreateDataset(ctx, project.ID, split.Name)
	if err != nil {
		return DatasetResult{}, fmt.Errorf("failed to create the dataset: %w", err)
	}
	res = DatasetResult{Dataset: dataset}

	index, err := LoadLabelIndex(split.Labels)
	if err != nil {
		return res, err
	}
	labelled := index.HasLabels()
	transcoder := &Transcoder{Meta: meta, Index: index}

	names, err := filesInDir(split.Images)
	if err != nil {
		return res, err
	}

	var tfw *TFRecordWriter
	if labelled && u.Settings.TFRecordDir != "" {
		if tfw, err = NewTFRecordWriter(u.Settings.TFRecordDir, split.Name, meta); err != nil {
			return res, err
		}
		defer closeWithErrCheck(tfw, &err)
	}

	progress := NewProgress(fmt.Sprintf("Create dataset %s", dataset.Name), len(names))
	for _, batch := range Batch(names, u.Settings.BatchSize) {
		paths := make([]string, len(batch))
		for i, name := range batch {
			paths[i] = filepath.Join(split.Images, name)
		}

		infos, err := u.API.UploadImages(ctx, dataset.ID, batch, paths)
		if err != nil {
			return res, fmt.Errorf("failed to upload images: %w", err)
		}
		if len(infos) != len(batch) {
			return res, fmt.Errorf("got %d image infos for %d images", len(infos), len(batch))
		}
		res.Images += len(infos)

		if labelled {
			ids := make([]int, len(infos))
			anns := make([]Annotation, len(paths))
			for i, path := range paths {
				ids[i] = infos[i].ID
				if anns[i], err = transcoder.TranscodeFile(path); err != nil {
					return res, err
				}
				if tfw != nil {
					if err := tfw.Write(path, anns[i]); err != nil {
						return res, fmt.Errorf("failed to export %q: %w", path, err)
					}
				}
			}
			if err := u.API.UploadAnnotations(ctx, dataset.ID, ids, anns); err != nil {
				return res, fmt.Errorf("failed to upload annotations: %w", err)
			}
			res.Annotations += len(anns)
		}

		if err := recorder.RecordBatch(dataset, infos, labelled); err != nil {
			return res, fmt.Errorf("failed to record the batch: %w", err)
		}
		progress.Done(len(batch))
	}

	return res, nil
}
