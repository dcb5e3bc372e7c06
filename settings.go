package slyconv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables overriding the server settings.
const (
	EnvServerAddress = "SERVER_ADDRESS"
	EnvAPIToken      = "API_TOKEN"
	EnvWorkspaceID   = "WORKSPACE_ID"
)

// DefaultBatchSize is the number of images uploaded per request.
const DefaultBatchSize = 30

// Split is a dataset split: a directory of images and an optional BDD label file.
type Split struct {
	Name   string `toml:"name"`
	Images string `toml:"images"`
	Labels string `toml:"labels"` // Empty for splits without ground truth.
}

// ServerSettings locate the Supervisely instance.
type ServerSettings struct {
	Address     string `toml:"address"`
	Token       string `toml:"token"`
	WorkspaceID int    `toml:"workspace_id"`
}

// Settings is the run configuration. It is loaded once and not modified afterwards.
type Settings struct {
	ProjectName     string   `toml:"project_name"`
	ProjectNameFull string   `toml:"project_name_full"`
	HideDataset     bool     `toml:"hide_dataset"` // Keep the project out of public listings.
	License         string   `toml:"license"`
	Applications    []string `toml:"applications"`
	Category        string   `toml:"category"`
	CVTasks         []string `toml:"cv_tasks"`
	AnnotationTypes []string `toml:"annotation_types"`
	ReleaseYear     int      `toml:"release_year"`
	HomepageURL     string   `toml:"homepage_url"`
	GithubURL       string   `toml:"github_url"`
	Paper           string   `toml:"paper"`
	Authors         []string `toml:"authors"`
	AuthorsContacts []string `toml:"authors_contacts"`
	Organizations   []string `toml:"organizations"`

	// Either a single URL or a table mapping archive names to URLs.
	DownloadOriginal interface{} `toml:"download_original_url"`

	ClassColors map[string][]int `toml:"class_colors"`
	Classes     []string         `toml:"classes"`

	DataDir   string  `toml:"data_dir"` // Relative split paths are resolved against it.
	BatchSize int     `toml:"batch_size"`
	Splits    []Split `toml:"splits"`

	Server ServerSettings `toml:"server"`

	LedgerPath  string `toml:"ledger_path"`  // Optional sqlite upload ledger.
	TFRecordDir string `toml:"tfrecord_dir"` // Optional TFRecord export of the box labels.
}

// DefaultSettings returns the settings for the BDD100K 100K images.
func DefaultSettings() *Settings {
	return &Settings{
		ProjectName: "BDD100K: Images 100K",
		ProjectNameFull: "Berkeley Deep Drive Dataset (BDD100K): A Diverse Driving Dataset for" +
			" Heterogeneous Multitask Learning (Images 100K)",
		License:      "https://doc.bdd100k.com/license.html",
		Applications: []string{"automotive"},
		Category:     "self-driving",
		CVTasks: []string{
			"instance segmentation", "semantic segmentation", "object detection", "identification",
		},
		AnnotationTypes:  []string{"instance segmentation"},
		ReleaseYear:      2020,
		HomepageURL:      "https://www.bdd100k.com/",
		GithubURL:        "https://github.com/dataset-ninja/bdd100k",
		Paper:            "https://arxiv.org/abs/1805.04687",
		DownloadOriginal: "https://www.bdd100k.com/",
		Authors: []string{
			"Fisher Yu", "Haofeng Chen", "Xin Wang", "Wenqi Xian", "Yingying Chen", "Fangchen Liu",
			"Vashisht Madhavan", "Trevor Darrell",
		},
		AuthorsContacts: []string{"i@yf.io"},
		Organizations: []string{
			"UC Berkeley, USA", "Cornell University, USA", "UC San Diego, USA", "Element, Inc",
		},
		ClassColors: map[string][]int{
			"car":           {230, 25, 75},
			"drivable area": {60, 180, 75},
			"lane":          {255, 225, 25},
			"traffic sign":  {0, 130, 200},
			"traffic light": {245, 130, 48},
			"person":        {145, 30, 180},
			"truck":         {70, 240, 240},
			"bus":           {240, 50, 230},
			"bike":          {210, 245, 60},
			"rider":         {250, 190, 212},
			"motor":         {0, 128, 128},
			"train":         {220, 190, 255},
		},
		Classes:   append([]string(nil), DefaultClasses...),
		DataDir:   "bdd100k",
		BatchSize: DefaultBatchSize,
		Splits: []Split{
			{Name: "val", Images: "images/100k/val", Labels: "labels/bdd100k_labels_images_val.json"},
			{Name: "train", Images: "images/100k/train", Labels: "labels/bdd100k_labels_images_train.json"},
			{Name: "test", Images: "images/100k/test"},
		},
	}
}

// LoadSettings starts from DefaultSettings, overlays the TOML file at path (if path is not
// empty), applies environment overrides and validates the result.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		overlay := &Settings{}
		if err := toml.Unmarshal(data, overlay); err != nil {
			return nil, fmt.Errorf("failed to parse settings %q: %w", path, err)
		}
		s.Merge(overlay)
	}

	if err := s.loadEnv(); err != nil {
		return nil, err
	}
	s.resolvePaths()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Merge overwrites fields of s with the non-zero fields of overlay. Class colors are merged per
// class; list fields are replaced as a whole.
func (s *Settings) Merge(overlay *Settings) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, v []string) {
		if v != nil {
			*dst = v
		}
	}

	setString(&s.ProjectName, overlay.ProjectName)
	setString(&s.ProjectNameFull, overlay.ProjectNameFull)
	if overlay.HideDataset {
		s.HideDataset = true
	}
	setString(&s.License, overlay.License)
	setList(&s.Applications, overlay.Applications)
	setString(&s.Category, overlay.Category)
	setList(&s.CVTasks, overlay.CVTasks)
	setList(&s.AnnotationTypes, overlay.AnnotationTypes)
	if overlay.ReleaseYear != 0 {
		s.ReleaseYear = overlay.ReleaseYear
	}
	setString(&s.HomepageURL, overlay.HomepageURL)
	setString(&s.GithubURL, overlay.GithubURL)
	setString(&s.Paper, overlay.Paper)
	setList(&s.Authors, overlay.Authors)
	setList(&s.AuthorsContacts, overlay.AuthorsContacts)
	setList(&s.Organizations, overlay.Organizations)
	if overlay.DownloadOriginal != nil {
		s.DownloadOriginal = overlay.DownloadOriginal
	}

	if len(overlay.ClassColors) > 0 {
		colors := make(map[string][]int, len(s.ClassColors)+len(overlay.ClassColors))
		for k, v := range s.ClassColors {
			colors[k] = v
		}
		for k, v := range overlay.ClassColors {
			colors[k] = v
		}
		s.ClassColors = colors
	}
	setList(&s.Classes, overlay.Classes)

	setString(&s.DataDir, overlay.DataDir)
	if overlay.BatchSize != 0 {
		s.BatchSize = overlay.BatchSize
	}
	if overlay.Splits != nil {
		s.Splits = overlay.Splits
	}

	setString(&s.Server.Address, overlay.Server.Address)
	setString(&s.Server.Token, overlay.Server.Token)
	if overlay.Server.WorkspaceID != 0 {
		s.Server.WorkspaceID = overlay.Server.WorkspaceID
	}

	setString(&s.LedgerPath, overlay.LedgerPath)
	setString(&s.TFRecordDir, overlay.TFRecordDir)
}

func (s *Settings) loadEnv() error {
	if v := os.Getenv(EnvServerAddress); v != "" {
		s.Server.Address = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		s.Server.Token = v
	}
	if v := os.Getenv(EnvWorkspaceID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkspaceID, v, err)
		}
		s.Server.WorkspaceID = id
	}
	return nil
}

// resolvePaths joins relative split paths with DataDir.
func (s *Settings) resolvePaths() {
	if s.DataDir == "" {
		return
	}
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(s.DataDir, p)
	}
	for i := range s.Splits {
		s.Splits[i].Images = join(s.Splits[i].Images)
		s.Splits[i].Labels = join(s.Splits[i].Labels)
	}
}

// Validate checks that the fields required for a run are set.
func (s *Settings) Validate() error {
	if s.ProjectName == "" {
		return errors.New("project_name required")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
	}
	if len(s.Classes) == 0 {
		return errors.New("classes required")
	}
	if len(s.Splits) == 0 {
		return errors.New("at least one split required")
	}

	seen := make(map[string]bool, len(s.Splits))
	for i, sp := range s.Splits {
		if sp.Name == "" {
			return fmt.Errorf("split %d: name required", i)
		}
		if seen[sp.Name] {
			return fmt.Errorf("split %q defined twice", sp.Name)
		}
		seen[sp.Name] = true
		if sp.Images == "" {
			return fmt.Errorf("split %q: images required", sp.Name)
		}
	}

	if _, err := s.Colors(); err != nil {
		return err
	}
	if _, err := s.DownloadURLs(); err != nil {
		return err
	}
	return nil
}

// CheckSplits checks that every split's image directory and label file exist. It is separate from
// Validate because archives may be staged after the settings are loaded.
func (s *Settings) CheckSplits() error {
	for _, sp := range s.Splits {
		info, err := os.Stat(sp.Images)
		if err != nil {
			return fmt.Errorf("split %q: %w", sp.Name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("split %q: %q is not a directory", sp.Name, sp.Images)
		}
		if sp.Labels == "" {
			continue
		}
		if info, err = os.Stat(sp.Labels); err != nil {
			return fmt.Errorf("split %q: %w", sp.Name, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("split %q: %q is not a regular file", sp.Name, sp.Labels)
		}
	}
	return nil
}

// ValidateServer checks the settings needed to talk to a Supervisely instance.
func (s *Settings) ValidateServer() error {
	if s.Server.Address == "" {
		return fmt.Errorf("server address required (set %s)", EnvServerAddress)
	}
	if s.Server.Token == "" {
		return fmt.Errorf("API token required (set %s)", EnvAPIToken)
	}
	if s.Server.WorkspaceID <= 0 {
		return fmt.Errorf("workspace id required (set %s)", EnvWorkspaceID)
	}
	return nil
}

// Colors returns ClassColors as RGB values.
func (s *Settings) Colors() (map[string]RGB, error) {
	colors := make(map[string]RGB, len(s.ClassColors))
	for name, v := range s.ClassColors {
		if len(v) != 3 {
			return nil, fmt.Errorf("class color of %q must have 3 components, got %d", name, len(v))
		}
		var c RGB
		for i, x := range v {
			if x < 0 || x > 255 {
				return nil, fmt.Errorf("class color of %q out of range: %v", name, v)
			}
			c[i] = uint8(x)
		}
		colors[name] = c
	}
	return colors, nil
}

// DownloadURLs returns DownloadOriginal as a map from archive name to URL. A single URL is
// returned under the base name of its path.
func (s *Settings) DownloadURLs() (map[string]string, error) {
	switch v := s.DownloadOriginal.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return map[string]string{archiveName(v): v}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		urls := make(map[string]string, len(v))
		for name, u := range v {
			str, ok := u.(string)
			if !ok {
				return nil, fmt.Errorf("download_original_url.%s must be a string", name)
			}
			urls[name] = str
		}
		return urls, nil
	default:
		return nil, fmt.Errorf("download_original_url must be a string or a table, got %T", v)
	}
}
