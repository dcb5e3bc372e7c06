package slyconv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer mimics the Supervisely API methods used by HTTPClient.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	calls    []string
	bodies   map[string][]byte
	uploaded map[string][]byte // Image contents by part file name.
	known    map[string]bool   // Hashes reported as already stored.
	failing  string            // Method that answers with an error.
	nextID   int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{
		t:        t,
		bodies:   make(map[string][]byte),
		uploaded: make(map[string][]byte),
		known:    make(map[string]bool),
		nextID:   100,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method := strings.TrimPrefix(r.URL.Path, apiPath)
	f.calls = append(f.calls, method)

	if r.Method != http.MethodPost || r.Header.Get("x-api-key") != "token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if method == f.failing {
		http.Error(w, `{"error": "boom"}`, http.StatusInternalServerError)
		return
	}

	if method == "images.bulk.upload" {
		if !assert.NoError(f.t, r.ParseMultipartForm(32<<20)) {
			http.Error(w, "bad multipart body", http.StatusBadRequest)
			return
		}
		for _, fh := range r.MultipartForm.File["file"] {
			file, err := fh.Open()
			if !assert.NoError(f.t, err) {
				return
			}
			data, err := io.ReadAll(file)
			_ = file.Close()
			assert.NoError(f.t, err)
			f.uploaded[fh.Filename] = data
		}
		return
	}

	body, err := io.ReadAll(r.Body)
	assert.NoError(f.t, err)
	f.bodies[method] = body

	var resp interface{}
	switch method {
	case "projects.add":
		var req struct {
			Name string `json:"name"`
		}
		assert.NoError(f.t, json.Unmarshal(body, &req))
		resp = ProjectInfo{ID: 1, Name: req.Name}
	case "datasets.add":
		var req struct {
			Name string `json:"name"`
		}
		assert.NoError(f.t, json.Unmarshal(body, &req))
		resp = DatasetInfo{ID: 2, Name: req.Name}
	case "images.internal.hashes.list":
		var hashes []string
		assert.NoError(f.t, json.Unmarshal(body, &hashes))
		known := []string{}
		for _, h := range hashes {
			if f.known[h] {
				known = append(known, h)
			}
		}
		resp = known
	case "images.bulk.add":
		var req struct {
			Images []struct {
				Title string `json:"title"`
				Hash  string `json:"hash"`
			} `json:"images"`
		}
		assert.NoError(f.t, json.Unmarshal(body, &req))
		infos := make([]ImageInfo, len(req.Images))
		for i, img := range req.Images {
			infos[i] = ImageInfo{ID: f.nextID, Name: img.Title, Hash: img.Hash}
			f.nextID++
		}
		resp = infos
	default:
		resp = map[string]bool{"success": true}
	}
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(f.t, json.NewEncoder(w).Encode(resp))
}

func (f *fakeServer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Body returns the last request body of method.
func (f *fakeServer) Body(method string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method]
}

// Uploaded returns the received image contents. The part file names are not comparable to the
// hashes, since the multipart reader strips them to their base name.
func (f *fakeServer) Uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, data := range f.uploaded {
		out = append(out, string(data))
	}
	return out
}

func (f *fakeServer) MarkKnown(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[hash] = true
}

func (f *fakeServer) FailOn(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = method
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient("sly.example.com/", "token")
	require.NoError(t, err)
	assert.Equal(t, "https://sly.example.com", c.address)

	c, err = NewHTTPClient("http://localhost:8080", "token")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.address)

	_, err = NewHTTPClient("", "token")
	assert.Error(t, err)
	_, err = NewHTTPClient("localhost", "")
	assert.Error(t, err)
}

func TestHTTPClient_ProjectAndDataset(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := NewHTTPClient(srv.URL, "token")
	require.NoError(t, err)
	ctx := context.Background()

	project, err := c.CreateProject(ctx, 7, "BDD100K", "Berkeley Deep Drive")
	require.NoError(t, err)
	assert.Equal(t, ProjectInfo{ID: 1, Name: "BDD100K"}, project)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Body("projects.add"), &req))
	assert.Equal(t, float64(7), req["workspaceId"])
	assert.Equal(t, "images", req["type"])
	assert.Equal(t, true, req["changeNameIfConflict"])

	require.NoError(t, c.UpdateProjectMeta(ctx, project.ID, BuildProjectMeta([]string{"car"}, nil)))
	var metaReq struct {
		ID   int         `json:"id"`
		Meta ProjectMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(f.Body("projects.meta.update"), &metaReq))
	assert.Equal(t, 1, metaReq.ID)
	require.Len(t, metaReq.Meta.Classes, 1)
	assert.Equal(t, "car", metaReq.Meta.Classes[0].Title)

	dataset, err := c.CreateDataset(ctx, project.ID, "val")
	require.NoError(t, err)
	assert.Equal(t, DatasetInfo{ID: 2, Name: "val"}, dataset)

	assert.Equal(t, []string{"projects.add", "projects.meta.update", "datasets.add"}, f.Calls())
}

func TestHTTPClient_UploadImages(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := NewHTTPClient(srv.URL, "token")
	require.NoError(t, err)

	dir := t.TempDir()
	a := writeTestFile(t, dir, "a.jpg", "image a")
	b := writeTestFile(t, dir, "b.jpg", "image b")
	dup := writeTestFile(t, dir, "c.jpg", "image a")
	f.MarkKnown(contentHash([]byte("image b")))

	infos, err := c.UploadImages(context.Background(), 2, []string{"a.jpg", "b.jpg", "c.jpg"},
		[]string{a, b, dup})
	require.NoError(t, err)

	require.Len(t, infos, 3)
	for i, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		assert.Equal(t, name, infos[i].Name)
		assert.Equal(t, 100+i, infos[i].ID)
	}
	assert.Equal(t, infos[0].Hash, infos[2].Hash)

	assert.Equal(t, []string{"image a"}, f.Uploaded(), "known and duplicate contents are not sent")
	assert.Equal(t,
		[]string{"images.internal.hashes.list", "images.bulk.upload", "images.bulk.add"}, f.Calls())

	_, err = c.UploadImages(context.Background(), 2, []string{"a.jpg"}, nil)
	assert.Error(t, err)
}

func TestHTTPClient_UploadAnnotations(t *testing.T) {
	f, srv := newFakeServer(t)
	c, err := NewHTTPClient(srv.URL, "token")
	require.NoError(t, err)

	ann := Annotation{Size: ImageSize{Height: 3, Width: 4}, Tags: []Tag{}, Objects: []Object{}}
	require.NoError(t, c.UploadAnnotations(context.Background(), 2, []int{100}, []Annotation{ann}))

	var req struct {
		DatasetID   int `json:"datasetId"`
		Annotations []struct {
			ImageID    int        `json:"imageId"`
			Annotation Annotation `json:"annotation"`
		} `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(f.Body("annotations.bulk.add"), &req))
	assert.Equal(t, 2, req.DatasetID)
	require.Len(t, req.Annotations, 1)
	assert.Equal(t, 100, req.Annotations[0].ImageID)
	assert.Equal(t, ann, req.Annotations[0].Annotation)

	assert.Error(t, c.UploadAnnotations(context.Background(), 2, []int{1, 2}, []Annotation{ann}))
}

func TestHTTPClient_Errors(t *testing.T) {
	f, srv := newFakeServer(t)
	f.FailOn("datasets.add")

	c, err := NewHTTPClient(srv.URL, "token")
	require.NoError(t, err)
	_, err = c.CreateDataset(context.Background(), 1, "val")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "datasets.add", apiErr.Method)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Body, "boom")

	bad, err := NewHTTPClient(srv.URL, "wrong")
	require.NoError(t, err)
	_, err = bad.CreateProject(context.Background(), 1, "p", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	cancel()
	_, err = c.CreateProject(ctx, 1, "p", "")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestImageContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", imageContentType("a/b.JPG"))
	assert.Equal(t, "image/png", imageContentType("b.png"))
	assert.Equal(t, "application/octet-stream", imageContentType("c.webp"))
}
