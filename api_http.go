package slyconv

// Supervisely public API client.

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const apiPath = "/public/api/v3/"

// DefaultRequestTimeout bounds a single API call when the context has no deadline.
const DefaultRequestTimeout = 5 * time.Minute

// HTTPClient implements API against a Supervisely instance.
type HTTPClient struct {
	address string
	token   string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewHTTPClient returns a client for the server at address, authenticating with token.
func NewHTTPClient(address, token string) (*HTTPClient, error) {
	if address == "" || token == "" {
		return nil, fmt.Errorf("server address and API token are required")
	}
	address = strings.TrimSuffix(address, "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "https://" + address
	}

	return &HTTPClient{
		address: address,
		token:   token,
		timeout: DefaultRequestTimeout,
		client: &fasthttp.Client{
			Name:                "slyconv",
			MaxResponseBodySize: 256 << 20,
		},
	}, nil
}

// CreateProject implements API.
func (c *HTTPClient) CreateProject(ctx context.Context, workspaceID int, name, description string) (
	ProjectInfo, error) {

	var info ProjectInfo
	err := c.postJSON(ctx, "projects.add", map[string]interface{}{
		"workspaceId":          workspaceID,
		"name":                 name,
		"description":          description,
		"type":                 "images",
		"changeNameIfConflict": true,
	}, &info)
	return info, err
}

// UpdateProjectMeta implements API.
func (c *HTTPClient) UpdateProjectMeta(ctx context.Context, projectID int, meta ProjectMeta) error {
	return c.postJSON(ctx, "projects.meta.update", map[string]interface{}{
		"id":   projectID,
		"meta": meta,
	}, nil)
}

// CreateDataset implements API.
func (c *HTTPClient) CreateDataset(ctx context.Context, projectID int, name string) (
	DatasetInfo, error) {

	var info DatasetInfo
	err := c.postJSON(ctx, "datasets.add", map[string]interface{}{
		"projectId":            projectID,
		"name":                 name,
		"description":          "",
		"changeNameIfConflict": true,
	}, &info)
	return info, err
}

// UploadImages implements API. Image contents are addressed by hash; contents already known to
// the server are not sent again.
func (c *HTTPClient) UploadImages(ctx context.Context, datasetID int, names, paths []string) (
	[]ImageInfo, error) {

	if len(names) != len(paths) {
		return nil, fmt.Errorf("got %d names for %d paths", len(names), len(paths))
	}

	// Hash the contents.
	hashes := make([]string, len(paths))
	contents := make(map[string][]byte, len(paths))
	for i, path := range paths {
		data, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the image %q: %w", path, err)
		}
		hashes[i] = contentHash(data)
		contents[hashes[i]] = data
	}

	// Upload the contents the server does not have yet.
	var known []string
	if err := c.postJSON(ctx, "images.internal.hashes.list", hashes, &known); err != nil {
		return nil, err
	}
	for _, h := range known {
		delete(contents, h)
	}
	if len(contents) > 0 {
		if err := c.uploadContents(ctx, contents, hashes, paths); err != nil {
			return nil, err
		}
	}

	// Create the images from the hashes.
	type image struct {
		Title string `json:"title"`
		Hash  string `json:"hash"`
	}
	images := make([]image, len(names))
	for i, name := range names {
		images[i] = image{Title: name, Hash: hashes[i]}
	}
	var infos []ImageInfo
	err := c.postJSON(ctx, "images.bulk.add", map[string]interface{}{
		"datasetId": datasetID,
		"images":    images,
	}, &infos)
	if err != nil {
		return nil, err
	}
	if len(infos) != len(names) {
		return nil, fmt.Errorf("images.bulk.add returned %d infos for %d images",
			len(infos), len(names))
	}

	return infos, nil
}

// UploadAnnotations implements API.
func (c *HTTPClient) UploadAnnotations(ctx context.Context, datasetID int, imageIDs []int,
	anns []Annotation) error {

	if len(imageIDs) != len(anns) {
		return fmt.Errorf("got %d annotations for %d images", len(anns), len(imageIDs))
	}

	type entry struct {
		ImageID    int        `json:"imageId"`
		Annotation Annotation `json:"annotation"`
	}
	entries := make([]entry, len(anns))
	for i := range anns {
		entries[i] = entry{ImageID: imageIDs[i], Annotation: anns[i]}
	}

	return c.postJSON(ctx, "annotations.bulk.add", map[string]interface{}{
		"datasetId":   datasetID,
		"annotations": entries,
	}, nil)
}

// uploadContents sends the image contents as a multipart body, one part per hash.
func (c *HTTPClient) uploadContents(ctx context.Context, contents map[string][]byte,
	hashes, paths []string) error {

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for i, h := range hashes {
		data, ok := contents[h]
		if !ok {
			continue
		}
		delete(contents, h) // Duplicates within the batch are sent once.

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, h))
		header.Set("Content-Type", imageContentType(paths[i]))
		part, err := w.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	_, err := c.do(ctx, "images.bulk.upload", w.FormDataContentType(), body.Bytes())
	return err
}

// postJSON posts in as JSON to the API method and decodes the response into out, unless out is
// nil.
func (c *HTTPClient) postJSON(ctx context.Context, method string, in, out interface{}) error {
	enc, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	resp, err := c.do(ctx, method, "application/json", enc)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("%s: failed to decode the response: %w", method, err)
	}
	return nil
}

// do sends a POST request to the API method and returns the response body.
func (c *HTTPClient) do(ctx context.Context, method, contentType string, body []byte) (
	[]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.address + apiPath + method)
	req.Header.SetMethod("POST")
	req.Header.SetContentType(contentType)
	req.Header.Set("x-api-key", c.token)
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	// The response is released on return, so copy the body.
	respBody := append([]byte(nil), resp.Body()...)
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, &APIError{Method: method, Status: status, Body: string(respBody)}
	}
	return respBody, nil
}

// contentHash returns the base64 encoded SHA-256 of data.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// imageContentType guesses the MIME type from the file extension.
func imageContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
