package slyconv

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// filesInDir returns the names of all regular files, and symlinks to regular files, found directly
// in directory dirPath, sorted by name.
func filesInDir(dirPath string) (names []string, err error) {
	// Open the directory.
	dirInfo, err := os.Stat(dirPath)
	if err != nil || !dirInfo.IsDir() {
		return nil, fmt.Errorf("cannot read directory %q: %v", dirPath, err)
	}
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access %q: %w", dirPath, err)
	}
	defer closeWithErrCheck(dir, &err)

	// Iterate over all files in dir.
	names = make([]string, 0, 100)
	var fileList []os.FileInfo
	for fileList, err = dir.Readdir(100); len(fileList) > 0; fileList, err = dir.Readdir(100) {
		for _, file := range fileList {
			// Must be a regular file or a symlink to one.
			mode := file.Mode()
			if mode&os.ModeSymlink != 0 {
				target, statErr := os.Stat(filepath.Join(dirPath, file.Name()))
				if statErr != nil {
					log.Printf("Skipping %q: %v", file.Name(), statErr)
					continue
				}
				mode = target.Mode()
			}
			if !mode.IsRegular() {
				continue
			}
			names = append(names, file.Name())
		}
	}
	if err != nil && err != io.EOF {
		log.Printf("Failed to access some files in %q: %v", dirPath, err)
	}

	// The listing order depends on the file system.
	sort.Strings(names)

	return names, nil
}

// Batch splits names into consecutive batches of size elements. The last batch may be smaller.
func Batch(names []string, size int) [][]string {
	if size <= 0 {
		size = len(names)
	}
	if len(names) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(names)+size-1)/size)
	for start := 0; start < len(names); start += size {
		end := start + size
		if end > len(names) {
			end = len(names)
		}
		batches = append(batches, names[start:end:end])
	}
	return batches
}

// readFile uses ioutil.ReadAll to read the file at path.
func readFile(path string) (data []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeWithErrCheck(f, &err)

	data, err = ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
