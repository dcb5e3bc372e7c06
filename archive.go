package slyconv

// Unpacking of downloaded dataset archives.

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// archiveExts are the recognised archive file extensions, longest first.
var archiveExts = []string{".tar.gz", ".tgz", ".tar", ".zip"}

// archiveName returns the file name at the end of a download URL.
func archiveName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "/" || name == "." {
		return u.Host
	}
	return name
}

// trimArchiveExt returns name without its archive extension, and whether it had one.
func trimArchiveExt(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)], true
		}
	}
	return name, false
}

// UnpackIfArchive unpacks the archive at archivePath into a directory next to it, named like the
// archive without its extension, and returns that directory.
//
// If the directory already exists the archive is assumed to be unpacked and is left alone. Paths
// that are not archives are returned unchanged.
func UnpackIfArchive(archivePath string) (string, error) {
	dir, ok := trimArchiveExt(archivePath)
	if !ok {
		return archivePath, nil
	}
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		log.Printf("Archive %q was already unpacked to %q, skipping", archivePath, dir)
		return dir, nil
	}

	log.Printf("Unpacking %q", archivePath)
	tmp := dir + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return "", err
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return "", err
	}

	var err error
	if strings.HasSuffix(strings.ToLower(archivePath), ".zip") {
		err = unzip(archivePath, tmp)
	} else {
		err = untar(archivePath, tmp)
	}
	if err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("failed to unpack %q: %w", archivePath, err)
	}

	// Only complete extractions get the final name, so a partial one is not mistaken for done.
	if err := os.Rename(tmp, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// StageArchives unpacks the archives named by the keys of urls that are present in dir. Archives
// that were not downloaded yet are logged with their source URL. It returns the unpacked
// directories in name order.
func StageArchives(dir string, urls map[string]string) ([]string, error) {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	var dirs []string
	for _, name := range names {
		if _, ok := trimArchiveExt(name); !ok {
			continue
		}
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			log.Printf("Archive %q not found, download it from %s", p, urls[name])
			continue
		}
		unpacked, err := UnpackIfArchive(p)
		if err != nil {
			return dirs, err
		}
		dirs = append(dirs, unpacked)
	}
	return dirs, nil
}

// safeJoin joins name to dir, rejecting names that escape dir.
func safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	if p != dir && !strings.HasPrefix(p, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path %q in archive", name)
	}
	return p, nil
}

func unzip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		p, err := safeJoin(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(p, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFileFrom(p, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untar(archivePath, dir string) (err error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	lower := strings.ToLower(archivePath)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".tgz") {
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return gzErr
		}
		defer closeWithErrCheck(gz, &err)
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		p, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(p, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFileFrom(p, tr); err != nil {
				return err
			}
		default:
			log.Printf("Skipping %q of unsupported type %c", hdr.Name, hdr.Typeflag)
		}
	}
}

// writeFileFrom creates the file at p, and its parent directories, with the contents of r.
func writeFileFrom(p string, r io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	out, err := os.Create(p)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	_, err = io.Copy(out, r)
	return err
}
