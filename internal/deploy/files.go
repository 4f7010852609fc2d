package deploy

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var errOutsideRoot = errors.New("path resolves outside the deployment root")

// ErrPathNotAllowed is reported to callers whose local path does not resolve
// below the deploy root. The underlying cause is only logged.
var ErrPathNotAllowed = errors.New("local path is not a directory under the deploy root")

type localFile struct {
	// rel is slash separated and relative to the deployment root
	rel  string
	abs  string
	size int64
}

type walkFailure struct {
	rel    string
	reason string
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ResolveLocalRoot maps localRoot onto a real directory strictly below
// allowedRoot. Relative paths are taken relative to allowedRoot and symlinks
// are resolved before the containment check.
func ResolveLocalRoot(allowedRoot, localRoot string) (string, error) {
	if allowedRoot == "" {
		return "", errors.New("no deployment root configured")
	}
	base, err := realPath(allowedRoot)
	if err != nil {
		return "", err
	}
	candidate := localRoot
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	target, err := realPath(candidate)
	if err != nil {
		return "", err
	}
	if target == base || !within(base, target) {
		return "", errOutsideRoot
	}
	return target, nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// resolve returns the size of the regular file at abs. Symlinks are followed
// only when the target stays under realRoot and is not a directory.
func resolve(realRoot, abs string) (size int64, ok bool, err error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return 0, false, err
	}
	if info.Mode().IsRegular() {
		return info.Size(), true, nil
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return 0, false, nil
	}

	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return 0, false, err
	}
	if !within(realRoot, target) {
		return 0, false, errOutsideRoot
	}
	tinfo, err := os.Stat(target)
	if err != nil {
		return 0, false, err
	}
	if !tinfo.Mode().IsRegular() {
		return 0, false, nil
	}
	return tinfo.Size(), true, nil
}

// collectFiles walks root and returns every uploadable file sorted by relative path.
// Unreadable entries are reported as failures instead of aborting the walk.
func collectFiles(root string) ([]localFile, []walkFailure, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, nil, err
	}

	var files []localFile
	var failures []walkFailure
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			failures = append(failures, walkFailure{rel: rel, reason: walkErr.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		size, ok, err := resolve(realRoot, p)
		switch {
		case errors.Is(err, errOutsideRoot):
			return nil
		case err != nil:
			failures = append(failures, walkFailure{rel: rel, reason: err.Error()})
			return nil
		case !ok:
			return nil
		}
		files = append(files, localFile{rel: rel, abs: p, size: size})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, failures, nil
}

// selectFiles resolves an explicit list of relative paths under root.
func selectFiles(root string, relPaths []string) ([]localFile, []walkFailure, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(relPaths))
	var files []localFile
	var failures []walkFailure
	for _, raw := range relPaths {
		rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(strings.TrimLeft(raw, "/"))))
		if seen[rel] {
			continue
		}
		seen[rel] = true

		abs := filepath.Join(root, filepath.FromSlash(rel))
		if rel == "." || !within(root, abs) {
			failures = append(failures, walkFailure{rel: raw, reason: errOutsideRoot.Error()})
			continue
		}
		size, ok, err := resolve(realRoot, abs)
		if err != nil {
			failures = append(failures, walkFailure{rel: rel, reason: err.Error()})
			continue
		}
		if !ok {
			failures = append(failures, walkFailure{rel: rel, reason: "not a regular file"})
			continue
		}
		files = append(files, localFile{rel: rel, abs: abs, size: size})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, failures, nil
}
