package engine

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

const scriptSuffix = ".m"

type resolver struct {
	iface     string
	loc       Location
	tempRoot  string
	extracted *extractions
}

// resolve turns validated metadata into a descriptor. It never contacts the
// engine; by-path resolution touches the local filesystem only.
func (r *resolver) resolve(m Method) (Descriptor, error) {
	info := m.Info
	if info.Name != "" {
		if !validFunctionName(info.Name) {
			return Descriptor{}, r.fail(m, "function name is not a valid identifier", info.Name, "", nil)
		}
		return newDescriptor(m, info.Name, ""), nil
	}

	var requested, file string
	switch {
	case info.AbsolutePath != "":
		requested = info.AbsolutePath
		if !filepath.IsAbs(requested) {
			return Descriptor{}, r.fail(m, "absolute path is not absolute", requested, "", nil)
		}
		file = requested
	case r.loc.FS != nil:
		requested = info.RelativePath
		extracted, err := r.extractFromArchive(m, requested)
		if err != nil {
			return Descriptor{}, err
		}
		file = extracted
	default:
		requested = info.RelativePath
		dir := r.loc.Dir
		if dir == "" {
			exe, err := os.Executable()
			if err != nil {
				return Descriptor{}, r.fail(m, "unable to determine interface location", requested, "", err)
			}
			dir = filepath.Dir(exe)
		}
		file = filepath.Join(dir, filepath.FromSlash(requested))
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		return Descriptor{}, r.fail(m, "unable to resolve canonical path of script", requested, file, err)
	}
	st, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Descriptor{}, r.fail(m, "script file does not exist", requested, abs, nil)
	}
	if err != nil {
		return Descriptor{}, r.fail(m, "unable to stat script file", requested, abs, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Descriptor{}, r.fail(m, "unable to resolve canonical path of script", requested, abs, err)
	}
	if !st.Mode().IsRegular() {
		return Descriptor{}, r.fail(m, "script path is not a file", requested, canonical, nil)
	}
	base := filepath.Base(canonical)
	if !strings.HasSuffix(base, scriptSuffix) {
		return Descriptor{}, r.fail(m, "script file does not end in "+scriptSuffix, requested, canonical, nil)
	}
	name := strings.TrimSuffix(base, scriptSuffix)
	if !ValidIdentifier(name) {
		return Descriptor{}, r.fail(m, "script file name is not a valid function name", requested, canonical, nil)
	}
	return newDescriptor(m, name, filepath.Dir(canonical)), nil
}

func (r *resolver) extractFromArchive(m Method, rel string) (string, error) {
	entry := path.Clean(filepath.ToSlash(rel))
	if !fs.ValidPath(entry) {
		return "", r.fail(m, "relative path is not a valid archive path", rel, "", nil)
	}
	st, err := fs.Stat(r.loc.FS, entry)
	if err != nil {
		return "", r.fail(m, "unable to find script inside archive", rel, entry, err)
	}
	if !st.Mode().IsRegular() {
		return "", r.fail(m, "archive entry is not a file", rel, entry, nil)
	}
	base := path.Base(entry)
	if !strings.HasSuffix(base, scriptSuffix) {
		return "", r.fail(m, "script file does not end in "+scriptSuffix, rel, entry, nil)
	}
	name := strings.TrimSuffix(base, scriptSuffix)
	if !ValidIdentifier(name) {
		return "", r.fail(m, "script file name is not a valid function name", rel, entry, nil)
	}
	file, err := r.extracted.extract(r.loc.FS, entry, name, r.tempRoot)
	if err != nil {
		return "", r.fail(m, "unable to extract script from archive", rel, entry, err)
	}
	return file, nil
}

func (r *resolver) fail(m Method, reason, requested, resolved string, err error) error {
	return &LinkingError{
		Interface: r.iface,
		Method:    m.Name,
		Reason:    reason,
		Path:      requested,
		Resolved:  resolved,
		Err:       err,
	}
}

// ValidIdentifier reports whether name is a valid engine identifier: a
// letter followed by letters, digits or underscores.
func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if i == 0 && !unicode.IsLetter(c) {
			return false
		}
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
			return false
		}
	}
	return true
}

// validFunctionName accepts package-qualified names such as pkg.fn.
func validFunctionName(name string) bool {
	for _, part := range strings.Split(name, ".") {
		if !ValidIdentifier(part) {
			return false
		}
	}
	return true
}
