// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Sanitize converts an archive entry name into a relative, slash-separated
// path that cannot escape the directory it is joined to.
//
// It performs the following transformations:
//   - Removes NUL bytes: "a\x00b" → "ab"
//   - Strips a drive letter: "C:\\dir\\f" → "dir/f"
//   - Treats backslashes as separators: "a\\b" → "a/b"
//   - Drops empty, "." and ".." segments: "/../../etc/passwd" → "etc/passwd"
//
// The result is empty when nothing usable remains; callers skip such entries.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	if len(name) >= 2 && name[1] == ':' && isDriveLetter(name[0]) {
		name = name[2:]
	}
	name = strings.ReplaceAll(name, `\`, "/")

	parts := strings.Split(name, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		result = append(result, part)
	}
	return strings.Join(result, "/")
}

// IsClean reports whether name is already in Sanitize form and non-empty.
func IsClean(name string) bool {
	return name != "" && Sanitize(name) == name
}

// Dir returns all but the last element of a slash-separated path.
// If path has no directory component, it returns "".
func Dir(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	// Remove trailing slash if present
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
