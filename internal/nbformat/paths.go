package nbformat

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultExtension is the infix that marks a synced pair: name.sync.py and
// name.sync.ipynb.
const DefaultExtension = "sync"

// ScriptSuffix returns ".<ext>.py".
func ScriptSuffix(ext string) string {
	return "." + ext + ".py"
}

// NotebookSuffix returns ".<ext>.ipynb".
func NotebookSuffix(ext string) string {
	return "." + ext + ".ipynb"
}

// IsScript reports whether path is the script half of a pair.
func IsScript(path, ext string) bool {
	return strings.HasSuffix(path, ScriptSuffix(ext))
}

// NotebookPath maps a script path to its notebook. Other paths are returned
// unchanged.
func NotebookPath(path, ext string) string {
	if IsScript(path, ext) {
		return strings.TrimSuffix(path, ScriptSuffix(ext)) + NotebookSuffix(ext)
	}
	return path
}

// ScriptPath maps a notebook path to its script. Other paths are returned
// unchanged.
func ScriptPath(path, ext string) string {
	if strings.HasSuffix(path, NotebookSuffix(ext)) {
		return strings.TrimSuffix(path, NotebookSuffix(ext)) + ScriptSuffix(ext)
	}
	return path
}

// SyncPaths returns both halves of the pair named base. base must not carry
// the .py, .ipynb or .<ext> suffix.
func SyncPaths(base, ext string) (script, nb string, err error) {
	for _, suffix := range []string{".py", ".ipynb", "." + ext} {
		if strings.HasSuffix(base, suffix) {
			return "", "", fmt.Errorf("base %q must not end with %q", base, suffix)
		}
	}
	return base + ScriptSuffix(ext), base + NotebookSuffix(ext), nil
}

// MakePair writes a starter script and the matching notebook for base. With
// force unset, existing files are left alone and an error is returned.
func MakePair(base, ext string, force bool) (script, nb string, err error) {
	script, nb, err = SyncPaths(base, ext)
	if err != nil {
		return "", "", err
	}

	if !force {
		for _, p := range []string{script, nb} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s already exists", p)
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", "", fmt.Errorf("failed to check %s: %w", p, err)
			}
		}
	}

	doc, err := ParsePercent(StarterScript)
	if err != nil {
		return "", "", err
	}
	if err := writeAtomic(script, []byte(StarterScript)); err != nil {
		return "", "", err
	}
	if err := WriteNotebook(nb, doc); err != nil {
		return "", "", err
	}
	return script, nb, nil
}
