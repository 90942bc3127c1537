// Package reconcile decides which local images still need a Label Studio task.
//
// The decision itself is pure: Reconcile compares a local inventory with the
// filenames already present in the project. Collect gathers that remote set
// and refuses to hand back a partial or empty view when listing fails, since
// an empty set would re-upload every image.
//
// Matching is exact and case-sensitive on the final path element of each
// task's image reference. Two concurrent runs against one project can still
// create duplicate tasks; the remote system owns task identity.
package reconcile

import (
	"net/url"
	"path"
	"strings"

	"labelloop/internal/imageset"
	"labelloop/internal/services/labelstudio"
)

// FilenameSet is a set of image filenames.
type FilenameSet map[string]struct{}

// Contains reports whether name is in the set.
func (s FilenameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Plan is the outcome of a reconciliation. Every distinct local image lands in
// exactly one of ToUpload or Skipped; Duplicates holds later local entries
// that repeated an earlier filename.
type Plan struct {
	ToUpload   []imageset.ImageAsset
	Skipped    []imageset.ImageAsset
	Duplicates []imageset.ImageAsset
}

// Reconcile splits local images into those to upload and those already
// present remotely. With force set every image is uploaded. Input order is
// preserved and the first occurrence of a filename wins.
func Reconcile(local []imageset.ImageAsset, remote FilenameSet, force bool) Plan {
	plan := Plan{
		ToUpload: make([]imageset.ImageAsset, 0, len(local)),
		Skipped:  []imageset.ImageAsset{},
	}
	seen := make(map[string]struct{}, len(local))
	for _, asset := range local {
		if _, dup := seen[asset.Filename]; dup {
			plan.Duplicates = append(plan.Duplicates, asset)
			continue
		}
		seen[asset.Filename] = struct{}{}
		if !force && remote.Contains(asset.Filename) {
			plan.Skipped = append(plan.Skipped, asset)
			continue
		}
		plan.ToUpload = append(plan.ToUpload, asset)
	}
	return plan
}

// RemoteFilenames extracts the filename of every task's image reference.
// Tasks without an image reference are ignored.
func RemoteFilenames(tasks []labelstudio.Task) FilenameSet {
	set := make(FilenameSet, len(tasks))
	for _, task := range tasks {
		if name := FilenameFromRef(task.ImageRef()); name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// FilenameFromRef returns the final path element of a task image reference.
// It understands plain paths, absolute URLs, and the local-files form
// "/data/local-files/?d=images/a.jpg", and undoes URL escaping.
func FilenameFromRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	target := ref
	parsed, err := url.Parse(ref)
	switch {
	case err == nil && (parsed.Scheme == "" || parsed.Scheme == "http" || parsed.Scheme == "https"):
		if d := parsed.Query().Get("d"); d != "" {
			target = d
		} else {
			target = parsed.Path
		}
	default:
		if idx := strings.LastIndex(ref, "d="); idx >= 0 {
			target = ref[idx+2:]
		}
		if unescaped, err := url.PathUnescape(target); err == nil {
			target = unescaped
		}
	}

	target = strings.ReplaceAll(target, "\\", "/")
	target = strings.TrimRight(target, "/")
	if target == "" {
		return ""
	}
	name := path.Base(target)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
