package settings

import (
	"strconv"
	"strings"
)

// A setting path addresses a location inside a manager's subtree: dot
// separated map keys with optional [index] suffixes for list elements,
// e.g. "motors[0].wheel_diameter_mm". A dotted segment must resolve
// through a map and a bracketed segment through a list; mismatched use is
// a path error, never a silent no-op.

type pathStep struct {
	key     string
	index   int
	indexed bool
}

func parsePath(path string) ([]pathStep, error) {
	if path == "" {
		return nil, pathErrorf(path, "empty path")
	}

	segments := strings.Split(path, ".")
	steps := make([]pathStep, 0, len(segments))

	for _, seg := range segments {
		if seg == "" {
			return nil, pathErrorf(path, "empty segment")
		}

		step := pathStep{key: seg}
		if open := strings.IndexByte(seg, '['); open >= 0 {
			if !strings.HasSuffix(seg, "]") {
				return nil, pathErrorf(path, "malformed index in segment %q", seg)
			}
			idxText := seg[open+1 : len(seg)-1]
			idx, err := strconv.Atoi(idxText)
			if err != nil || idx < 0 {
				return nil, pathErrorf(path, "bad index %q in segment %q", idxText, seg)
			}
			step.key = seg[:open]
			step.index = idx
			step.indexed = true
			if step.key == "" {
				return nil, pathErrorf(path, "missing key before index in segment %q", seg)
			}
		}
		if strings.ContainsAny(step.key, "[]") {
			return nil, pathErrorf(path, "malformed segment %q", seg)
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// walkStep descends one parsed step from node.
func walkStep(node Value, step pathStep, path string) (Value, error) {
	if node.Kind() != KindMap {
		return Value{}, pathErrorf(path, "cannot use key %q on %s", step.key, node.Kind())
	}
	child, ok := node.Key(step.key)
	if !ok {
		return Value{}, pathErrorf(path, "key %q not found", step.key)
	}
	if step.indexed {
		if child.Kind() != KindList {
			return Value{}, pathErrorf(path, "%q is not a list but index was used", step.key)
		}
		item, ok := child.Index(step.index)
		if !ok {
			return Value{}, pathErrorf(path, "index %d out of range for list %q", step.index, step.key)
		}
		return item, nil
	}
	return child, nil
}

// resolvePath walks root (a map value) along path and returns the value at
// the addressed location.
func resolvePath(root Value, path string) (Value, error) {
	steps, err := parsePath(path)
	if err != nil {
		return Value{}, err
	}

	node := root
	for _, step := range steps {
		node, err = walkStep(node, step, path)
		if err != nil {
			return Value{}, err
		}
	}
	return node, nil
}

// applyPath writes v at the location addressed by path, returning the value
// it replaced. It never creates keys or extends lists: the location must
// already exist. Because map and list payloads are shared references, the
// write is visible through root.
func applyPath(root Value, path string, v Value) (Value, error) {
	steps, err := parsePath(path)
	if err != nil {
		return Value{}, err
	}

	node := root
	for _, step := range steps[:len(steps)-1] {
		node, err = walkStep(node, step, path)
		if err != nil {
			return Value{}, err
		}
	}

	final := steps[len(steps)-1]
	if node.Kind() != KindMap {
		return Value{}, pathErrorf(path, "cannot use key %q on %s", final.key, node.Kind())
	}
	container, ok := node.Key(final.key)
	if !ok {
		return Value{}, pathErrorf(path, "key %q not found", final.key)
	}

	if !final.indexed {
		node.m[final.key] = v
		return container, nil
	}

	if container.Kind() != KindList {
		return Value{}, pathErrorf(path, "cannot index into non-list %q", final.key)
	}
	old, ok := container.Index(final.index)
	if !ok {
		return Value{}, pathErrorf(path, "index %d out of range for list %q", final.index, final.key)
	}
	container.list[final.index] = v
	return old, nil
}
