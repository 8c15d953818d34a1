package docset

import "fmt"

// BoxMap is the side table produced by StripBoxes: bounding boxes
// keyed by the path of the object that carried them. Paths join map
// keys with "." and list indices with "[i]".
type BoxMap map[string]any

const boxKey = "bounding_box"

// StripBoxes walks the tree depth-first, removes every "bounding_box"
// entry in place, and records it in the returned BoxMap under the
// owning object's path. Geometry would otherwise leak into LLM prompts
// built from the serialized tree.
func StripBoxes(tree any) BoxMap {
	boxes := BoxMap{}
	stripWalk(tree, "", boxes)
	return boxes
}

func stripWalk(node any, path string, boxes BoxMap) {
	switch n := node.(type) {
	case map[string]any:
		if box, ok := n[boxKey]; ok {
			boxes[path] = box
			delete(n, boxKey)
		}
		for key, child := range n {
			stripWalk(child, joinPath(path, key), boxes)
		}
	case []any:
		for i, child := range n {
			stripWalk(child, fmt.Sprintf("%s[%d]", path, i), boxes)
		}
	}
}

// RestoreBoxes re-inserts every recorded bounding box at its original
// path. Paths that no longer exist (the field was removed by owner
// reconciliation, or an analysis pass dropped it) are skipped without
// error. Idempotent for a BoxMap produced by the matching StripBoxes.
func RestoreBoxes(tree any, boxes BoxMap) {
	restoreWalk(tree, "", boxes)
}

func restoreWalk(node any, path string, boxes BoxMap) {
	switch n := node.(type) {
	case map[string]any:
		if box, ok := boxes[path]; ok {
			n[boxKey] = box
		}
		for key, child := range n {
			if key == boxKey {
				continue
			}
			restoreWalk(child, joinPath(path, key), boxes)
		}
	case []any:
		for i, child := range n {
			restoreWalk(child, fmt.Sprintf("%s[%d]", path, i), boxes)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
