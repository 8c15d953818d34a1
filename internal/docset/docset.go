// Package docset holds the annotated-field data model shared by every
// stage of the lease-audit pipeline: a DocumentSet groups the three
// OCR'd source documents (lease contract, building registry, property
// registry), each a map of pages, each page a map of named fields
// carrying text, an optional bounding box, and optional notice/solution
// annotations.
package docset

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// AbsentText is the sentinel the OCR collaborator emits for a field it
// located but could not read a value for.
const AbsentText = "NA"

type DocType string

const (
	DocContract         DocType = "contract"
	DocBuildingRegistry DocType = "building_registry"
	DocRegistryDocument DocType = "registry_document"
)

func (d DocType) Valid() bool {
	switch d {
	case DocContract, DocBuildingRegistry, DocRegistryDocument:
		return true
	}
	return false
}

// BoundingBox locates a field's source text in the scanned page image,
// in pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// PageSize is the pixel dimensions of one scanned page image. Bounding
// boxes are meaningless to a renderer without them, so they travel
// with the OCR pages and the final analysis record.
type PageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Field is one annotated datum. Notice and Solution distinguish three
// states: nil means the field was never inspected, empty string means
// inspected and clean, non-empty carries the warning text.
type Field struct {
	Text        string       `json:"text"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
	Notice      *string      `json:"notice,omitempty"`
	Solution    *string      `json:"solution,omitempty"`
}

// HasValue reports whether the OCR actually read something for this
// field, treating the "NA" sentinel and blank text as absent.
func (f *Field) HasValue() bool {
	if f == nil {
		return false
	}
	t := strings.TrimSpace(f.Text)
	return t != "" && t != AbsentText
}

func (f *Field) Annotate(notice, solution string) {
	f.Notice = &notice
	f.Solution = &solution
}

type Page map[string]*Field

type Document map[string]Page

// DocumentSet is the unit passed through the whole pipeline. It is
// exclusively owned by one pipeline invocation and mutated in place.
type DocumentSet struct {
	Contract         Document `json:"contract"`
	BuildingRegistry Document `json:"building_registry"`
	RegistryDocument Document `json:"registry_document"`
}

func (ds *DocumentSet) Document(t DocType) Document {
	switch t {
	case DocContract:
		return ds.Contract
	case DocBuildingRegistry:
		return ds.BuildingRegistry
	case DocRegistryDocument:
		return ds.RegistryDocument
	}
	return nil
}

func (ds *DocumentSet) SetDocument(t DocType, doc Document) {
	switch t {
	case DocContract:
		ds.Contract = doc
	case DocBuildingRegistry:
		ds.BuildingRegistry = doc
	case DocRegistryDocument:
		ds.RegistryDocument = doc
	}
}

// Tree converts the set to the generic JSON shape consumed by the box
// codec, the notice merger, and LLM prompt serialization.
func (ds *DocumentSet) Tree() (map[string]any, error) {
	blob, err := json.Marshal(ds)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(blob, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func FromTree(tree map[string]any) (*DocumentSet, error) {
	blob, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var ds DocumentSet
	if err := json.Unmarshal(blob, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// CloneTree deep-copies a generic JSON tree. Validation passes annotate
// independent copies of the base tree so they can run in any order.
func CloneTree(tree map[string]any) map[string]any {
	out, _ := cloneValue(tree).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}

// SortedPageKeys returns page identifiers in canonical order (page1,
// page2, ...). Map iteration order is not deterministic, and the owner
// reconciliation tie-break depends on a stable encounter order.
func SortedPageKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, iOK := pageNumber(keys[i])
		nj, jOK := pageNumber(keys[j])
		if iOK && jOK && ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func SortedFieldKeys(page Page) []string {
	keys := make([]string, 0, len(page))
	for k := range page {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var pageKeyPattern = regexp.MustCompile(`^(?:page)?(\d+)(?:페이지)?$`)

// CanonicalPageKey normalizes the page identifier formats the OCR
// producers have historically emitted ("1", "page1", "1페이지") to the
// single internal convention "page1". It is applied at the OCR
// boundary so nothing downstream branches on the format.
func CanonicalPageKey(raw string) (string, bool) {
	m := pageKeyPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return "", false
	}
	return fmt.Sprintf("page%d", n), true
}

// PageNumber extracts the 1-based page number from a page key in any
// accepted spelling.
func PageNumber(key string) (int, bool) {
	return pageNumber(key)
}

func pageNumber(key string) (int, bool) {
	m := pageKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// CanonicalizeDocument rewrites every page key to the canonical form.
// Unknown formats are rejected rather than passed through, since a
// page key mismatch silently breaks cross-document lookups.
func CanonicalizeDocument(doc Document) (Document, error) {
	out := make(Document, len(doc))
	for raw, page := range doc {
		key, ok := CanonicalPageKey(raw)
		if !ok {
			return nil, fmt.Errorf("unrecognized page key %q", raw)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate page key %q after normalization", raw)
		}
		out[key] = page
	}
	return out, nil
}
