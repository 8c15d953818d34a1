package docset

import "strings"

// NoticeGroup is the output of one validation pass: a sparse
// DocumentSet-shaped tree carrying notice/solution entries only for
// the fields that pass inspected. Groups are merged into the base tree
// by MergeNoticeGroups and never persisted on their own.
type NoticeGroup map[string]any

func NewNoticeGroup() NoticeGroup {
	return NoticeGroup{}
}

// Annotate records one notice/solution pair at doc/page/field.
func (g NoticeGroup) Annotate(doc DocType, pageKey, fieldKey, notice, solution string) {
	section, _ := g[string(doc)].(map[string]any)
	if section == nil {
		section = map[string]any{}
		g[string(doc)] = section
	}
	page, _ := section[pageKey].(map[string]any)
	if page == nil {
		page = map[string]any{}
		section[pageKey] = page
	}
	page[fieldKey] = map[string]any{
		"notice":   notice,
		"solution": solution,
	}
}

// Lookup returns the notice/solution recorded for one field, with
// ok=false when the group never touched it.
func (g NoticeGroup) Lookup(doc DocType, pageKey, fieldKey string) (notice, solution string, ok bool) {
	f := g.field(string(doc), pageKey, fieldKey)
	if f == nil {
		return "", "", false
	}
	notice, _ = f["notice"].(string)
	solution, _ = f["solution"].(string)
	return notice, solution, true
}

func (g NoticeGroup) field(sectionKey, pageKey, fieldKey string) map[string]any {
	section, ok := g[sectionKey].(map[string]any)
	if !ok {
		return nil
	}
	page, ok := section[pageKey].(map[string]any)
	if !ok {
		return nil
	}
	f, _ := page[fieldKey].(map[string]any)
	return f
}

// MergeNoticeGroups folds the ordered notice groups into the base
// tree. For every field of the base tree it accumulates each group's
// notice (and solution) at the same path, deduplicated by exact string
// in first-seen order, and writes the "; "-joined result onto the
// field. A scalar base value that attracts annotations is promoted to
// {text, notice, solution}. Mutates base in place and returns it.
func MergeNoticeGroups(base map[string]any, groups []NoticeGroup) map[string]any {
	for sectionKey, sectionVal := range base {
		section, ok := sectionVal.(map[string]any)
		if !ok {
			continue
		}
		for pageKey, pageVal := range section {
			page, ok := pageVal.(map[string]any)
			if !ok {
				continue
			}
			for fieldKey, fieldVal := range page {
				var notices, solutions []string
				for _, g := range groups {
					f := g.field(sectionKey, pageKey, fieldKey)
					if f == nil {
						continue
					}
					if n, ok := f["notice"].(string); ok {
						notices = appendDistinct(notices, n)
					}
					if s, ok := f["solution"].(string); ok {
						solutions = appendDistinct(solutions, s)
					}
				}
				if len(notices) == 0 && len(solutions) == 0 {
					continue
				}
				field, ok := fieldVal.(map[string]any)
				if !ok {
					field = map[string]any{"text": fieldVal}
					page[fieldKey] = field
				}
				if len(notices) > 0 {
					field["notice"] = joinAnnotations(notices)
				}
				if len(solutions) > 0 {
					field["solution"] = joinAnnotations(solutions)
				}
			}
		}
	}
	return base
}

// joinAnnotations joins the accumulated entries with "; ". An empty
// string means a pass inspected the field and found nothing, so empty
// entries are dropped from the join but still collapse to "" (checked,
// clean) when they are all the field received.
func joinAnnotations(list []string) string {
	var kept []string
	for _, v := range list {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, "; ")
}

func appendDistinct(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
