// Package docgen fills {{MARCADOR}} placeholders in report templates.
// The docx path rewrites word/document.xml (plus headers and footers)
// inside the zip; the text path is a plain substitution for templates
// stored in the database.
package docgen

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
)

var markerRe = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// RenderResult reports what a substitution pass did. Unresolved markers
// are blanked in the output and listed here.
type RenderResult struct {
	Replaced   int      `json:"replaced"`
	Unresolved []string `json:"unresolved,omitempty"`
}

func (r *RenderResult) noteUnresolved(name string) {
	for _, u := range r.Unresolved {
		if u == name {
			return
		}
	}
	r.Unresolved = append(r.Unresolved, name)
}

func (r *RenderResult) sortUnresolved() {
	sort.Strings(r.Unresolved)
}

// RenderText substitutes markers in a plain or markdown template.
func RenderText(content string, values map[string]string) (string, *RenderResult) {
	res := &RenderResult{}
	out := markerRe.ReplaceAllStringFunc(content, func(m string) string {
		name := m[2 : len(m)-2]
		value, ok := values[name]
		if !ok {
			res.noteUnresolved(name)
			return ""
		}
		res.Replaced++
		return value
	})
	res.sortUnresolved()
	return out, res
}

var xmlValueEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// textSegment is a run of visible text inside a <w:t> element,
// addressed by byte offsets into the raw XML.
type textSegment struct {
	start, end int
}

// wordTextSegments locates every <w:t> text run. Word splits visible
// text into runs at arbitrary points, so a marker may well start in one
// segment and end in another.
func wordTextSegments(xml []byte) []textSegment {
	var segs []textSegment
	i := 0
	for {
		j := indexFrom(xml, "<w:t", i)
		if j < 0 {
			break
		}
		after := j + 4
		if after >= len(xml) {
			break
		}
		// reject <w:tab/>, <w:tc>, <w:tbl> and friends
		if c := xml[after]; c != '>' && c != ' ' && c != '/' {
			i = after
			continue
		}
		gt := indexFrom(xml, ">", after)
		if gt < 0 {
			break
		}
		if xml[gt-1] == '/' {
			i = gt + 1
			continue
		}
		end := indexFrom(xml, "</w:t>", gt+1)
		if end < 0 {
			break
		}
		segs = append(segs, textSegment{start: gt + 1, end: end})
		i = end + 6
	}
	return segs
}

func indexFrom(b []byte, sub string, from int) int {
	if from >= len(b) {
		return -1
	}
	idx := bytes.Index(b[from:], []byte(sub))
	if idx < 0 {
		return -1
	}
	return from + idx
}

type segmentEdit struct {
	localStart  int
	localEnd    int
	replacement string
}

// substituteXML replaces markers across the logical text of the
// document: segments are concatenated, markers located in that joined
// view, then each edit is mapped back to the segment(s) it covers. The
// value lands in the first covered segment; trailing marker fragments
// in later segments are deleted.
func substituteXML(xml []byte, values map[string]string, res *RenderResult) []byte {
	segs := wordTextSegments(xml)
	if len(segs) == 0 {
		return xml
	}
	offsets := make([]int, len(segs)+1)
	var logical strings.Builder
	for i, seg := range segs {
		offsets[i] = logical.Len()
		logical.Write(xml[seg.start:seg.end])
	}
	offsets[len(segs)] = logical.Len()
	text := logical.String()

	matches := markerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return xml
	}

	edits := make([][]segmentEdit, len(segs))
	for _, m := range matches {
		start, end := m[0], m[1]
		name := text[m[2]:m[3]]
		value, ok := values[name]
		if !ok {
			res.noteUnresolved(name)
			value = ""
		} else {
			res.Replaced++
		}
		first := true
		for i, seg := range segs {
			segLen := seg.end - seg.start
			lo, hi := offsets[i], offsets[i]+segLen
			if hi <= start || lo >= end {
				continue
			}
			edit := segmentEdit{
				localStart: max(start-lo, 0),
				localEnd:   min(end-lo, segLen),
			}
			if first {
				edit.replacement = xmlValueEscaper.Replace(value)
				first = false
			}
			edits[i] = append(edits[i], edit)
		}
	}

	var out []byte
	prev := 0
	for i, seg := range segs {
		out = append(out, xml[prev:seg.start]...)
		segText := xml[seg.start:seg.end]
		if len(edits[i]) == 0 {
			out = append(out, segText...)
		} else {
			cursor := 0
			for _, e := range edits[i] {
				out = append(out, segText[cursor:e.localStart]...)
				out = append(out, e.replacement...)
				cursor = e.localEnd
			}
			out = append(out, segText[cursor:]...)
		}
		prev = seg.end
	}
	out = append(out, xml[prev:]...)
	return out
}
