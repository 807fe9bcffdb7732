// Package textmerge implements a three-way line-level text merge:
// Myers diff against a common base for each side, chunk alignment, and
// conflict markers where both sides changed the same region
// differently. Binary content is rejected outright rather than merged
// (spec §4.5.1, original_source/nodlehs/merge.py's MergeBinaryError).
package textmerge

import (
	"bytes"
	"strings"

	"github.com/boxfs/boxfs/pkg/boxerr"
)

// Merge performs a three-way merge of local and incoming against base.
// On success with no conflicts, merged holds the combined content and
// err is nil. If one or more regions conflict, err is a
// *boxerr.MergeConflictError whose Merged field holds the content with
// "<<<<<<< local" / "=======" / ">>>>>>> incoming" markers inserted; the
// caller decides whether to keep that content or store base/incoming as
// conflict siblings instead (spec §4.5.1). If any of the three inputs
// looks binary, err is boxerr.ErrMergeBinary and merged is nil.
func Merge(base, local, incoming []byte) (merged []byte, err error) {
	if looksBinary(base) || looksBinary(local) || looksBinary(incoming) {
		return nil, boxerr.ErrMergeBinary
	}

	baseLines := splitLines(string(base))
	localLines := splitLines(string(local))
	incomingLines := splitLines(string(incoming))

	localChunks := buildChunks(baseLines, localLines)
	incomingChunks := buildChunks(baseLines, incomingLines)

	out, conflicts := mergeChunks(baseLines, localChunks, incomingChunks)
	if conflicts > 0 {
		return nil, &boxerr.MergeConflictError{Count: conflicts, Merged: out}
	}
	return out, nil
}

// looksBinary applies git's heuristic: a NUL byte anywhere in the first
// 8000 bytes marks the content as binary.
func looksBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// chunk is a contiguous region relative to the base.
type chunk struct {
	baseStart, baseEnd int
	lines              []string
	changed            bool
}

func buildChunks(base, side []string) []chunk {
	ops := myersDiff(base, side)

	var chunks []chunk
	baseIdx := 0
	i := 0
	for i < len(ops) {
		op := ops[i]
		if op.Type == opEqual {
			chunks = append(chunks, chunk{baseStart: baseIdx, baseEnd: baseIdx + 1, lines: []string{op.Line}})
			baseIdx++
			i++
			continue
		}

		chunkStart := baseIdx
		var sideLines []string
		for i < len(ops) && ops[i].Type != opEqual {
			if ops[i].Type == opDelete {
				baseIdx++
			} else {
				sideLines = append(sideLines, ops[i].Line)
			}
			i++
		}
		chunks = append(chunks, chunk{baseStart: chunkStart, baseEnd: baseIdx, lines: sideLines, changed: true})
	}
	return chunks
}

// mergeChunks walks the local and incoming chunk sequences in parallel,
// aligned by base position, producing merged content and a conflict
// count.
func mergeChunks(baseLines []string, localChunks, incomingChunks []chunk) ([]byte, int) {
	var out bytes.Buffer
	conflicts := 0

	li, ii := 0, 0
	for li < len(localChunks) || ii < len(incomingChunks) {
		var lc, ic *chunk
		if li < len(localChunks) {
			lc = &localChunks[li]
		}
		if ii < len(incomingChunks) {
			ic = &incomingChunks[ii]
		}

		if lc == nil {
			writeLines(&out, ic.lines)
			ii++
			continue
		}
		if ic == nil {
			writeLines(&out, lc.lines)
			li++
			continue
		}

		if lc.baseStart == ic.baseStart && lc.baseEnd == ic.baseEnd {
			switch {
			case !lc.changed && !ic.changed:
				writeLines(&out, lc.lines)
			case lc.changed && !ic.changed:
				writeLines(&out, lc.lines)
			case !lc.changed && ic.changed:
				writeLines(&out, ic.lines)
			case linesEqual(lc.lines, ic.lines):
				writeLines(&out, lc.lines)
			default:
				conflicts++
				writeConflict(&out, lc.lines, ic.lines)
			}
			li++
			ii++
			continue
		}

		// Misaligned: one side's changed region spans multiple chunks
		// of the other. Gather every overlapping chunk on both sides.
		regionEnd := max(lc.baseEnd, ic.baseEnd)

		var localRegion []chunk
		for li < len(localChunks) && localChunks[li].baseStart < regionEnd {
			localRegion = append(localRegion, localChunks[li])
			if localChunks[li].baseEnd > regionEnd {
				regionEnd = localChunks[li].baseEnd
			}
			li++
		}
		var incomingRegion []chunk
		for ii < len(incomingChunks) && incomingChunks[ii].baseStart < regionEnd {
			incomingRegion = append(incomingRegion, incomingChunks[ii])
			if incomingChunks[ii].baseEnd > regionEnd {
				regionEnd = incomingChunks[ii].baseEnd
			}
			ii++
		}

		localOut := assembleRegion(localRegion)
		incomingOut := assembleRegion(incomingRegion)
		localChanged := anyChanged(localRegion)
		incomingChanged := anyChanged(incomingRegion)

		switch {
		case !localChanged && !incomingChanged:
			writeLines(&out, localOut)
		case localChanged && !incomingChanged:
			writeLines(&out, localOut)
		case !localChanged && incomingChanged:
			writeLines(&out, incomingOut)
		case linesEqual(localOut, incomingOut):
			writeLines(&out, localOut)
		default:
			conflicts++
			writeConflict(&out, localOut, incomingOut)
		}
	}

	return out.Bytes(), conflicts
}

func writeLines(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
}

func writeConflict(buf *bytes.Buffer, localLines, incomingLines []string) {
	buf.WriteString("<<<<<<< local\n")
	writeLines(buf, localLines)
	buf.WriteString("=======\n")
	writeLines(buf, incomingLines)
	buf.WriteString(">>>>>>> incoming\n")
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func assembleRegion(chunks []chunk) []string {
	var lines []string
	for _, c := range chunks {
		lines = append(lines, c.lines...)
	}
	return lines
}

func anyChanged(chunks []chunk) bool {
	for _, c := range chunks {
		if c.changed {
			return true
		}
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
