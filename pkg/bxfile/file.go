// Package bxfile implements the File object: a rope of content-defined
// blocks backed by a manifest blob, with lowest-modified-offset (LMO)
// tracking so a flush after a small edit near the end of a large file
// re-splits only the affected tail (spec §4.3).
package bxfile

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/boxfs/boxfs/pkg/objhash"
	"github.com/boxfs/boxfs/pkg/odb"
	"github.com/boxfs/boxfs/pkg/split"
)

// BlockRef is one entry of a file manifest: a block's length and the
// hash of the Blob object holding its bytes.
type BlockRef struct {
	Size int64        `json:"size"`
	Hash objhash.Hash `json:"hash"`
}

// Manifest is the serialized form of a File's block list.
type Manifest struct {
	Blocks []BlockRef `json:"blocks"`
}

// MarshalManifest encodes a Manifest as JSON, matching the document
// shape original_source's storage format uses for a file's block list.
func MarshalManifest(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalManifest decodes a Manifest from JSON.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bxfile: unmarshal manifest: %w", err)
	}
	return &m, nil
}

// segment is one piece of the file's rope: either backed by a stored
// block (Hash set, Data lazily loaded) or dirty in-memory content not
// yet assigned a hash (Hash is objhash.Zero).
type segment struct {
	size int64
	hash objhash.Hash
	data []byte // populated for dirty segments; lazily cached for stored ones
}

// noLMO marks "no pending write since the last flush."
const noLMO int64 = -1

// File is the in-memory, mutable rope view of a file's content.
type File struct {
	store    *odb.Store
	segments []*segment
	lmo      int64
	pos      int64
	mtime    time.Time
}

// New constructs an empty File.
func New(store *odb.Store) *File {
	return &File{store: store, lmo: noLMO, mtime: time.Now()}
}

// Open reconstructs a File's rope from a previously stored manifest.
func Open(store *odb.Store, m *Manifest) *File {
	f := &File{store: store, lmo: noLMO, mtime: time.Now()}
	for _, b := range m.Blocks {
		f.segments = append(f.segments, &segment{size: b.Size, hash: b.Hash})
	}
	return f
}

// Len returns the file's current logical length.
func (f *File) Len() int64 {
	var n int64
	for _, s := range f.segments {
		n += s.size
	}
	return n
}

// Mtime returns the time of the file's last write or truncate.
func (f *File) Mtime() time.Time { return f.mtime }

// Seek positions subsequent Read/Write calls at offset.
func (f *File) Seek(offset int64) { f.pos = offset }

// Tell returns the current read/write position.
func (f *File) Tell() int64 { return f.pos }

// loadSegment returns a segment's bytes, fetching the backing blob on
// first access and caching the result.
func (f *File) loadSegment(s *segment) ([]byte, error) {
	if s.data != nil {
		return s.data, nil
	}
	blob, err := f.store.GetBlob(s.hash)
	if err != nil {
		return nil, fmt.Errorf("bxfile: load block %s: %w", s.hash, err)
	}
	s.data = blob.Data
	return s.data, nil
}

// locate finds the segment index and that segment's starting offset
// for a given file offset. An offset equal to the file length yields
// (len(segments), file length).
func (f *File) locate(offset int64) (idx int, segStart int64) {
	var start int64
	for i, s := range f.segments {
		if offset < start+s.size {
			return i, start
		}
		start += s.size
	}
	return len(f.segments), start
}

// splitAt ensures a segment boundary exists exactly at offset, by
// materializing and splitting the segment straddling it, if any.
// offset must be <= file length.
func (f *File) splitAt(offset int64) error {
	idx, segStart := f.locate(offset)
	if idx >= len(f.segments) || offset == segStart {
		return nil // already a boundary (or past the end)
	}
	s := f.segments[idx]
	data, err := f.loadSegment(s)
	if err != nil {
		return err
	}
	cut := offset - segStart
	left := &segment{size: cut, data: append([]byte(nil), data[:cut]...)}
	right := &segment{size: s.size - cut, data: append([]byte(nil), data[cut:]...)}
	f.segments = append(f.segments[:idx], append([]*segment{left, right}, f.segments[idx+1:]...)...)
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// touch records that content at offset has changed since the last
// flush.
func (f *File) touch(offset int64) {
	if f.lmo == noLMO || offset < f.lmo {
		f.lmo = offset
	}
}

// Read copies up to len(p) bytes starting at the current position and
// advances it, in the style of io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.pos >= f.Len() {
		return 0, io.EOF
	}
	var n int
	idx, segStart := f.locate(f.pos)
	offsetInSeg := f.pos - segStart
	for idx < len(f.segments) && n < len(p) {
		s := f.segments[idx]
		data, err := f.loadSegment(s)
		if err != nil {
			return n, err
		}
		k := copy(p[n:], data[offsetInSeg:])
		n += k
		f.pos += int64(k)
		offsetInSeg = 0
		idx++
	}
	return n, nil
}

// Write overwrites bytes starting at the current position, extending
// the file (zero-padding any gap) if the write starts past the current
// end, and advances the position by len(data).
func (f *File) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	length := f.Len()
	if f.pos > length {
		if err := f.appendZeros(f.pos - length); err != nil {
			return 0, err
		}
	}

	start := f.pos
	end := start + int64(len(data))
	if err := f.splitAt(start); err != nil {
		return 0, err
	}
	if end <= f.Len() {
		if err := f.splitAt(end); err != nil {
			return 0, err
		}
	}

	startIdx, _ := f.locate(start)
	endIdx := startIdx
	var consumed int64
	for endIdx < len(f.segments) && consumed < int64(len(data)) {
		consumed += f.segments[endIdx].size
		endIdx++
	}

	newSeg := &segment{size: int64(len(data)), data: append([]byte(nil), data...)}
	tail := append([]*segment{}, f.segments[endIdx:]...)
	f.segments = append(append(f.segments[:startIdx], newSeg), tail...)

	f.touch(start)
	f.pos = end
	f.mtime = time.Now()
	return len(data), nil
}

func (f *File) appendZeros(n int64) error {
	if n <= 0 {
		return nil
	}
	f.segments = append(f.segments, &segment{size: n, data: make([]byte, n)})
	return nil
}

// Truncate drops content beyond size (or zero-pads up to it) and marks
// the new boundary as modified.
func (f *File) Truncate(size int64) error {
	length := f.Len()
	if size < length {
		if err := f.splitAt(size); err != nil {
			return err
		}
		idx, _ := f.locate(size)
		f.segments = f.segments[:idx]
	} else if size > length {
		if err := f.appendZeros(size - length); err != nil {
			return err
		}
	}
	f.touch(min64(size, length))
	f.mtime = time.Now()
	return nil
}

// Flush re-splits the rope from the block containing the lowest
// modified offset through the end, stores the resulting blocks, tags
// each under refs/blobs/<hash> for reachability, and returns the
// resulting manifest along with the hash of the manifest blob that was
// written to the store. A File with no pending writes is a no-op that
// still returns its current manifest.
func (f *File) Flush() (objhash.Hash, *Manifest, error) {
	if f.lmo != noLMO {
		keepIdx, _ := f.locate(f.lmo)
		// Writes split a stored block at the write offset, leaving an
		// unhashed left piece; step back over such pieces so the re-split
		// starts at the beginning of the block that contained the LMO.
		for keepIdx > 0 && f.segments[keepIdx-1].hash.IsZero() {
			keepIdx--
		}
		keep := f.segments[:keepIdx]

		var tail []byte
		for _, s := range f.segments[keepIdx:] {
			data, err := f.loadSegment(s)
			if err != nil {
				return objhash.Zero, nil, err
			}
			tail = append(tail, data...)
		}

		var resplit []*segment
		for _, blk := range split.SplitBytes(tail) {
			h, err := f.store.PutBlob(&odb.Blob{Data: blk.Data})
			if err != nil {
				return objhash.Zero, nil, fmt.Errorf("bxfile: flush: store block: %w", err)
			}
			if err := f.store.Refs().Set("blobs/"+h.String(), h); err != nil {
				return objhash.Zero, nil, fmt.Errorf("bxfile: flush: tag block: %w", err)
			}
			resplit = append(resplit, &segment{size: int64(len(blk.Data)), hash: h, data: blk.Data})
		}
		f.segments = append(append([]*segment{}, keep...), resplit...)
		f.lmo = noLMO
	}

	m := &Manifest{}
	for _, s := range f.segments {
		m.Blocks = append(m.Blocks, BlockRef{Size: s.size, Hash: s.hash})
	}
	raw, err := MarshalManifest(m)
	if err != nil {
		return objhash.Zero, nil, err
	}
	mh, err := f.store.PutBlob(&odb.Blob{Data: raw})
	if err != nil {
		return objhash.Zero, nil, fmt.Errorf("bxfile: flush: store manifest: %w", err)
	}
	return mh, m, nil
}

// BlockHashes returns the hash of each stored segment in order, or the
// zero hash for a segment that has never been flushed. Tests use this
// to check which prefix of blocks a Flush left untouched.
func (f *File) BlockHashes() []objhash.Hash {
	out := make([]objhash.Hash, len(f.segments))
	for i, s := range f.segments {
		out[i] = s.hash
	}
	return out
}
