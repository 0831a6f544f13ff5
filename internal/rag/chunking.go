package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

var (
	sentenceRegex = regexp.MustCompile(`[.!?]+\s+`)
	headingRegex  = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	pageRegex     = regexp.MustCompile(`(?i)\[page\s+(\d+)\]`)
	tokenRegex    = regexp.MustCompile(`[\p{L}\p{N}]+|[^\s\p{L}\p{N}]`)
)

// blockKind enumerates the block types of spec §4.2 step 2.
type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockFencedCode
	blockListItem
	blockTable
)

// block is one segmented unit of a document prior to packing.
type block struct {
	kind        blockKind
	text        string
	headingText string // set when kind == blockHeading
	headingLvl  int
	page        int // 0 if none found in this block
}

// Chunker splits documents into Chunk records following the
// heading-aware, deterministic algorithm of spec §4.2.
type Chunker struct{}

// NewChunker creates a Chunker. It holds no state; the algorithm is
// pure given (doc_id, text, kind, cfg).
func NewChunker() *Chunker {
	return &Chunker{}
}

// ChunkConfig carries the subset of the Config snapshot the chunker
// needs; kept separate from config.Snapshot so this package does not
// import pkg/config.
type ChunkConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

const maxChunkBytesFactor = 8

// ChunkDocument implements spec §4.2 for markdown input.
func (c *Chunker) ChunkDocument(docID, text string, cfg ChunkConfig) ([]Chunk, error) {
	blocks := segmentMarkdown(text)
	return c.pack(docID, blocks, cfg)
}

// ChunkJSONBlocks implements spec §4.2's json-blocks path: pre-segmented
// blocks go straight to steps 3-7 (packing).
func (c *Chunker) ChunkJSONBlocks(docID string, blocks []JSONBlock, cfg ChunkConfig) ([]Chunk, error) {
	segs := make([]block, 0, len(blocks))
	for _, b := range blocks {
		txt := strings.TrimSpace(b.Text)
		if txt == "" {
			continue
		}
		if b.Heading != "" {
			segs = append(segs, block{kind: blockHeading, text: b.Heading, headingText: b.Heading, headingLvl: 1, page: b.PageNumber})
		}
		segs = append(segs, block{kind: blockParagraph, text: txt, page: b.PageNumber})
	}
	return c.pack(docID, segs, cfg)
}

// segmentMarkdown implements spec §4.2 step 2: scan text into blocks,
// recognizing headings, fenced code, tables, list items, and plain
// paragraphs, split on blank lines.
func segmentMarkdown(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var para []string
	var inFence bool
	var fenceLines []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if joined == "" {
			return
		}
		if isTableBlock(joined) {
			blocks = append(blocks, block{kind: blockTable, text: joined, page: firstPage(joined)})
			return
		}
		kind := blockParagraph
		if isListItem(joined) {
			kind = blockListItem
		}
		blocks = append(blocks, block{kind: kind, text: joined, page: firstPage(joined)})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				fenceLines = append(fenceLines, line)
				blocks = append(blocks, block{kind: blockFencedCode, text: strings.Join(fenceLines, "\n"), page: firstPage(strings.Join(fenceLines, "\n"))})
				fenceLines = nil
				inFence = false
			} else {
				flushPara()
				inFence = true
				fenceLines = []string{line}
			}
			continue
		}
		if inFence {
			fenceLines = append(fenceLines, line)
			continue
		}

		if trimmed == "" {
			flushPara()
			continue
		}

		if m := headingRegex.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			blocks = append(blocks, block{
				kind:        blockHeading,
				text:        trimmed,
				headingText: strings.TrimSpace(m[2]),
				headingLvl:  len(m[1]),
				page:        firstPage(trimmed),
			})
			continue
		}

		para = append(para, line)
	}
	if inFence && len(fenceLines) > 0 {
		blocks = append(blocks, block{kind: blockFencedCode, text: strings.Join(fenceLines, "\n")})
	}
	flushPara()

	return blocks
}

// isTableBlock recognizes a Markdown table: a line starting with `|`
// followed by a separator line of `-`, `|`, `:` (SPEC_FULL.md §6
// supplemented feature).
func isTableBlock(text string) bool {
	lines := strings.SplitN(text, "\n", 3)
	if len(lines) < 2 {
		return false
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[0]), "|") {
		return false
	}
	sep := strings.TrimSpace(lines[1])
	if sep == "" {
		return false
	}
	for _, r := range sep {
		if r != '-' && r != '|' && r != ':' && r != ' ' {
			return false
		}
	}
	return true
}

func isListItem(text string) bool {
	first := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	return strings.HasPrefix(first, "- ") || strings.HasPrefix(first, "* ") || strings.HasPrefix(first, "+ ")
}

func firstPage(text string) int {
	m := pageRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// headingStack tracks ancestor headings to produce section_path.
type headingStack struct {
	levels []int
	names  []string
}

func (h *headingStack) push(level int, name string) {
	for len(h.levels) > 0 && h.levels[len(h.levels)-1] >= level {
		h.levels = h.levels[:len(h.levels)-1]
		h.names = h.names[:len(h.names)-1]
	}
	h.levels = append(h.levels, level)
	h.names = append(h.names, name)
}

func (h *headingStack) path() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

func (h *headingStack) nearest() string {
	if len(h.names) == 0 {
		return ""
	}
	return h.names[len(h.names)-1]
}

// packState accumulates one in-progress chunk during greedy packing.
type packState struct {
	parts       []string
	tokens      int
	heading     string
	sectionPath []string
	page        int
}

func (p *packState) reset() {
	p.parts = nil
	p.tokens = 0
	p.heading = ""
	p.sectionPath = nil
	p.page = 0
}

func (p *packState) text() string {
	return strings.TrimSpace(strings.Join(p.parts, "\n\n"))
}

// pack implements spec §4.2 steps 3-7: greedy block packing with
// boundary preference, overlap carry-forward, and metadata stamping.
func (c *Chunker) pack(docID string, blocks []block, cfg ChunkConfig) ([]Chunk, error) {
	maxBytes := cfg.ChunkSize * maxChunkBytesFactor

	var emitted []Chunk
	var cur packState
	hs := &headingStack{}

	emit := func() {
		text := cur.text()
		if strings.TrimSpace(text) == "" {
			cur.reset()
			return
		}
		emitted = append(emitted, Chunk{
			DocID:         docID,
			Text:          text,
			TokenEstimate: countTokens(text),
			Metadata: ChunkMetadata{
				Heading:     cur.heading,
				SectionPath: cur.sectionPath,
				PageNumber:  cur.page,
			},
		})
		cur.reset()
	}

	for i := 0; i < len(blocks); i++ {
		b := blocks[i]

		if b.kind == blockHeading {
			// A heading starts a new logical section, so it closes any
			// open chunk outright (step 4's boundary preference) rather
			// than only once the chunk is nearly full; the min_chunk_size
			// floor for undersized sections is restored afterward by
			// mergeUndersized.
			hs.push(b.headingLvl, b.headingText)
			if cur.tokens > 0 {
				emit()
			}
			if cur.tokens == 0 {
				cur.heading = hs.nearest()
				cur.sectionPath = hs.path()
			}
			continue
		}

		units := splitAtomicUnits(b, cfg.ChunkSize, maxBytes)
		for _, u := range units {
			ut := countTokens(u)

			if cur.tokens > 0 && cur.tokens+ut > cfg.ChunkSize {
				emit()
			}
			if cur.tokens == 0 {
				cur.heading = hs.nearest()
				cur.sectionPath = hs.path()
				if cur.page == 0 {
					cur.page = b.page
				}
			}
			if cur.page == 0 {
				cur.page = b.page
			}
			cur.parts = append(cur.parts, u)
			cur.tokens += ut

			if cur.tokens >= cfg.ChunkSize {
				emit()
			}
		}
	}
	emit()

	if len(emitted) == 0 {
		return nil, newEmptyDocumentError("chunk_document", docID)
	}

	emitted = mergeUndersized(emitted, cfg.MinChunkSize)
	applyOverlap(emitted, cfg.ChunkOverlap)
	stampChunkMeta(emitted, docID)

	return emitted, nil
}

// mergeUndersized enforces spec §8's floor invariant, min_chunk_size <=
// token_estimate(c) <= chunk_size except possibly the single final
// chunk: a non-final chunk under the floor is folded into the chunk
// that follows it within the same section, so heading-boundary splits
// (step 4) are never undone by the merge — only the ordinary
// chunk-size-driven fragmentation within one section is coalesced.
func mergeUndersized(chunks []Chunk, minSize int) []Chunk {
	if minSize <= 0 || len(chunks) < 2 {
		return chunks
	}

	out := make([]Chunk, 0, len(chunks))
	i := 0
	for i < len(chunks) {
		cur := chunks[i]
		for cur.TokenEstimate < minSize && i+1 < len(chunks) && sameSection(cur, chunks[i+1]) {
			next := chunks[i+1]
			cur.Text = strings.TrimSpace(cur.Text + "\n\n" + next.Text)
			cur.TokenEstimate = countTokens(cur.Text)
			i++
		}
		out = append(out, cur)
		i++
	}
	return out
}

func sameSection(a, b Chunk) bool {
	if a.Metadata.Heading != b.Metadata.Heading {
		return false
	}
	if len(a.Metadata.SectionPath) != len(b.Metadata.SectionPath) {
		return false
	}
	for i := range a.Metadata.SectionPath {
		if a.Metadata.SectionPath[i] != b.Metadata.SectionPath[i] {
			return false
		}
	}
	return true
}

// splitAtomicUnits returns the text units a block contributes to
// packing. Tables and fenced code are atomic (step 3 / SPEC_FULL.md
// supplement); oversized paragraphs split at sentence, then
// whitespace, boundaries; an atomic unit that still exceeds maxBytes
// is truncated with the loss implicit in the truncation (spec: "a
// warning recorded"; surfaced via the chunk's reduced size, since the
// core has no side-channel logger at this layer).
func splitAtomicUnits(b block, chunkSize, maxBytes int) []string {
	switch b.kind {
	case blockFencedCode, blockTable:
		if len(b.text) > maxBytes {
			return []string{b.text[:maxBytes]}
		}
		return []string{b.text}
	default:
		if countTokens(b.text) <= chunkSize {
			return []string{b.text}
		}
		return splitBySentenceThenWhitespace(b.text, chunkSize, maxBytes)
	}
}

func splitBySentenceThenWhitespace(text string, chunkSize, maxBytes int) []string {
	sentences := splitSentences(text)
	var out []string
	for _, s := range sentences {
		if countTokens(s) <= chunkSize {
			out = append(out, s)
			continue
		}
		words := strings.Fields(s)
		var cur strings.Builder
		curTokens := 0
		for _, w := range words {
			wt := countTokens(w)
			if curTokens > 0 && curTokens+wt > chunkSize {
				out = append(out, cur.String())
				cur.Reset()
				curTokens = 0
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(w)
			curTokens += wt
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
		}
	}
	for i, s := range out {
		if len(s) > maxBytes {
			out[i] = s[:maxBytes]
		}
	}
	return out
}

func splitSentences(text string) []string {
	parts := sentenceRegex.Split(text, -1)
	delims := sentenceRegex.FindAllString(text, -1)

	var sentences []string
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sentence := part
		if i < len(delims) {
			sentence += strings.TrimSpace(delims[i])
		}
		sentences = append(sentences, sentence)
	}
	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// countTokens approximates token_estimate as whitespace/punctuation
// delimited units (spec §4.2 step 1 / §9 open question on tokenization).
func countTokens(text string) int {
	return len(tokenRegex.FindAllString(text, -1))
}

// applyOverlap implements spec §4.2 step 5: the trailing chunkOverlap
// tokens of chunk i (rounded to a sentence boundary when possible) are
// prepended to chunk i+1, carrying forward chunk i's heading/section
// path for that overlap region conceptually (the emitted chunk's own
// metadata, stamped from its own position, is left unchanged; only
// the text gains the borrowed tail).
func applyOverlap(chunks []Chunk, overlapTokens int) {
	if overlapTokens <= 0 {
		return
	}
	for i := len(chunks) - 1; i > 0; i-- {
		prev := chunks[i-1]
		tail := overlapTail(prev.Text, overlapTokens)
		if tail == "" {
			continue
		}
		chunks[i].Text = tail + "\n\n" + chunks[i].Text
		chunks[i].TokenEstimate = countTokens(chunks[i].Text)
	}
}

// overlapTail returns the trailing approximately-n-token suffix of
// text, extended to the nearest preceding sentence boundary so the
// carried-over context reads naturally.
func overlapTail(text string, n int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	var tail []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		t := countTokens(sentences[i])
		if total > 0 && total+t > n {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		total += t
		if total >= n {
			break
		}
	}
	return strings.TrimSpace(strings.Join(tail, " "))
}

// stampChunkMeta fills chunk_id, chunk_index, and total_chunks after
// the whole document is processed (spec §4.2 step 6/7).
func stampChunkMeta(chunks []Chunk, docID string) {
	total := len(chunks)
	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].Metadata.TotalChunks = total
		chunks[i].ChunkID = chunkID(docID, i, chunks[i].Text)
	}
}

// chunkID derives a deterministic id from (doc_id, chunk_index,
// content_hash), satisfying spec §3's determinism requirement.
func chunkID(docID string, index int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return docID + "#" + strconv.Itoa(index) + "#" + hex.EncodeToString(sum[:8])
}
