package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// LengthFunc measures a piece of text in the splitter's unit.
type LengthFunc func(string) int

// RecursiveSplitter splits text into chunks of at most ChunkSize units,
// trying each separator in turn from coarsest to finest.
//
// Text is first split on the first separator that occurs in it. Pieces that
// are still too long are split again with the remaining separators, and
// short pieces are merged back into chunks. Consecutive chunks share up to
// ChunkOverlap units of trailing context. Separators are kept at the start
// of the piece that follows them.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string

	// Length defaults to counting runes.
	Length LengthFunc
}

// NewRecursiveSplitter returns a splitter with paragraph, line, word and
// character separators.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveSplitter {
	return &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   []string{"\n\n", "\n", " ", ""},
	}
}

// Validate reports a chunk size that is not positive or an overlap outside
// [0, ChunkSize).
func (s *RecursiveSplitter) Validate() error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("rag: chunk size must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("rag: chunk overlap must be in [0, %d), got %d", s.ChunkSize, s.ChunkOverlap)
	}
	return nil
}

// TokenLength counts cl100k_base tokens, the encoding of the OpenAI chat
// and embedding models.
func TokenLength() (LengthFunc, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		ids, _, err := codec.Encode(s)
		if err != nil {
			return utf8.RuneCountInString(s)
		}
		return len(ids)
	}, nil
}

// SplitDocuments splits every document. Each chunk copies its parent's
// metadata and adds a "chunk" index counted per parent.
func (s *RecursiveSplitter) SplitDocuments(docs []Document) []Document {
	var out []Document
	for _, doc := range docs {
		for i, text := range s.SplitText(doc.Content) {
			meta := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["chunk"] = strconv.Itoa(i)
			out = append(out, Document{Content: text, Metadata: meta})
		}
	}
	return out
}

// SplitText splits text into trimmed, non-empty chunks.
func (s *RecursiveSplitter) SplitText(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = []string{"\n\n", "\n", " ", ""}
	}
	return s.split(text, seps)
}

func (s *RecursiveSplitter) length(text string) int {
	if s.Length != nil {
		return s.Length(text)
	}
	return utf8.RuneCountInString(text)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var chunks, good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if s.length(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// splitKeepingSeparator splits text on sep, prefixing every piece but the
// first with the separator that preceded it. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// merge combines pieces into chunks no longer than ChunkSize, carrying up
// to ChunkOverlap units from the end of one chunk into the next. An overlap
// outside [0, ChunkSize) is treated as zero.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var chunks, current []string
	total := 0
	overlap := s.ChunkOverlap
	if overlap < 0 || overlap >= s.ChunkSize {
		overlap = 0
	}

	for _, piece := range pieces {
		n := s.length(piece)
		if total+n > s.ChunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > overlap || (total+n > s.ChunkSize && total > 0)) {
				total -= s.length(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
