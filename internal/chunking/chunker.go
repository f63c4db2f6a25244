// Package chunking splits long message content into delimiter-aware
// chunks before it enters the retrieval indexes. Short turns pass through
// whole; long ones are cut at sentence boundaries so candidates stay
// readable when the gate returns them.
package chunking

import (
	"bytes"
)

// Chunk is one indexed slice of a longer text.
type Chunk struct {
	Text     string `json:"text"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
	// Complete is true when the chunk ends on a delimiter rather than a
	// hard size cut.
	Complete bool `json:"complete"`
}

// Config controls chunk sizing.
type Config struct {
	// ChunkSize is the target chunk size in bytes.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// MinChunkSize suppresses degenerate leading fragments.
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
	// Delimiters are single-byte split points, searched backward from
	// the size target.
	Delimiters []byte `yaml:"-" json:"-"`
}

// DefaultConfig returns sizing suitable for conversation turns.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    2048,
		MinChunkSize: 100,
		Delimiters:   []byte{'\n', '.', '?', '!'},
	}
}

// Chunker performs delimiter-aware splitting.
type Chunker struct {
	config Config
}

// New creates a chunker. A zero config takes the defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultConfig().MinChunkSize
	}
	if len(cfg.Delimiters) == 0 {
		cfg.Delimiters = DefaultConfig().Delimiters
	}
	return &Chunker{config: cfg}
}

// Split cuts text into chunks. Text at or under the chunk size returns a
// single complete chunk.
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	var out []Chunk
	pos := 0
	for pos < len(text) {
		remaining := len(text) - pos
		if remaining <= c.config.ChunkSize {
			out = append(out, Chunk{
				Text:     text[pos:],
				StartPos: pos,
				EndPos:   len(text),
				Complete: true,
			})
			break
		}

		end := pos + c.config.ChunkSize
		cut, complete := c.splitPoint(text, pos, end)
		out = append(out, Chunk{
			Text:     text[pos:cut],
			StartPos: pos,
			EndPos:   cut,
			Complete: complete,
		})
		pos = cut
	}
	return out
}

// splitPoint finds the last delimiter in [pos, end), falling back to a
// hard cut at end. Cuts closer than MinChunkSize to pos are rejected so
// tiny fragments never surface as candidates.
func (c *Chunker) splitPoint(text string, pos, end int) (int, bool) {
	window := text[pos:end]
	best := -1
	for _, d := range c.config.Delimiters {
		if i := bytes.LastIndexByte([]byte(window), d); i > best {
			best = i
		}
	}
	if best >= 0 {
		cut := pos + best + 1
		if cut-pos >= c.config.MinChunkSize {
			return cut, true
		}
	}
	return end, false
}
