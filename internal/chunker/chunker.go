// Package chunker splits document text into ordered, bounded-size segments.
//
// Segments are the unit of embedding and retrieval. Splitting is
// deterministic: the same content and configuration always produce the same
// segments, which keeps re-ingestion and alignment repair stable.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates an invalid chunker configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Segment is a single bounded piece of a document.
type Segment struct {
	// Content is the text of the segment.
	Content string

	// Position is the 0-based order of the segment within its document.
	Position int
}

// Config holds chunker configuration.
type Config struct {
	// ChunkSize is the target number of words per segment.
	ChunkSize int

	// Overlap is the number of words carried over from the end of one
	// segment into the start of the next. Must be strictly less than
	// ChunkSize.
	Overlap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 200
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be less than chunk size %d", ErrInvalidConfig, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits text into word-window segments with overlap.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: config}, nil
}

// Chunk splits content into ordered segments.
//
// Empty or whitespace-only content yields an empty slice, not an error.
// Content shorter than one window yields exactly one segment.
func (c *Chunker) Chunk(content string) []Segment {
	words := strings.Fields(content)
	if len(words) == 0 {
		return []Segment{}
	}

	step := c.config.ChunkSize - c.config.Overlap

	segments := make([]Segment, 0, (len(words)+step-1)/step)
	position := 0
	for start := 0; start < len(words); start += step {
		end := start + c.config.ChunkSize
		if end > len(words) {
			end = len(words)
		}

		segments = append(segments, Segment{
			Content:  strings.Join(words[start:end], " "),
			Position: position,
		})
		position++

		if end == len(words) {
			break
		}
	}

	return segments
}
