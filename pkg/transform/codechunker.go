// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/tokens"
)

// CodeChunker splits code files at declaration boundaries where the language
// is detectable, falling back to plain text splitting otherwise. Line ranges
// are preserved on each chunk.
type CodeChunker struct {
	counter   tokens.Counter
	maxTokens int
}

// NewCodeChunker creates a code chunker with the given per-chunk token
// budget (default 512).
func NewCodeChunker(counter tokens.Counter, maxTokens int) *CodeChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	return &CodeChunker{counter: counter, maxTokens: maxTokens}
}

// Name implements the transformer contract.
func (*CodeChunker) Name() string { return CodeChunkerName }

// Apply splits one code file entity into chunk entities with line ranges.
func (c *CodeChunker) Apply(_ context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	if e.File == nil || e.File.Content == nil {
		return nil, fmt.Errorf("code file %s has no materialized content", e.EntityID)
	}

	filePath := e.File.Name
	language := ""
	if e.Code != nil {
		if e.Code.Path != "" {
			filePath = e.Code.Path
		}
		language = e.Code.Language
	}
	if language == "" {
		language = DetectLanguage(filePath)
	}

	blocks := splitCodeBlocks(string(e.File.Content), language, c.counter, c.maxTokens)

	out := make([]*entity.Entity, 0, len(blocks))
	for i, b := range blocks {
		chunk := *e
		chunk.Kind = entity.KindChunk
		chunk.BaseDefinitionID = e.DefinitionID
		chunk.DefinitionID = uuid.Nil
		chunk.ChunkIndex = i
		chunk.ChunkCount = len(blocks)
		chunk.File = nil
		chunk.Code = &entity.Code{
			RepoName:  codeRepo(e),
			Path:      filePath,
			Language:  language,
			LineStart: b.lineStart,
			LineEnd:   b.lineEnd,
		}
		chunk.EmbeddableText = fmt.Sprintf("%s (lines %d-%d)\n\n%s", filePath, b.lineStart, b.lineEnd, b.text)
		out = append(out, &chunk)
	}
	return out, nil
}

func codeRepo(e *entity.Entity) string {
	if e.Code != nil {
		return e.Code.RepoName
	}
	return ""
}

type codeBlock struct {
	text      string
	lineStart int
	lineEnd   int
}

// splitCodeBlocks groups lines into budget-sized blocks, preferring to break
// at top-level declaration boundaries for the detected language.
func splitCodeBlocks(content, language string, counter tokens.Counter, maxTokens int) []codeBlock {
	lines := strings.Split(content, "\n")
	starters := declStarters[language]

	var blocks []codeBlock
	cur := codeBlock{lineStart: 1}
	var sb strings.Builder

	flush := func(endLine int) {
		if sb.Len() == 0 {
			return
		}
		cur.text = sb.String()
		cur.lineEnd = endLine
		blocks = append(blocks, cur)
		sb.Reset()
	}

	for i, line := range lines {
		lineNo := i + 1
		atBoundary := isDeclBoundary(line, starters)

		candidate := sb.String() + "\n" + line
		overBudget := counter.Count(candidate) > maxTokens

		if sb.Len() > 0 && (overBudget || (atBoundary && counter.Count(sb.String()) > maxTokens/2)) {
			flush(lineNo - 1)
			cur = codeBlock{lineStart: lineNo}
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(line)
	}
	flush(len(lines))

	if len(blocks) == 0 {
		blocks = []codeBlock{{text: content, lineStart: 1, lineEnd: len(lines)}}
	}
	return blocks
}

func isDeclBoundary(line string, starters []string) bool {
	if len(starters) == 0 {
		return false
	}
	// Top-level declarations start in column zero.
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	for _, s := range starters {
		if strings.HasPrefix(line, s) {
			return true
		}
	}
	return false
}

// declStarters lists the line prefixes that indicate a new top-level
// declaration per language.
var declStarters = map[string][]string{
	"go":         {"func ", "type ", "var ", "const "},
	"python":     {"def ", "class ", "async def "},
	"javascript": {"function ", "class ", "export ", "const ", "async function "},
	"typescript": {"function ", "class ", "export ", "const ", "interface ", "async function "},
	"java":       {"public ", "private ", "protected ", "class ", "interface "},
	"rust":       {"fn ", "pub ", "struct ", "enum ", "impl ", "trait "},
	"ruby":       {"def ", "class ", "module "},
}

// DetectLanguage maps a file extension to a language tag, empty when
// unknown.
func DetectLanguage(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rs":
		return "rust"
	case ".rb":
		return "ruby"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".sh":
		return "shell"
	case ".sql":
		return "sql"
	default:
		return ""
	}
}
