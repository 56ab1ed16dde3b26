package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lbliii/sunwell-sub000/pkg/extract"
	"github.com/lbliii/sunwell-sub000/pkg/topology"
	"github.com/lbliii/sunwell-sub000/pkg/trace"
)

// docSegment is one structurally-delimited slice of a document.
type docSegment struct {
	text      string
	section   []string
	lineStart int
	lineEnd   int
	code      bool
}

// IngestDocument chunks a document along structural boundaries,
// attaches spatial and facet metadata, extracts concept edges among
// the new nodes and registers everything into the topology index.
// Returns the number of nodes created.
func (s *Store) IngestDocument(ctx context.Context, filePath, content string) (int, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := splitStructural(content)

	var items []extract.Item
	created := 0
	for _, seg := range segments {
		node := topology.NewNode(seg.text)
		node.Spatial = &topology.SpatialContext{
			FilePath:    filePath,
			SectionPath: seg.section,
			LineStart:   seg.lineStart,
			LineEnd:     seg.lineEnd,
		}
		node.Facets = detectFacets(seg)
		if s.embedder != nil {
			// Embedding failure degrades to keyword-only retrieval.
			if vec, err := s.embedder.EmbedOne(ctx, seg.text); err == nil {
				node.Embedding = vec
			} else {
				s.debug("embed failed during ingest", "file", filePath, "error", err)
			}
		}
		id, added := s.index.AddNode(node)
		if added {
			created++
		}
		items = append(items, extract.Item{ID: id, Content: seg.text})
	}

	for _, e := range extract.ConceptEdges(items, extract.DefaultEdgeCandidates) {
		s.index.AddEdge(e)
	}

	err := s.index.Save()
	status := "success"
	if err != nil {
		status = "error"
	}
	s.collector.RecordOperation(ctx, "ingest_document", status, time.Since(start).Milliseconds())

	rec := trace.NewRecord("ingest_document")
	rec.Timestamp = start
	rec.Counters["segments"] = int64(len(segments))
	rec.Counters["nodes_created"] = int64(created)
	s.exportTrace(ctx, rec.Finish(err))

	return created, err
}

// IngestCodebase walks a directory tree and ingests every file
// matching the patterns. Binary and unreadable files are skipped.
func (s *Store) IngestCodebase(ctx context.Context, root string, patterns ...string) (int, error) {
	if len(patterns) == 0 {
		patterns = []string{"*.go", "*.md", "*.rst", "*.yaml", "*.json"}
	}

	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		matched := false
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, d.Name()); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		n, err := s.IngestDocument(ctx, rel, string(data))
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

// splitStructural cuts a document at markdown headings and fenced code
// blocks, tracking the heading path and line span of each segment.
func splitStructural(content string) []docSegment {
	lines := strings.Split(content, "\n")

	var segments []docSegment
	var section []string
	var buf []string
	bufStart := 1
	inCode := false

	flush := func(end int, code bool) {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			segments = append(segments, docSegment{
				text:      text,
				section:   append([]string(nil), section...),
				lineStart: bufStart,
				lineEnd:   end,
				code:      code,
			})
		}
		buf = buf[:0]
		bufStart = end + 1
	}

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				buf = append(buf, line)
				flush(lineNo, true)
				inCode = false
				continue
			}
			flush(lineNo-1, false)
			inCode = true
			buf = append(buf, line)
			continue
		}
		if !inCode && strings.HasPrefix(trimmed, "#") {
			flush(lineNo-1, false)
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			title := strings.TrimSpace(trimmed[level:])
			if title != "" {
				if level-1 < len(section) {
					section = section[:level-1]
				}
				section = append(section, title)
			}
			bufStart = lineNo + 1
			continue
		}
		buf = append(buf, line)
	}
	flush(len(lines), inCode)
	return segments
}

// detectFacets assigns a Diataxis mode and confidence band from
// surface cues in the segment.
func detectFacets(seg docSegment) topology.Facets {
	f := topology.Facets{Confidence: "medium"}
	if seg.code {
		f.Diataxis = topology.DiataxisReference
		return f
	}

	lower := strings.ToLower(seg.text)
	heading := ""
	if len(seg.section) > 0 {
		heading = strings.ToLower(seg.section[len(seg.section)-1])
	}

	switch {
	case strings.Contains(heading, "tutorial") || strings.Contains(heading, "getting started"):
		f.Diataxis = topology.DiataxisTutorial
	case strings.Contains(heading, "how to") || strings.HasPrefix(lower, "to ") ||
		strings.Contains(heading, "guide"):
		f.Diataxis = topology.DiataxisHowTo
	case strings.Contains(heading, "reference") || strings.Contains(heading, "api"):
		f.Diataxis = topology.DiataxisReference
	case strings.Contains(lower, "because") || strings.Contains(lower, "rationale") ||
		strings.Contains(heading, "why"):
		f.Diataxis = topology.DiataxisExplanation
	}

	if strings.Contains(lower, "deprecated") || strings.Contains(lower, "todo") {
		f.Confidence = "low"
	}
	return f
}
