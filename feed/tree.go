package feed

import (
	"sort"
	"strings"
	"unicode"

	"maru/comment"
)

// maxIndent clamps the visual nesting level. Logical depth keeps growing with
// the parent chain; only the indent a renderer uses is capped.
const maxIndent = 2

// Row is one rendered line of the feed: a comment with its position in the
// thread. Rows come out of BuildRows in exactly the order a renderer should
// display them.
type Row struct {
	Comment *comment.Comment

	// Depth is the length of the parent chain, unbounded.
	Depth int

	// Indent is the display indent, Depth clamped to maxIndent.
	Indent int

	// Orphaned marks a reply whose parent no longer exists. Orphans are
	// promoted to roots of their own so every record stays visible.
	Orphaned bool

	// Mention is the leading "@name" token of a reply, split out for
	// distinct styling. Empty for roots and for replies without one.
	Mention string

	// Body is the content with the mention token removed, or the full
	// content when there is none.
	Body string
}

// BuildRows turns one full snapshot of a board's comments into the ordered
// thread view. The snapshot is authoritative and complete; any previous tree
// is discarded by the caller.
//
// All records sort ascending by creation time (ties by id) to fix reply
// chronology. Roots are then reversed so the newest thread displays first,
// while replies under every node stay oldest first. The result is a
// pre-order, depth-first traversal.
func BuildRows(comments []*comment.Comment) []Row {
	sorted := make([]*comment.Comment, len(comments))
	copy(sorted, comments)

	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}

		return sorted[i].ID < sorted[j].ID
	})

	known := make(map[string]struct{}, len(sorted))
	for _, c := range sorted {
		known[c.ID] = struct{}{}
	}

	children := make(map[string][]*comment.Comment, len(sorted))
	roots := make([]*comment.Comment, 0, len(sorted))
	orphans := make(map[string]struct{})

	for _, c := range sorted {
		if c.ParentID == nil {
			roots = append(roots, c)

			continue
		}

		if _, ok := known[*c.ParentID]; !ok {
			// Parent was deleted; the reply keeps its dangling ParentID
			// and renders as a root.
			orphans[c.ID] = struct{}{}
			roots = append(roots, c)

			continue
		}

		children[*c.ParentID] = append(children[*c.ParentID], c)
	}

	// Newest root thread first.
	for i, j := 0, len(roots)-1; i < j; i, j = i+1, j-1 {
		roots[i], roots[j] = roots[j], roots[i]
	}

	rows := make([]Row, 0, len(sorted))

	var walk func(c *comment.Comment, depth int)
	walk = func(c *comment.Comment, depth int) {
		_, orphaned := orphans[c.ID]

		mention, body := splitMention(c.Content, depth)

		rows = append(rows, Row{
			Comment:  c,
			Depth:    depth,
			Indent:   min(depth, maxIndent),
			Orphaned: orphaned,
			Mention:  mention,
			Body:     body,
		})

		for _, child := range children[c.ID] {
			walk(child, depth+1)
		}
	}

	for _, root := range roots {
		walk(root, 0)
	}

	return rows
}

// splitMention detects the reply convention of a leading "@name" token.
// Roots never carry a mention regardless of content.
func splitMention(content string, depth int) (mention, body string) {
	if depth == 0 || !strings.HasPrefix(content, "@") {
		return "", content
	}

	end := strings.IndexFunc(content, unicode.IsSpace)
	if end < 0 {
		end = len(content)
	}

	if end < 2 {
		// A bare "@" is not a mention.
		return "", content
	}

	return content[:end], strings.TrimLeftFunc(content[end:], unicode.IsSpace)
}
