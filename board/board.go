package board

import "fmt"

// ID identifies one of the community boards. The set is closed: comments are
// partitioned by board and never move between them.
type ID string

const (
	Free ID = "free"
	Info ID = "info"
	QnA  ID = "qna"
	Club ID = "club"
)

func All() []ID {
	return []ID{Free, Info, QnA, Club}
}

func (id ID) IsValid() bool {
	switch id {
	case Free, Info, QnA, Club:
		return true
	default:
		return false
	}
}

type InvalidBoardError struct {
	ID ID
}

func (err InvalidBoardError) Error() string {
	return fmt.Sprintf("invalid board: %q", err.ID)
}
