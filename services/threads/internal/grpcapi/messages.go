package grpcapi

import "github.com/example/nonprofit-platform/services/threads/internal/thread"

type SubmitRequest struct {
	ContentItemID string  `json:"content_item_id"`
	ParentID      *string `json:"parent_id,omitempty"`
	Body          string  `json:"body"`
}

type CommentResponse struct {
	Comment thread.View `json:"comment"`
}

type RemoveRequest struct {
	CommentID string `json:"comment_id"`
}

type RemoveResponse struct{}

type ListTopLevelRequest struct {
	ContentItemID string `json:"content_item_id"`
	Cursor        string `json:"cursor,omitempty"`
	Limit         int32  `json:"limit,omitempty"`
}

type ListRepliesRequest struct {
	CommentID string `json:"comment_id"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int32  `json:"limit,omitempty"`
}

type ListResponse struct {
	Nodes      []thread.View `json:"nodes"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type ModerateRequest struct {
	CommentID string `json:"comment_id"`
	Decision  string `json:"decision"`
}
