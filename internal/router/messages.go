package router

import (
	"encoding/json"

	"github.com/kalambet/techne/internal/ranking"
)

// MessageType names a request or response envelope.
type MessageType string

// Requests.
const (
	MsgRankTags        MessageType = "RANK_TAGS"
	MsgNewTag          MessageType = "NEW_TAG"
	MsgGetAllTags      MessageType = "GET_ALL_TAGS"
	MsgTagMatchRequest MessageType = "TAG_MATCH_REQUEST"
	MsgNewSearch       MessageType = "NEW_SEARCH"
	MsgDetectIntent    MessageType = "DETECT_INTENT"
)

// Responses.
const (
	MsgRankTagsComplete   MessageType = "RANK_TAGS_COMPLETE"
	MsgTagsUpdated        MessageType = MessageType(TagsUpdated)
	MsgAllTags            MessageType = "ALL_TAGS"
	MsgTagMatchResponse   MessageType = "TAG_MATCH_RESPONSE"
	MsgSearchesUpdated    MessageType = MessageType(SearchesUpdated)
	MsgDetectIntentResult MessageType = "DETECT_INTENT_RESPONSE"
	MsgError              MessageType = "ERROR"
)

// Envelope is the wire shape of every router message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RankTagsRequest carries a story's candidate tags.
type RankTagsRequest struct {
	StoryTags  []string `json:"storyTags"`
	TagTypes   []string `json:"tagTypes"`
	TagAnchors []string `json:"tagAnchors"`
}

// Candidates converts the request into ranking input.
func (r RankTagsRequest) Candidates() ranking.Candidates {
	return ranking.Candidates{Tags: r.StoryTags, Types: r.TagTypes, Anchors: r.TagAnchors}
}

// RankTagsResponse wraps the ranked candidates.
type RankTagsResponse struct {
	Result ranking.Candidates `json:"result"`
}

// NewTagRequest records a tag the user interacted with.
type NewTagRequest struct {
	Tag    string `json:"tag" validate:"required"`
	Type   string `json:"type" validate:"required"`
	Anchor string `json:"anchor" validate:"required"`
}

// TagMatchRequest scores inputText against tags.
type TagMatchRequest struct {
	InputText string           `json:"inputText"`
	Tags      []ranking.Triple `json:"tags"`
}

// TagMatchResponse carries matches or a user-facing error.
type TagMatchResponse struct {
	Matches []ranking.TagMatch `json:"matches"`
	Error   string             `json:"error,omitempty"`
}

// NewSearchRequest records a search query.
type NewSearchRequest struct {
	Query string `json:"query" validate:"required"`
}

// DetectIntentRequest classifies a chat message.
type DetectIntentRequest struct {
	Message string `json:"message" validate:"required"`
}

// ErrorResponse is the payload of an ERROR envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
