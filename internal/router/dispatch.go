package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/techne/internal/ranking"
)

// ErrUnknownType is returned for an envelope type the router does not handle.
var ErrUnknownType = errors.New("unknown type")

// Dispatch handles one request envelope and returns the response envelope.
// Failures come back as an ERROR envelope, never as a Go error.
func (r *Router) Dispatch(ctx context.Context, req Envelope) Envelope {
	switch req.Type {
	case MsgRankTags:
		var p RankTagsRequest
		if err := decode(req.Data, &p); err != nil {
			return errorEnvelope(err)
		}
		out, err := r.RankTags(ctx, p.Candidates())
		if err != nil {
			return errorEnvelope(err)
		}
		return reply(MsgRankTagsComplete, RankTagsResponse{Result: out})

	case MsgNewTag:
		var p NewTagRequest
		if err := decode(req.Data, &p); err != nil {
			return errorEnvelope(err)
		}
		if _, err := r.RecordTag(ctx, p.Tag, p.Type, p.Anchor); err != nil {
			return errorEnvelope(err)
		}
		return reply(MsgTagsUpdated, struct{}{})

	case MsgGetAllTags:
		tags, err := r.Tags(ctx)
		if err != nil {
			return errorEnvelope(err)
		}
		return reply(MsgAllTags, map[string]any{"tags": tags})

	case MsgTagMatchRequest:
		var p TagMatchRequest
		if err := decode(req.Data, &p); err != nil {
			return errorEnvelope(err)
		}
		matches, err := r.MatchTags(ctx, p.InputText, p.Tags)
		resp := TagMatchResponse{Matches: matches}
		if err != nil {
			resp.Matches = []ranking.TagMatch{}
			resp.Error = publicError(err)
		}
		return reply(MsgTagMatchResponse, resp)

	case MsgNewSearch:
		var p NewSearchRequest
		if err := decode(req.Data, &p); err != nil {
			return errorEnvelope(err)
		}
		if err := r.RecordSearch(ctx, p.Query); err != nil {
			return errorEnvelope(err)
		}
		return reply(MsgSearchesUpdated, struct{}{})

	case MsgDetectIntent:
		var p DetectIntentRequest
		if err := decode(req.Data, &p); err != nil {
			return errorEnvelope(err)
		}
		res, err := r.DetectIntent(ctx, p.Message, nil)
		if err != nil {
			return errorEnvelope(err)
		}
		return reply(MsgDetectIntentResult, res)

	default:
		return errorEnvelope(fmt.Errorf("%w: %s", ErrUnknownType, req.Type))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return nil
}

func reply(t MessageType, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		return errorEnvelope(err)
	}
	return Envelope{Type: t, Data: b}
}

func errorEnvelope(err error) Envelope {
	b, _ := json.Marshal(ErrorResponse{Error: publicError(err)})
	return Envelope{Type: MsgError, Data: b}
}

// publicError returns text safe to show callers. Validation and input
// errors are descriptive; anything else is logged and generalised.
func publicError(err error) string {
	switch {
	case isPublic(err):
		return upperFirst(err.Error())
	default:
		slog.Error("router: request failed", "error", err)
		return "Request failed"
	}
}

func isPublic(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ranking.ErrLengthMismatch) ||
		errors.Is(err, ErrUnknownType)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
