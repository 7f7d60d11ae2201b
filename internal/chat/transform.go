package chat

import (
	"fmt"

	"github.com/emberhq/companion/internal/llm"
)

// TransformMessages projects the stored transcript into the provider wire
// format. The projection is lossy on purpose: the model never sees binary
// payloads, only short textual stand-ins.
//
// Rules:
//   - system messages and hidden context messages are dropped
//   - of the master-named text messages, only the chronologically last survives
//   - image/video messages collapse to a text summary (only when a prompt
//     exists) plus one synthetic user turn per like/dislike
//   - image messages are deduplicated by image id, then batch id
func TransformMessages(msgs []Message) []llm.Message {
	lastMaster := -1
	for i, m := range msgs {
		if isMediaType(m.Type) {
			continue
		}
		if m.Name == NameMaster {
			lastMaster = i
		}
	}

	seenImages := make(map[string]struct{})
	out := make([]llm.Message, 0, len(msgs))

	for i, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		if m.Hidden && m.Name == NameContext {
			continue
		}

		switch m.Type {
		case TypeImage, TypeMergeFace, TypeImageSlider:
			if dup := imageDedupKey(&m); dup != "" {
				if _, seen := seenImages[dup]; seen {
					continue
				}
				seenImages[dup] = struct{}{}
			}
			if m.Prompt != "" {
				out = append(out, llm.Message{
					Role:    RoleAssistant,
					Content: fmt.Sprintf("[You sent the user a picture: %s]", m.Prompt),
				})
			}
			out = append(out, feedbackTurns(&m)...)
		case TypeVideo:
			if m.Prompt != "" {
				out = append(out, llm.Message{
					Role:    RoleAssistant,
					Content: fmt.Sprintf("[You sent the user a short video: %s]", m.Prompt),
				})
			}
			out = append(out, feedbackTurns(&m)...)
		default:
			if m.Name == NameMaster && i != lastMaster {
				continue
			}
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	return out
}

func isMediaType(t string) bool {
	switch t {
	case TypeImage, TypeVideo, TypeMergeFace, TypeImageSlider:
		return true
	}
	return false
}

func imageDedupKey(m *Message) string {
	if m.ImageID != nil && *m.ImageID != "" {
		return "img:" + *m.ImageID
	}
	if m.BatchID != nil && *m.BatchID != "" {
		return "batch:" + *m.BatchID
	}
	return ""
}

func feedbackTurns(m *Message) []llm.Message {
	var out []llm.Message
	if m.LikedAt != nil {
		out = append(out, llm.Message{
			Role:    RoleUser,
			Content: "[I liked the picture you sent me.]",
		})
	}
	if m.DislikedAt != nil {
		out = append(out, llm.Message{
			Role:    RoleUser,
			Content: "[I didn't like the picture you sent me.]",
		})
	}
	return out
}
