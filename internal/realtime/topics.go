package realtime

import (
	"errors"
	"fmt"
	"regexp"
)

// Topic templates published by the backend broker.
const (
	TopicUserCheer           = "/topic/user/{userId}/cheer"
	TopicUserPoke            = "/topic/user/{userId}/poke"
	TopicUserTimerCompletion = "/topic/user/{userId}/timer-completion"
	TopicGroupMemberStatus   = "/topic/group/{groupId}/member-status"
	TopicGroupTimer          = "/topic/group/{groupId}/timer"
	TopicGroupNotification   = "/topic/group/{groupId}/notification"
	TopicMatesActiveStatus   = "/topic/mates/active-status"
)

// Template parameter names.
const (
	ParamUserID  = "userId"
	ParamGroupID = "groupId"
)

// ErrMissingParam means a topic template references an identifier that was
// not provided.
var ErrMissingParam = errors.New("missing topic parameter")

var placeholder = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// Topic expands template with params.
func Topic(template string, params map[string]string) (string, error) {
	var missing error
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v := params[key]
		if v == "" {
			if missing == nil {
				missing = fmt.Errorf("%w: %s in %s", ErrMissingParam, key, template)
			}
			return m
		}
		return v
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}
