// Package domain contains shared domain types for the publish queue.
package domain

// ActionType identifies the publishing operation a queue item carries.
// It determines the payload shape and which executor handles the item.
type ActionType string

// Supported action types.
const (
	ActionPublishPost     ActionType = "publish_post"
	ActionPublishStory    ActionType = "publish_story"
	ActionPublishCarousel ActionType = "publish_carousel"
)

// Valid reports whether the action type is one the dispatcher can execute.
func (a ActionType) Valid() bool {
	switch a {
	case ActionPublishPost, ActionPublishStory, ActionPublishCarousel:
		return true
	}
	return false
}

// ActionTypes lists all supported action types.
func ActionTypes() []ActionType {
	return []ActionType{ActionPublishPost, ActionPublishStory, ActionPublishCarousel}
}
