package domain

// PublishPostPayload is the payload for a single-image feed post.
type PublishPostPayload struct {
	MediaURL string `json:"media_url" validate:"required,url"`
	Caption  string `json:"caption" validate:"max=2200"`
}

// PublishStoryPayload is the payload for a story.
type PublishStoryPayload struct {
	MediaURL string `json:"media_url" validate:"required,url"`
}

// PublishCarouselPayload is the payload for a multi-image carousel post.
type PublishCarouselPayload struct {
	MediaURLs []string `json:"media_urls" validate:"required,min=2,max=10,dive,required,url"`
	Caption   string   `json:"caption" validate:"max=2200"`
}

// PayloadPrototype returns a zero value of the payload struct for the given
// action type, for schema validation at the producer boundary. Returns nil
// for unknown action types.
func PayloadPrototype(action ActionType) any {
	switch action {
	case ActionPublishPost:
		return &PublishPostPayload{}
	case ActionPublishStory:
		return &PublishStoryPayload{}
	case ActionPublishCarousel:
		return &PublishCarouselPayload{}
	}
	return nil
}
