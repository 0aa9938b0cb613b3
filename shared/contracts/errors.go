package contracts

import "errors"

var (
	ErrMissingTopic      = errors.New("topic is required")
	ErrInvalidPayload    = errors.New("payload must be valid JSON")
	ErrMalformedPayload  = errors.New("malformed event payload")
	ErrMissingDocumentID = errors.New("payload _id is required")
)
