package topics

import "errors"

// Domain errors for the topics package.
var (
	// ErrTopicNotFound is returned when no topic row matches the query.
	ErrTopicNotFound = errors.New("topics: topic not found")

	// ErrInvalidUseCase is returned for use cases outside the known set.
	ErrInvalidUseCase = errors.New("topics: invalid use case")

	// ErrInvalidTopic is returned for malformed topic parameters.
	ErrInvalidTopic = errors.New("topics: invalid topic")
)
