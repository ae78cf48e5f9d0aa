package kafka

// NewPublisherWithWriter exposes the writer seam to tests.
var NewPublisherWithWriter = newPublisher
