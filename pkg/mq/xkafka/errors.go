package xkafka

import "errors"

var (
	ErrNilConfig    = errors.New("xkafka: nil config")
	ErrEmptyTopic   = errors.New("xkafka: empty topic")
	ErrClosed       = errors.New("xkafka: producer closed")
	ErrFlushTimeout = errors.New("xkafka: flush timeout")
)
