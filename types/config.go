package types

import (
	"time"
)

type RequestConfig struct {
	RequestTimeout time.Duration
	// requests per second sent to the remote service, 0 disables limiting
	RateLimit float64
	Burst     int
}

func DefaultConfig() *RequestConfig {
	return &RequestConfig{
		RequestTimeout: time.Minute * 5,
		RateLimit:      5,
		Burst:          10,
	}
}
