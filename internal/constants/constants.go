package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DedupClaimKeyPrefix     = "automation:fired:"
	BroadcastClaimKeyPrefix = "broadcast:claim:"
)

// BroadcastClaimTTL bounds how long a claim pass holds a scheduled broadcast before
// a crashed claimer lets another pass retry it.
const BroadcastClaimTTL = 5 * time.Minute

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)
