package hermes

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamPresence = "PRESENCE"
	BucketLatest   = "PRESENCE_LATEST"
)

// StreamConfigs lists the JetStream streams beacon provisions.
var StreamConfigs = []jetstream.StreamConfig{
	{
		Name:        StreamPresence,
		Description: "Presence status and idle events",
		Subjects:    []string{SubjectAllPresence},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
}

// KVBucketConfigs lists the KeyValue buckets beacon provisions.
var KVBucketConfigs = []jetstream.KeyValueConfig{
	{
		Bucket:      BucketLatest,
		Description: "Latest presence status per source",
		History:     1,
		TTL:         24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
}
