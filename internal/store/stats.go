package store

// TierStats is a point-in-time view of one body store tier.
type TierStats struct {
	Tier      Tier
	Len       int
	Capacity  int // 0 when pinned
	Hits      int64
	Misses    int64
	Evictions int64
	Refusals  int64
}

// BufferStats is a point-in-time view of the buffer store.
type BufferStats struct {
	Len       int
	Capacity  int
	Dirty     int
	Evictions int64
	Refusals  int64
}
