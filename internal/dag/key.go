package dag

// Key prefixes for the three kinds of record the store persists. The head
// prefix is part of the public key space contract ("h/<name>"); the chunk
// prefixes only need to stay disjoint from it and from each other.
const (
	chunkDataPrefix = "c/"
	chunkMetaPrefix = "m/"
	headPrefix      = "h/"
)

// chunkDataKey returns the KV key holding a chunk's data bytes.
func chunkDataKey(hash string) string {
	return chunkDataPrefix + hash
}

// chunkMetaKey returns the KV key holding a chunk's metadata record.
func chunkMetaKey(hash string) string {
	return chunkMetaPrefix + hash
}

// headKey returns the KV key holding a named head.
func headKey(name string) string {
	return headPrefix + name
}
