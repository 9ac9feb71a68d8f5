package anthropic

// CachedSystemBlocks constructs system content blocks with a cache
// breakpoint at the given TTL ("5m" or "1h"). Chunked scoring sends the
// same system prompt on every request, so all chunks after the first hit
// the warm cache.
func CachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
