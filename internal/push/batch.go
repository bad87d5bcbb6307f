package push

// Chunk splits tokens into consecutive slices of at most size elements,
// preserving order. Sizes outside (0, MaxMulticastTokens] are clamped.
func Chunk(tokens []string, size int) [][]string {
	if size <= 0 || size > MaxMulticastTokens {
		size = MaxMulticastTokens
	}
	if len(tokens) == 0 {
		return nil
	}

	chunks := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		chunks = append(chunks, tokens[start:end:end])
	}
	return chunks
}
