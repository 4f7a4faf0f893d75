package tokenizer

// DefaultStopwords are English function words that carry no signal in
// problem statements. Corpus stopwords are usually preferred for code.
var DefaultStopwords = NewSet(
	"the", "and", "for", "that", "this", "with", "from", "are", "was",
	"were", "but", "not", "you", "your", "have", "has", "had", "its",
	"can", "will", "would", "should", "could", "there", "their", "them",
	"then", "than", "when", "what", "which", "who", "how", "why", "all",
	"any", "into", "out", "our", "also", "been", "being", "does", "did",
	"doing", "just", "some", "such", "only", "own", "same", "very", "too",
	"is", "it", "in", "on", "of", "to", "an", "as", "at", "be", "by",
	"do", "if", "or", "so", "we", "me", "my", "no", "up",
)
