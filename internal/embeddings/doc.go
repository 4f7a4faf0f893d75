// Package embeddings turns text into vectors.
//
// Providers wrap a concrete backend: a TEI server, an OpenAI-compatible
// API via langchaingo, local ONNX models via FastEmbed (cgo builds only),
// or a deterministic hashing embedder for offline use. Client layers a
// content-addressed cache, fixed-size batching and retry with backoff on
// top of any Provider.
package embeddings
