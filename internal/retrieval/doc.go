// Package retrieval wires the scanner, lexical index, embedding client,
// vector store, heuristic score, fusion, post-processing and refinement
// loop into a single query pipeline.
//
// A Retrieve call scans the repository, then builds the lexical index and
// the vector scores concurrently. When embedding fails the query degrades
// to lexical-only ranking. The fused, post-processed ranking seeds a
// contextmgr.Manager, which an optional refinement loop then edits.
package retrieval
