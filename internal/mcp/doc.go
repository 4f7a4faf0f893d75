// Package mcp exposes retrieval to MCP clients over stdio.
//
// The server registers a single retrieve tool built on the MCP SDK
// (github.com/modelcontextprotocol/go-sdk/mcp). Snippet content is scrubbed
// of secrets before it is returned when a scrubber is configured.
package mcp
