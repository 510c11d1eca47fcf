// Package mcp exposes the blueprint pipeline as Model Context Protocol tools.
//
// The server speaks MCP over stdio through github.com/modelcontextprotocol/go-sdk
// and calls the pipeline engine, the approval store and the design validator
// directly. It registers five tools:
//
//	run_pipeline     start a run from a prompt
//	continue_run     resume a parked run after its decision
//	record_decision  approve or reject a parked run
//	get_approval     inspect a parked run without consuming it
//	validate_design  check a database design for structural errors
//
// A failed run is a successful tool call whose result carries status FAILED.
// Tool errors are reserved for bad input and store conflicts.
package mcp
