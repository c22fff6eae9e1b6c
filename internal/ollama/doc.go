// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// This package implements a client for the Ollama local LLM server. It covers
// model listing, non-streaming chat, and opening streaming chat responses.
// Decoding the NDJSON stream is left to package stream, which consumes the
// body returned by OpenChatStream.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role, content, and optional images
//   - ChatRequest: Request structure for chat completions
//   - ChatResponse: Response structure with message and metrics
//   - ClientError: Typed error with an ErrorType for classification
//
// # Usage
//
// Create a client and send a chat request:
//
//	client := ollama.NewClient()
//	resp, err := client.Chat(ctx, ollama.ChatRequest{
//	    Model:    "llama3",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//
// For streaming responses, open the body and hand it to a decoder:
//
//	body, err := client.OpenChatStream(ctx, request)
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
// # Model Selection
//
// DefaultModel lists installed models, deduplicates and sorts the names and
// returns the first one, falling back to FallbackModel.
package ollama
