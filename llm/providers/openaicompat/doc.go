// Package openaicompat provides the shared Chat Completions backend used by
// every OpenAI-compatible vendor.
//
// The OpenAI and OpenRouter backends share the same wire format. Instead of
// duplicating HTTP handling, message rendering and error mapping, they embed
// openaicompat.Provider and only supply what differs:
//
//   - Backend id and base URL
//   - Custom headers (if any)
//   - The price table
//
// Usage:
//
//	p, err := openaicompat.New(openaicompat.Config{
//	    Backend: llm.BackendOpenAI,
//	    APIKey:  key,
//	    BaseURL: "https://api.openai.com",
//	    Pricing: table,
//	}, logger)
package openaicompat
