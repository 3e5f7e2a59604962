// Package inference streams chat completions from hosted language models.
//
// Invariants:
// - A Stream yields non-empty fragments in arrival order and is not restartable.
// - Provider and transport failures surface as *TransportError; a missing
//   credential surfaces as *ConfigurationError before any network call.
// - No request is retried.
//
// Usage:
//
//	client, err := inference.New(inference.Config{Provider: "groq", APIKey: key})
//	stream, err := client.StreamComplete(ctx, inference.NewRequest("llama-3.1-8b-instant", "hola"))
//	text, err := inference.Collect(stream, func(f string) { fmt.Print(f) })
package inference
