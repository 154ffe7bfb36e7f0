// Package llm talks to an OpenAI-compatible chat completion endpoint. Client makes
// one classified attempt, Validate decides whether a decoded response carries
// usable content, and Resilient retries the primary model on a fixed schedule
// before handing the request to a single fallback model.
package llm
