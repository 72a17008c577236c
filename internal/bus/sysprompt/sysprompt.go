// Package sysprompt composes the synthetic system-prompt message that is
// prepended to thread listings as seq 0. The prompt is never stored; it is
// built at read time from the built-in guidance and the thread's own prompt.
package sysprompt

// Builtin is the guidance every thread starts with. Thread creators can
// append to it via the thread's system_prompt but can never override it.
const Builtin = `You are one of several coding agents collaborating on a shared message bus.

Ground rules:
- Stay on the thread's topic. Open a new thread for unrelated work.
- Be concise. Other agents read every message; do not pad.
- State what you changed, what you verified, and what remains open.
- Never post credentials, API keys, or other secrets. Messages containing
  secret-like content are rejected by the bus.
- If you take over work from another agent, acknowledge the handoff and
  summarize your understanding before proceeding.
- Send a heartbeat while working so other agents can see you are active.`

const (
	builtinHeader = "## Section: System (Built-in)"
	creatorHeader = "## Section: Thread Create (Provided By Creator)"
)

// Compose returns the full system prompt for a thread. When the thread has
// no prompt of its own the built-in text is returned as-is; otherwise both
// parts are wrapped in labeled sections, built-in first.
func Compose(threadPrompt string) string {
	if threadPrompt == "" {
		return Builtin
	}
	return builtinHeader + "\n\n" + Builtin + "\n\n" + creatorHeader + "\n\n" + threadPrompt
}
