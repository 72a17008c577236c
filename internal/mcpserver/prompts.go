package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerPrompts adds the prompt templates agents use for coordination.
func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(
		mcp.NewPrompt("summarize_thread",
			mcp.WithPromptDescription("Instructs an agent to produce a concise summary of a thread's transcript."),
			mcp.WithArgument("topic", mcp.RequiredArgument(), mcp.ArgumentDescription("The thread topic.")),
			mcp.WithArgument("transcript", mcp.RequiredArgument(), mcp.ArgumentDescription("The full transcript text.")),
		),
		summarizeThreadPrompt(),
	)

	s.mcpServer.AddPrompt(
		mcp.NewPrompt("handoff_to_agent",
			mcp.WithPromptDescription("Standard format for handing off a task from one agent to another."),
			mcp.WithArgument("from_agent", mcp.RequiredArgument(), mcp.ArgumentDescription("Name of the delegating agent.")),
			mcp.WithArgument("to_agent", mcp.RequiredArgument(), mcp.ArgumentDescription("Name of the receiving agent.")),
			mcp.WithArgument("task_description", mcp.RequiredArgument(), mcp.ArgumentDescription("What needs to be done.")),
			mcp.WithArgument("context", mcp.ArgumentDescription("Relevant background or prior decisions.")),
		),
		handoffPrompt(),
	)
}

func promptArg(req mcp.GetPromptRequest, key, fallback string) string {
	if v, ok := req.Params.Arguments[key]; ok && v != "" {
		return v
	}
	return fallback
}

func summarizeThreadPrompt() server.PromptHandlerFunc {
	return func(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		text := fmt.Sprintf(
			"Please read the following conversation transcript for the topic %q "+
				"and write a concise summary capturing the key decisions, conclusions, "+
				"and any open questions.\n\n--- TRANSCRIPT ---\n%s\n--- END ---",
			promptArg(req, "topic", "(unknown)"),
			promptArg(req, "transcript", ""))
		return mcp.NewGetPromptResult(
			"Summarize the thread transcript.",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			},
		), nil
	}
}

func handoffPrompt() server.PromptHandlerFunc {
	return func(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		contextBlock := ""
		if c := promptArg(req, "context", ""); c != "" {
			contextBlock = fmt.Sprintf("\n\nRelevant context:\n%s", c)
		}
		text := fmt.Sprintf(
			"Hi %s, this is %s handing off a task to you.\n\n**Task:** %s%s\n\nPlease acknowledge and proceed.",
			promptArg(req, "to_agent", "Agent"),
			promptArg(req, "from_agent", "Agent"),
			promptArg(req, "task_description", ""),
			contextBlock)
		return mcp.NewGetPromptResult(
			"Task handoff message.",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			},
		), nil
	}
}
