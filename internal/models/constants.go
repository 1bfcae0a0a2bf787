package models

import "errors"

const (
	SystemPrompt     = "You are ScreenPilot, an enterprise research copilot."
	ContextSeparator = "\n\n"

	ProviderFriendli = "friendli"
	ProviderGemini   = "gemini"
)

var (
	ErrEmptyQuestion       = errors.New("question must not be empty")
	ErrEmptyContent        = errors.New("no text content could be extracted")
	ErrUnsupportedFormat   = errors.New("unsupported file format")
	ErrProviderUnavailable = errors.New("model provider is not configured")
	ErrDocumentNotFound    = errors.New("document not found")
)

var (
	// AnswerPromptTemplate takes the question and the retrieved context.
	AnswerPromptTemplate = `Based on the following research documents, please provide a concise, analytical answer to the question: "%s"

Context from documents:
%s

Please provide:
1. A direct answer to the question
2. Key insights or findings
3. Relevant data points or evidence
4. Any limitations or caveats

Format your response as clear, human-readable insights suitable for internal research analysis.`
)
