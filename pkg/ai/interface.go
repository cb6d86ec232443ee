package ai

import (
	"context"
	"time"
)

// AnalysisInput is the email material handed to a provider.
type AnalysisInput struct {
	Subject string
	Sender  string
	Body    string
}

// EmailAnalysis is the provider-agnostic analysis result (shared type)
type EmailAnalysis struct {
	Category   string    `json:"category"`
	Priority   string    `json:"priority"`
	Sentiment  string    `json:"sentiment"`
	DraftReply string    `json:"draft_reply,omitempty"`
	Confidence float64   `json:"confidence"`
	ModelUsed  string    `json:"model_used"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Analyzer is the interface for AI email analysis
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
type Analyzer interface {
	AnalyzeEmail(ctx context.Context, input AnalysisInput) (*EmailAnalysis, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
