// Package task defines per-task-type chat profiles: system prompt, tool
// set, sampling parameters, and tags. The agent resolves a profile per
// request; unknown types fall back to general chat.
package task

import (
	"fmt"
	"sync"
)

// TaskType identifies a chat task category.
type TaskType string

const (
	GeneralChat       TaskType = "general_chat"
	CodeExecution     TaskType = "code_execution"
	DocumentAnalysis  TaskType = "document_analysis"
	ImageGeneration   TaskType = "image_generation"
	ImageAnalysis     TaskType = "image_analysis"
	WebSearch         TaskType = "web_search"
	MathSolving       TaskType = "math_solving"
	TextSummarization TaskType = "text_summarization"
	Translation       TaskType = "translation"
	DataAnalysis      TaskType = "data_analysis"
)

// Parse maps a string to a TaskType. Unknown or empty strings map to
// GeneralChat.
func Parse(s string) TaskType {
	switch TaskType(s) {
	case GeneralChat, CodeExecution, DocumentAnalysis, ImageGeneration,
		ImageAnalysis, WebSearch, MathSolving, TextSummarization,
		Translation, DataAnalysis:
		return TaskType(s)
	}
	return GeneralChat
}

// Profile configures how the agent handles one task type.
// Zero TopP or MaxTokens means "leave it to the provider default".
type Profile struct {
	Type         TaskType
	Name         string
	Description  string
	SystemPrompt string
	Tools        []string // Tool registry names this task may call.
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Tags         []string
}

// Registry holds task profiles keyed by type. Lookup of an unknown type
// falls back to the general chat profile.
type Registry struct {
	mu       sync.RWMutex
	profiles map[TaskType]Profile
	order    []TaskType // registration order, drives List/ByTags ordering
}

// NewRegistry returns a registry seeded with the default profiles for
// all built-in task types.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[TaskType]Profile)}
	for _, p := range defaultProfiles() {
		// Defaults are internally consistent; Register only fails on an
		// empty type.
		if err := r.Register(p); err != nil {
			panic(fmt.Sprintf("task: registering default profile: %v", err))
		}
	}
	return r
}

// Register adds a profile, replacing any existing profile for the same
// type. A replaced profile keeps its position in List order.
func (r *Registry) Register(p Profile) error {
	if p.Type == "" {
		return fmt.Errorf("task profile %q has no type", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.Type]; !exists {
		r.order = append(r.order, p.Type)
	}
	r.profiles[p.Type] = p
	return nil
}

// Get returns the profile for the task type, falling back to the
// general chat profile for unknown types.
func (r *Registry) Get(t TaskType) Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[t]; ok {
		return p
	}
	return r.profiles[GeneralChat]
}

// List returns all profiles in registration order.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.profiles[t])
	}
	return out
}

// ByTags returns profiles carrying at least one of the given tags,
// each profile at most once, in registration order.
func (r *Registry) ByTags(tags ...string) []Profile {
	want := make(map[string]bool, len(tags))
	for _, tag := range tags {
		want[tag] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Profile
	for _, t := range r.order {
		p := r.profiles[t]
		for _, tag := range p.Tags {
			if want[tag] {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			Type:         GeneralChat,
			Name:         "General Chat",
			Description:  "General conversation and Q&A",
			SystemPrompt: "You are a helpful AI assistant. Answer questions accurately, follow instructions carefully, and keep the conversation natural.",
			Temperature:  0.7,
			Tags:         []string{"conversation", "qa", "general"},
		},
		{
			Type:         CodeExecution,
			Name:         "Code Execution",
			Description:  "Execute and analyze code",
			SystemPrompt: "You are a code execution assistant. Write clear, well-documented code, run it through the sandbox, explain the results and any errors, and suggest improvements where they matter.",
			Tools:        []string{"execute_code"},
			Temperature:  0.3,
			Tags:         []string{"code", "programming", "execution"},
		},
		{
			Type:         DocumentAnalysis,
			Name:         "Document Analysis",
			Description:  "Analyze and process documents",
			SystemPrompt: "You are a document analysis assistant. Read the provided material carefully, extract the key information, and answer questions about its content with summaries and supporting detail.",
			Tools:        []string{"file_read", "execute_code"},
			Temperature:  0.5,
			Tags:         []string{"document", "analysis", "pdf", "text"},
		},
		{
			Type:         ImageGeneration,
			Name:         "Image Generation",
			Description:  "Generate images from text descriptions",
			SystemPrompt: "You are an image generation assistant. Turn the user's requirements into detailed, descriptive prompts and present the generated results clearly.",
			Temperature:  0.8,
			Tags:         []string{"image", "generation", "art", "creative"},
		},
		{
			Type:         ImageAnalysis,
			Name:         "Image Analysis",
			Description:  "Analyze and describe images",
			SystemPrompt: "You are an image analysis assistant. Describe what the image shows, identify objects, scenes, and actions, and answer questions about its content.",
			Tools:        []string{"file_read"},
			Temperature:  0.5,
			Tags:         []string{"image", "analysis", "vision", "description"},
		},
		{
			Type:         WebSearch,
			Name:         "Web Search",
			Description:  "Search the web for information",
			SystemPrompt: "You are a web research assistant. Fetch relevant pages, synthesize what you find into an accurate, current answer, and cite your sources.",
			Tools:        []string{"web_fetch"},
			Temperature:  0.5,
			Tags:         []string{"web", "search", "information", "current"},
		},
		{
			Type:         MathSolving,
			Name:         "Math Solving",
			Description:  "Solve mathematical problems",
			SystemPrompt: "You are a mathematics assistant. Work through problems step by step, use code to verify calculations, and explain the reasoning behind each step.",
			Tools:        []string{"execute_code"},
			Temperature:  0.2,
			Tags:         []string{"math", "mathematics", "calculation", "problem-solving"},
		},
		{
			Type:         TextSummarization,
			Name:         "Text Summarization",
			Description:  "Summarize and condense text",
			SystemPrompt: "You are a text summarization assistant. Identify the main points, produce a concise and faithful summary, and adapt its length to the user's needs.",
			Tools:        []string{"text_process"},
			Temperature:  0.4,
			Tags:         []string{"text", "summarization", "condensation", "analysis"},
		},
		{
			Type:         Translation,
			Name:         "Translation",
			Description:  "Translate text between languages",
			SystemPrompt: "You are a translation assistant. Preserve meaning, tone, and context, produce natural-sounding output, and note cultural or linguistic nuances when they affect the translation.",
			Temperature:  0.3,
			Tags:         []string{"translation", "language", "multilingual", "communication"},
		},
		{
			Type:         DataAnalysis,
			Name:         "Data Analysis",
			Description:  "Analyze and visualize data",
			SystemPrompt: "You are a data analysis assistant. Load and examine the data, run exploratory analysis, surface patterns and trends, and explain your findings clearly.",
			Tools:        []string{"execute_code", "file_read"},
			Temperature:  0.4,
			Tags:         []string{"data", "analysis", "visualization", "statistics"},
		},
	}
}
