package chat

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                      |
// |-----------------------------|-----------------------------|-------------------------------|
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Best for speed + intelligence |
// | Gemini 2.5 Pro              | gemini-2.5-pro              | Stable, high-reasoning tasks  |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance  |
// | Gemini 2.5 Flash-Lite       | gemini-2.5-flash-lite       | High-throughput, lowest cost  |
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelGemini25FlashLite   = "gemini-2.5-flash-lite"
)

// DefaultModelName is the default Gemini model for descriptions.
const DefaultModelName = ModelGemini3FlashPreview

// DefaultOpenAIModel is the default OpenAI vision model for descriptions.
const DefaultOpenAIModel = "gpt-4o"

// ModelName returns configured, or the provider default when it is empty.
func ModelName(provider, configured string) string {
	if configured != "" {
		return configured
	}
	if provider == "openai" {
		return DefaultOpenAIModel
	}
	return DefaultModelName
}
