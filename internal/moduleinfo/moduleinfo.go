package moduleinfo

import "fmt"

// Metadata captures static identifiers for the module.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	GeneratorID string
	Version     string
}

// Info describes the current module.
var Info = Metadata{
	Name:        "WhisperCore",
	BinaryName:  "whispercore",
	Slug:        "whispercore",
	Description: "Go facade over the whisper.cpp speech recognition engine.",
	GeneratorID: "whispercore",
	Version:     "0.3.0",
}

// UserAgent identifies the module in logs and RPC responses.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Info.Slug, Info.Version)
}

// TranscriptMetadata produces the standard metadata payload attached
// to emitted transcripts.
func TranscriptMetadata(model, language string) map[string]string {
	return map[string]string{
		"generator": Info.GeneratorID,
		"version":   Info.Version,
		"model":     model,
		"language":  language,
	}
}
