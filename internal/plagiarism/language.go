package plagiarism

import (
	"path/filepath"
	"strings"
)

// LanguageUnknown is used when no language can be detected or declared
const LanguageUnknown = "unknown"

// Family groups languages that share comment syntax
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyCStyle         // // and /* */
	FamilyHash           // #
	FamilyPHP            // //, /* */ and #
	FamilyDashDash       // -- and /* */ (SQL), --[[ ]] (Lua)
)

var extLanguages = map[string]string{
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".java":  "java",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".rs":    "rust",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".py":    "python",
	".rb":    "ruby",
	".sh":    "shell",
	".r":     "r",
	".pl":    "perl",
	".php":   "php",
	".sql":   "sql",
	".lua":   "lua",
}

var languageFamilies = map[string]Family{
	"c":          FamilyCStyle,
	"cpp":        FamilyCStyle,
	"csharp":     FamilyCStyle,
	"java":       FamilyCStyle,
	"javascript": FamilyCStyle,
	"typescript": FamilyCStyle,
	"go":         FamilyCStyle,
	"rust":       FamilyCStyle,
	"swift":      FamilyCStyle,
	"kotlin":     FamilyCStyle,
	"scala":      FamilyCStyle,
	"python":     FamilyHash,
	"ruby":       FamilyHash,
	"shell":      FamilyHash,
	"r":          FamilyHash,
	"perl":       FamilyHash,
	"php":        FamilyPHP,
	"sql":        FamilyDashDash,
	"lua":        FamilyDashDash,
}

// binary or archive formats that can never be compared as source
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".o": true, ".a": true,
	".class": true, ".jar": true, ".pyc": true, ".wasm": true, ".bin": true,
}

// DetectLanguage maps a file name onto a language by extension
func DetectLanguage(name string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(name))]; ok {
		return lang
	}
	return LanguageUnknown
}

// ResolveLanguage picks the language for a file given the scan options.
// A declared language wins; otherwise detection runs only when enabled.
func ResolveLanguage(name, declared string, autoDetect bool) string {
	if declared != "" {
		lang := strings.ToLower(declared)
		if _, ok := languageFamilies[lang]; ok {
			return lang
		}
		return LanguageUnknown
	}
	if autoDetect {
		return DetectLanguage(name)
	}
	return LanguageUnknown
}

// FamilyOf returns the comment family of lang
func FamilyOf(lang string) Family {
	return languageFamilies[strings.ToLower(lang)]
}

// IsBinaryName reports whether name has an extension of a non-source format
func IsBinaryName(name string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(name))]
}
