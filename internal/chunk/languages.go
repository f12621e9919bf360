package chunk

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how one language maps onto chunks.
type LanguageConfig struct {
	Name string

	// DeclKinds maps eligible AST node types to the symbol kind they emit.
	// Matching is outermost-wins: the walk does not descend into a matched
	// node, so methods inside a class belong to the class chunk.
	DeclKinds map[string]string

	// DocRequired lists node types only eligible when a doc comment block
	// immediately precedes them (top-level const/static bindings).
	DocRequired map[string]bool

	// CommentKinds are node types that form the attached doc block
	// (comments plus attributes/decorators).
	CommentKinds map[string]bool
}

// registry holds the supported tree-sitter languages.
var registry = map[string]*LanguageConfig{
	"go": {
		Name: "go",
		DeclKinds: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_declaration":     "type",
			"const_declaration":    "constant",
			"var_declaration":      "constant",
		},
		DocRequired: map[string]bool{
			"const_declaration": true,
			"var_declaration":   true,
		},
		CommentKinds: map[string]bool{"comment": true},
	},
	"python": {
		Name: "python",
		DeclKinds: map[string]string{
			"function_definition":  "function",
			"class_definition":     "class",
			"decorated_definition": "function",
		},
		CommentKinds: map[string]bool{"comment": true},
	},
	"rust": {
		Name: "rust",
		DeclKinds: map[string]string{
			"function_item": "function",
			"struct_item":   "class",
			"enum_item":     "class",
			"trait_item":    "class",
			"impl_item":     "class",
			"const_item":    "constant",
			"static_item":   "constant",
		},
		DocRequired: map[string]bool{
			"const_item":  true,
			"static_item": true,
		},
		CommentKinds: map[string]bool{
			"line_comment":   true,
			"block_comment":  true,
			"attribute_item": true,
		},
	},
	"javascript": {
		Name: "javascript",
		DeclKinds: map[string]string{
			"function_declaration": "function",
			"class_declaration":    "class",
			"lexical_declaration":  "constant",
		},
		DocRequired: map[string]bool{"lexical_declaration": true},
		CommentKinds: map[string]bool{"comment": true},
	},
	"typescript": {
		Name: "typescript",
		DeclKinds: map[string]string{
			"function_declaration":  "function",
			"class_declaration":     "class",
			"interface_declaration": "type",
			"type_alias_declaration": "type",
			"enum_declaration":      "type",
			"lexical_declaration":   "constant",
		},
		DocRequired: map[string]bool{"lexical_declaration": true},
		CommentKinds: map[string]bool{"comment": true},
	},
}

// GetLanguage returns the chunking config for a language tag.
func GetLanguage(name string) (*LanguageConfig, bool) {
	cfg, ok := registry[name]
	return cfg, ok
}

// TreeSitterLanguage returns the grammar for a language tag.
func TreeSitterLanguage(name string) (*sitter.Language, bool) {
	switch name {
	case "go":
		return golang.GetLanguage(), true
	case "python":
		return python.GetLanguage(), true
	case "rust":
		return rust.GetLanguage(), true
	case "javascript":
		return javascript.GetLanguage(), true
	case "typescript":
		return typescript.GetLanguage(), true
	default:
		return nil, false
	}
}

// SupportedLanguages lists the languages with syntax-aware chunking.
func SupportedLanguages() []string {
	return []string{"go", "javascript", "python", "rust", "typescript"}
}
