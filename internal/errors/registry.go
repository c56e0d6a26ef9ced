package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// Well-known error codes.
const (
	CodeCompileFailed   = "E101"
	CodeBundleFailed    = "E102"
	CodeHookFailed      = "E103"
	CodeLoadFailed      = "E110"
	CodeBadServerShape  = "E111"
	CodeTemplateMissing = "E120"
	CodeBadMarkers      = "E121"
	CodeBadPlaceholder  = "E122"
	CodeConfigNotFound  = "E130"
	CodeConfigInvalid   = "E131"
	CodeBadPort         = "E132"
	CodeDeployFailed    = "E150"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Compile errors (E101-E109)
	// ============================================

	CodeCompileFailed: {
		Category: CategoryCompile,
		Message:  "Server compile failed",
		Detail:   "The server compiler exited with a non-zero status. The session cannot continue until the compile succeeds.",
	},
	CodeBundleFailed: {
		Category: CategoryBundle,
		Message:  "Client bundle failed",
		Detail:   "The client bundler reported a build error. During the first build this is fatal; afterwards the previous output keeps being served.",
	},
	CodeHookFailed: {
		Category: CategoryBundle,
		Message:  "Pre-bundle hook failed",
		Detail:   "The configured pre-bundle hook command exited with a non-zero status.",
	},

	// ============================================
	// Load errors (E110-E119)
	// ============================================

	CodeLoadFailed: {
		Category: CategoryLoad,
		Message:  "Compiled server could not be loaded",
		Detail:   "The compiled server output is missing or unreadable. Run the compile step and check the output directory.",
	},
	CodeBadServerShape: {
		Category: CategoryLoad,
		Message:  "Compiled server does not expose a listen capability",
		Detail:   "The server manifest loaded successfully but does not declare listen. The dev server can only supervise something it can bind.",
	},

	// ============================================
	// Template errors (E120-E129)
	// ============================================

	CodeTemplateMissing: {
		Category: CategoryTemplate,
		Message:  "No HTML template found",
		Detail:   "No template exists at the configured path, in any view directory, or at the conventional location, and the built-in fallback is disabled.",
	},
	CodeBadMarkers: {
		Category: CategoryTemplate,
		Message:  "Template markers are malformed",
		Detail:   "The template must contain exactly one </head> and exactly one </body> marker for asset injection.",
	},
	CodeBadPlaceholder: {
		Category: CategoryTemplate,
		Message:  "Template placeholder is malformed",
		Detail:   "A placeholder contains nested or unbalanced delimiters. Placeholders must be flat expressions like {{.title}}.",
	},

	// ============================================
	// Config errors (E130-E139)
	// ============================================

	CodeConfigNotFound: {
		Category: CategoryConfig,
		Message:  "No suddenly.json found",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	CodeBadPort: {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "Port must be between 0 and 65535.",
	},

	// ============================================
	// Deploy errors (E150-E159)
	// ============================================

	CodeDeployFailed: {
		Category: CategoryDeploy,
		Message:  "Asset deploy failed",
	},
}
