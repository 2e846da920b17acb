package runtime

// Runtime defines how to execute code for a specific language, both on the
// host (single-file mode) and inside a container (project mode).
type Runtime interface {
	// Name returns the language identifier (e.g., "python", "javascript").
	Name() string

	// Image returns the container image reference for project executions.
	Image() string

	// Command returns the host interpreter invocation for a single code file.
	Command(codePath string) []string

	// DefaultCommand returns the shell command run inside a project container
	// when the request does not supply one.
	DefaultCommand() string

	// FileExtension returns the file extension for code files (e.g., ".py").
	FileExtension() string

	// Validate checks the code before execution. This is a size/shape check,
	// not a parser.
	Validate(code string) error
}

// Registry maps language names to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
	fallback Runtime
}

// NewRegistry creates a registry with the supported runtimes. The language
// table is fixed: callers cannot extend it at runtime through configuration.
func NewRegistry() *Registry {
	js := &NodeRuntime{}
	r := &Registry{
		runtimes: make(map[string]Runtime),
		fallback: js,
	}
	r.Register(&PythonRuntime{})
	r.Register(js)
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Resolve returns the runtime for the given language. Unrecognized values
// resolve to the JavaScript runtime: defaulting instead of rejecting is the
// product's language policy, so "ruby" runs under node rather than erroring.
func (r *Registry) Resolve(language string) Runtime {
	if rt, ok := r.runtimes[language]; ok {
		return rt
	}
	return r.fallback
}

// Get returns the runtime registered under exactly the given name.
func (r *Registry) Get(language string) (Runtime, bool) {
	rt, ok := r.runtimes[language]
	return rt, ok
}

// Languages returns all registered language names.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		langs = append(langs, name)
	}
	return langs
}

// Images returns all container images needed by registered runtimes.
func (r *Registry) Images() []string {
	images := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		images = append(images, rt.Image())
	}
	return images
}
