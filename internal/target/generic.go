package target

// Generic is the portable target: no dynamic linking, no binary fixups.
// It trivially satisfies the closure validator.
type Generic struct{}

func NewGeneric() *Generic {
	return &Generic{}
}

func (*Generic) Name() string { return "generic" }

func (*Generic) Capabilities() []string { return nil }

func (*Generic) IsBinaryCodeFile(string) (bool, error) { return false, nil }

func (*Generic) IsDynamicallyLinked(string) (bool, error) { return false, nil }

func (*Generic) SharedLibraryRefs(string, string) ([]string, []string, error) {
	return nil, nil, nil
}

func (*Generic) IsAllowedSystemLibrary(string) bool { return false }

func (*Generic) StripDebugSymbols(string) error { return nil }

func (*Generic) FixupSearchPath(string, string) error { return nil }
