package attach

import "slices"

// ImportOption configures a single import.
type ImportOption func(*importConfig)

type importConfig struct {
	uploader        string
	filename        string
	contractClasses []string
}

func newImportConfig(opts []ImportOption) importConfig {
	var cfg importConfig
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	return cfg
}

// ImportWithUploader records the uploader identity. Empty means unknown.
func ImportWithUploader(uploader string) ImportOption {
	return func(cfg *importConfig) {
		cfg.uploader = uploader
	}
}

// ImportWithFilename records the submitted file name.
func ImportWithFilename(filename string) ImportOption {
	return func(cfg *importConfig) {
		cfg.filename = filename
	}
}

// ImportWithContractClasses records the ordered contract class names
// declared by the archive's contract manifest. Class extraction itself is
// the scanning subsystem's concern; the list is accepted as given.
func ImportWithContractClasses(classes []string) ImportOption {
	return func(cfg *importConfig) {
		cfg.contractClasses = slices.Clone(classes)
	}
}
