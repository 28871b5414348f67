package attach

import (
	"archive/zip"
	"bufio"
	"bytes"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

const (
	// manifestPath is the well-known manifest entry inside an archive.
	manifestPath = "META-INF/MANIFEST.MF"

	// versionAttribute is the main manifest attribute declaring the
	// contract version.
	versionAttribute = "Contract-Version"

	// signersAttribute is the per-entry manifest attribute listing the
	// public keys that signed the entry.
	signersAttribute = "Signed-By"
)

// DefaultContractVersion is used when the manifest omits the version
// attribute or its value does not parse as an integer.
const DefaultContractVersion = 1

// ArchiveMeta holds metadata extracted from a validated archive.
type ArchiveMeta struct {
	// Signers are the public keys that countersign every signed entry,
	// i.e. the intersection across all entries carrying a signature
	// attribute, in first-seen order. Empty when the archive is unsigned.
	Signers []string

	// Version is the declared contract version, or DefaultContractVersion.
	Version int
}

// ValidateArchive inspects data as a zip container and rejects unsafe or
// empty archives. Every entry path must be relative, normalized, and free
// of host-reserved separators. A buffer that parses as a container with
// zero entries is invalid input, not an empty-but-valid archive.
//
// On success it returns the extracted archive metadata. ValidateArchive has
// no side effects.
func ValidateArchive(data []byte) (*ArchiveMeta, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ValidationError{Reason: "not a zip container: " + err.Error()}
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	if len(zr.File) == 0 {
		return nil, &ValidationError{Reason: "archive has no entries"}
	}

	for _, f := range zr.File {
		if err := validateEntryName(f.Name); err != nil {
			return nil, err
		}
	}

	return extractMeta(zr)
}

// validateEntryName rejects entry paths that could escape an extraction
// root: absolute paths, drive-letter paths, backslash separators, and
// paths whose normalized form differs from the declared one ("." and ".."
// elements, doubled slashes).
func validateEntryName(name string) error {
	if name == "" {
		return &ValidationError{Reason: "entry has an empty name"}
	}
	if strings.ContainsRune(name, '\\') {
		return &ValidationError{Path: name, Reason: "reserved path separator"}
	}
	if strings.HasPrefix(name, "/") || (len(name) >= 2 && name[1] == ':') {
		return &ValidationError{Path: name, Reason: "absolute path"}
	}

	// Directory entries carry a trailing slash; validate the path itself.
	p := strings.TrimSuffix(name, "/")
	if p == "." {
		return &ValidationError{Path: name, Reason: "current directory reference"}
	}
	if !fs.ValidPath(p) || path.Clean(p) != p {
		return &ValidationError{Path: name, Reason: "path escapes archive root"}
	}
	return nil
}

func extractMeta(zr *zip.Reader) (*ArchiveMeta, error) {
	meta := &ArchiveMeta{Version: DefaultContractVersion}

	var mf *zip.File
	for _, f := range zr.File {
		if f.Name == manifestPath {
			mf = f
			break
		}
	}
	if mf == nil {
		return meta, nil
	}

	rc, err := mf.Open()
	if err != nil {
		return nil, &ValidationError{Path: manifestPath, Reason: "unreadable manifest: " + err.Error()}
	}
	defer rc.Close()

	m, err := parseManifest(rc)
	if err != nil {
		return nil, &ValidationError{Path: manifestPath, Reason: err.Error()}
	}

	if raw, ok := m.main[versionAttribute]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			meta.Version = v
		}
	}
	meta.Signers = signerIntersection(m.sections)

	return meta, nil
}

// manifest is a parsed META-INF/MANIFEST.MF: a main attribute block
// followed by named per-entry sections, separated by blank lines.
type manifest struct {
	main     map[string]string
	sections []manifestSection
}

type manifestSection struct {
	name  string
	attrs map[string]string
}

func parseManifest(r io.Reader) (*manifest, error) {
	m := &manifest{main: make(map[string]string)}

	attrs := m.main
	var lastKey string
	inMain := true

	flush := func() {
		if !inMain && len(attrs) > 0 {
			m.sections = append(m.sections, manifestSection{
				name:  attrs["Name"],
				attrs: attrs,
			})
		}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case line == "":
			flush()
			attrs = make(map[string]string)
			inMain = false
			lastKey = ""
		case strings.HasPrefix(line, " "):
			// Continuation of the previous attribute value.
			if lastKey != "" {
				attrs[lastKey] += line[1:]
			}
		default:
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			attrs[key] = strings.TrimSpace(value)
			lastKey = key
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	return m, nil
}

// signerIntersection returns the keys present in every section that carries
// a signature attribute, ordered by first appearance. Sections without the
// attribute do not participate.
func signerIntersection(sections []manifestSection) []string {
	var ordered []string
	counts := make(map[string]int)
	signedSections := 0

	for _, sec := range sections {
		raw, ok := sec.attrs[signersAttribute]
		if !ok {
			continue
		}
		signedSections++
		seen := make(map[string]bool)
		for _, key := range strings.Split(raw, ",") {
			key = strings.TrimSpace(key)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if counts[key] == 0 && signedSections == 1 {
				ordered = append(ordered, key)
			}
			counts[key]++
		}
	}
	if signedSections == 0 {
		return nil
	}

	var signers []string
	for _, key := range ordered {
		if counts[key] == signedSections {
			signers = append(signers, key)
		}
	}
	return signers
}
