// pkg/search/options.go

package search

import (
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// FileSearchOptions tunes how file and artifact observables are searched.
type FileSearchOptions uint16

const (
	// SearchSize includes the file size in hash-less searches.
	SearchSize FileSearchOptions = 1 << iota
	// SearchAdditionalFilenames includes x_opencti_additional_names.
	SearchAdditionalFilenames
	// IncludeParentDirRef resolves parent_directory_ref and prepends its
	// path to the filenames.
	IncludeParentDirRef
	// SearchFilenameOnly permits searches with no hash at all.
	SearchFilenameOnly
	// AllowRegexp permits regexp queries, which can be expensive on large
	// indices.
	AllowRegexp
	// CaseInsensitive makes filename regexp searches case insensitive.
	CaseInsensitive
	// BasenameOnly strips paths from filenames before searching.
	BasenameOnly
	// RequireAbsPath refuses filename searches unless every path is
	// absolute.
	RequireAbsPath
	// SearchNameAndHash searches filenames even when a hash is present.
	SearchNameAndHash
)

var fileSearchOptionNames = map[string]FileSearchOptions{
	"search-size":                 SearchSize,
	"search-additional-filenames": SearchAdditionalFilenames,
	"include-parent-dir-ref":      IncludeParentDirRef,
	"search-filename-only":        SearchFilenameOnly,
	"allow-regexp":                AllowRegexp,
	"case-insensitive":            CaseInsensitive,
	"basename-only":               BasenameOnly,
	"require-abs-path":            RequireAbsPath,
	"search-name-and-hash":        SearchNameAndHash,
}

// ParseFileSearchOptions parses a comma-separated option list.
func ParseFileSearchOptions(value string) (FileSearchOptions, error) {
	var opts FileSearchOptions
	for _, item := range strings.Split(value, ",") {
		name := strings.TrimSpace(item)
		if name == "" {
			continue
		}
		opt, ok := fileSearchOptionNames[name]
		if !ok {
			return 0, cerr.Newf("%q is not a valid file search option", name)
		}
		opts |= opt
	}
	return opts, nil
}

// Has reports whether option o is set.
func (f FileSearchOptions) Has(o FileSearchOptions) bool { return f&o != 0 }
