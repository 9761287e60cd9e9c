// pkg/stix/tlp.go

package stix

import (
	"regexp"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Marking definition ids for the TLP levels, as fixed by the STIX 2.1
// specification (and OpenCTI for AMBER+STRICT).
const (
	TLPWhiteID       = "marking-definition--613f2e26-407d-48c7-9eca-b8e91df99dc9"
	TLPGreenID       = "marking-definition--34098fce-860f-48ae-8e50-ebd3cc5e41da"
	TLPAmberID       = "marking-definition--f88d31f6-486f-44da-b317-01333bde0b82"
	TLPAmberStrictID = "marking-definition--826578e1-40ad-459f-bc73-ede076f81f37"
	TLPRedID         = "marking-definition--5e57c739-391a-4eb3-b6be-7d15ca92d5ed"
)

var tlpPrefix = regexp.MustCompile(`^[^:]+:`)

// ParseTLP maps a TLP string ("TLP:AMBER", "amber", "wazuh:red"…) to the
// corresponding marking definition id. Anything up to and including ":" is
// stripped and case is ignored. The empty string maps to no marking.
func ParseTLP(tlp string) (string, error) {
	switch strings.ToLower(tlpPrefix.ReplaceAllString(tlp, "")) {
	case "clear", "white":
		return TLPWhiteID, nil
	case "green":
		return TLPGreenID, nil
	case "amber":
		return TLPAmberID, nil
	case "amber+strict":
		return TLPAmberStrictID, nil
	case "red":
		return TLPRedID, nil
	case "":
		return "", nil
	default:
		return "", cerr.Newf("%q is not a valid TLP marking", tlp)
	}
}

// ParseTLPs parses a list of TLP strings, dropping empties.
func ParseTLPs(tlps []string) ([]string, error) {
	var refs []string
	for _, tlp := range tlps {
		ref, err := ParseTLP(tlp)
		if err != nil {
			return nil, err
		}
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

var tlpRank = map[string]int{
	"TLP:CLEAR":        0,
	"TLP:WHITE":        0,
	"TLP:GREEN":        1,
	"TLP:AMBER":        2,
	"TLP:AMBER+STRICT": 3,
	"TLP:RED":          4,
}

// NormalizeTLPName upper-cases a TLP definition and ensures the TLP: prefix.
func NormalizeTLPName(tlp string) string {
	name := strings.ToUpper(strings.TrimSpace(tlp))
	if !strings.HasPrefix(name, "TLP:") {
		name = "TLP:" + name
	}
	return name
}

// TLPWithinMax reports whether a single TLP definition is at or below max.
// Unknown definitions are treated as above max.
func TLPWithinMax(definition, max string) bool {
	rank, ok := tlpRank[NormalizeTLPName(definition)]
	if !ok {
		return false
	}
	maxRank, ok := tlpRank[NormalizeTLPName(max)]
	if !ok {
		return false
	}
	return rank <= maxRank
}

// TLPAllowed reports whether all TLP definitions on an entity are within the
// configured maximum. An entity with several TLP markings must have all of
// them within max.
func TLPAllowed(definitions []string, max string) bool {
	for _, def := range definitions {
		if !TLPWithinMax(def, max) {
			return false
		}
	}
	return true
}
