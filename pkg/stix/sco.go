// pkg/stix/sco.go

package stix

import (
	"net"
	"regexp"
	"sort"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Cyber observables. OpenCTI custom observable types (Hostname, User-Agent)
// are emitted with their x-opencti type names.

// File is a file observable, optionally with hashes and a parent directory.
type File struct {
	Common
	Name                    string            `json:"name,omitempty"`
	Hashes                  map[string]string `json:"hashes,omitempty"`
	Size                    int64             `json:"size,omitempty"`
	ParentDirectoryRef      string            `json:"parent_directory_ref,omitempty"`
	XOpenCTIAdditionalNames []string          `json:"x_opencti_additional_names,omitempty"`
}

// Directory is a directory observable.
type Directory struct {
	Common
	Path string `json:"path"`
}

// IPv4Address is an IPv4 observable.
type IPv4Address struct {
	Common
	Value string `json:"value"`
}

// IPv6Address is an IPv6 observable.
type IPv6Address struct {
	Common
	Value string `json:"value"`
}

// MACAddress is a MAC address observable.
type MACAddress struct {
	Common
	Value string `json:"value"`
}

// DomainName is a domain name observable.
type DomainName struct {
	Common
	Value string `json:"value"`
}

// Hostname is OpenCTI's custom hostname observable.
type Hostname struct {
	Common
	Value string `json:"value"`
}

// EmailAddress is an email address observable.
type EmailAddress struct {
	Common
	Value string `json:"value"`
}

// URL is a URL observable.
type URL struct {
	Common
	Value string `json:"value"`
}

// UserAccount is a user account observable.
type UserAccount struct {
	Common
	AccountLogin string `json:"account_login,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// Process is a process observable.
type Process struct {
	Common
	PID         int    `json:"pid,omitempty"`
	CommandLine string `json:"command_line,omitempty"`
}

// WindowsRegistryKey is a registry key observable.
type WindowsRegistryKey struct {
	Common
	Key string `json:"key"`
}

// UserAgent is OpenCTI's custom user-agent observable.
type UserAgent struct {
	Common
	Value string `json:"value"`
}

// FilenameBehaviour controls how file observables are created from raw
// filename strings.
type FilenameBehaviour uint8

const (
	// CreateDir creates a Directory observable from the path component and
	// references it as parent_directory_ref.
	CreateDir FilenameBehaviour = 1 << iota
	// RemovePath strips path components from file names.
	RemovePath
)

// ParseFilenameBehaviour parses a comma-separated behaviour list.
func ParseFilenameBehaviour(value string) (FilenameBehaviour, error) {
	var b FilenameBehaviour
	for _, item := range strings.Split(value, ",") {
		switch strings.TrimSpace(item) {
		case "create-dir":
			b |= CreateDir
		case "remove-path":
			b |= RemovePath
		case "":
		default:
			return 0, cerr.Newf("%q is not a valid filename behaviour", item)
		}
	}
	return b, nil
}

// Has reports whether behaviour flag f is set.
func (b FilenameBehaviour) Has(f FilenameBehaviour) bool { return b&f != 0 }

// Builder creates STIX objects carrying the connector's common properties
// (author, confidence, markings).
type Builder struct {
	CreatedByRef      string
	Confidence        *int
	MarkingRefs       []string
	SCOLabels         []string
	FilenameBehaviour FilenameBehaviour
}

func (b *Builder) common(objectType, id string) Common {
	return Common{
		Type:              objectType,
		SpecVersion:       SpecVersion,
		ID:                id,
		CreatedByRef:      b.CreatedByRef,
		Confidence:        b.Confidence,
		ObjectMarkingRefs: b.MarkingRefs,
	}
}

// ObjectCommon exposes the builder's common properties for object types
// assembled outside this package.
func (b *Builder) ObjectCommon(objectType, id string) Common {
	return b.common(objectType, id)
}

func (b *Builder) scoCommon(objectType string, idProps map[string]interface{}) Common {
	c := b.common(objectType, ObservableID(objectType, idProps))
	c.Labels = b.SCOLabels
	return c
}

// Identity creates an identity with a deterministic id.
func (b *Builder) Identity(name, identityClass, description string) Identity {
	return Identity{
		Common:        b.common("identity", IdentityID(name, identityClass)),
		Name:          name,
		IdentityClass: identityClass,
		Description:   description,
	}
}

// IdentityFromSeed creates an identity whose id is derived from a seed
// other than its display name. Wazuh agent identities are keyed by agent
// id so that renaming an agent does not spawn a new identity.
func (b *Builder) IdentityFromSeed(seed, identityClass, name, description string) Identity {
	return Identity{
		Common:        b.common("identity", IdentityID(seed, identityClass)),
		Name:          name,
		IdentityClass: identityClass,
		Description:   description,
	}
}

// Tool creates a tool with a deterministic id.
func (b *Builder) Tool(name string) Tool {
	return Tool{
		Common: b.common("tool", ToolID(name)),
		Name:   name,
	}
}

// AttackPattern creates a MITRE attack pattern stub from a technique id.
func (b *Builder) AttackPattern(mitreID string) AttackPattern {
	return AttackPattern{
		Common:   b.common("attack-pattern", AttackPatternID(mitreID, mitreID)),
		Name:     mitreID,
		XMitreID: mitreID,
	}
}

// Relationship creates a relationship with a deterministic id.
func (b *Builder) Relationship(relationshipType, sourceRef, targetRef, created string) Relationship {
	return Relationship{
		Common:           b.common("relationship", RelationshipID(relationshipType, sourceRef, targetRef)),
		Created:          created,
		RelationshipType: relationshipType,
		SourceRef:        sourceRef,
		TargetRef:        targetRef,
	}
}

// File creates a file observable from one or more raw names, with an
// optional SHA-256. Depending on the configured behaviour, a Directory
// object may be created for the path component and referenced as the
// file's parent; path components may also be stripped from names. The
// returned slice holds the optional directory followed by the file.
func (b *Builder) File(names []string, sha256 string) []Object {
	pathSet := map[string]struct{}{}
	nameSet := map[string]struct{}{}
	for _, raw := range names {
		dir, base := pathSplit(raw)
		if dir != "" {
			pathSet[dir] = struct{}{}
		}
		if base != "" {
			nameSet[base] = struct{}{}
		}
	}
	paths := sortedKeys(pathSet)
	basenames := sortedKeys(nameSet)

	candidates := names
	if b.FilenameBehaviour.Has(RemovePath) {
		candidates = basenames
	}
	var mainName string
	var extraNames []string
	if len(candidates) > 0 {
		mainName = candidates[0]
		extraNames = candidates[1:]
	}

	var out []Object
	var dirRef string
	if len(paths) > 0 && b.FilenameBehaviour.Has(CreateDir) {
		dir := Directory{
			Common: b.scoCommon("directory", map[string]interface{}{"path": paths[0]}),
			Path:   paths[0],
		}
		dirRef = dir.ID
		out = append(out, dir)
	}

	var hashes map[string]string
	if sha256 != "" {
		hashes = map[string]string{"SHA-256": sha256}
	}
	idProps := map[string]interface{}{}
	if sha256 != "" {
		idProps["hashes"] = map[string]string{"SHA-256": sha256}
	} else {
		idProps["name"] = mainName
	}
	out = append(out, File{
		Common:                  b.scoCommon("file", idProps),
		Name:                    mainName,
		Hashes:                  hashes,
		ParentDirectoryRef:      dirRef,
		XOpenCTIAdditionalNames: extraNames,
	})
	return out
}

// AddrSCO creates an IPv4 or IPv6 observable depending on address family.
func (b *Builder) AddrSCO(address string) (Object, error) {
	switch IPProto(address) {
	case "ipv4":
		return IPv4Address{
			Common: b.scoCommon("ipv4-addr", map[string]interface{}{"value": address}),
			Value:  address,
		}, nil
	case "ipv6":
		return IPv6Address{
			Common: b.scoCommon("ipv6-addr", map[string]interface{}{"value": address}),
			Value:  address,
		}, nil
	default:
		return nil, cerr.Newf("%q is not a valid IP address", address)
	}
}

// SCO creates an observable from an OpenCTI entity type name and a value.
func (b *Builder) SCO(entityType, value string) (Object, error) {
	switch entityType {
	case "Directory":
		return Directory{Common: b.scoCommon("directory", map[string]interface{}{"path": value}), Path: value}, nil
	case "Domain-Name":
		return DomainName{Common: b.scoCommon("domain-name", map[string]interface{}{"value": value}), Value: value}, nil
	case "Hostname":
		return Hostname{Common: b.scoCommon("hostname", map[string]interface{}{"value": value}), Value: value}, nil
	case "Email-Addr":
		return EmailAddress{Common: b.scoCommon("email-addr", map[string]interface{}{"value": value}), Value: value}, nil
	case "IPv4-Addr", "IPv6-Addr":
		return b.AddrSCO(value)
	case "Mac-Addr":
		return MACAddress{Common: b.scoCommon("mac-addr", map[string]interface{}{"value": value}), Value: value}, nil
	case "Url":
		return URL{Common: b.scoCommon("url", map[string]interface{}{"value": value}), Value: value}, nil
	case "User-Account":
		return b.AccountFromUsername(value), nil
	case "StixFile":
		files := b.File([]string{value}, "")
		return files[len(files)-1], nil
	case "User-Agent":
		return UserAgent{Common: b.scoCommon("user-agent", map[string]interface{}{"value": value}), Value: value}, nil
	case "Windows-Registry-Key":
		return WindowsRegistryKey{Common: b.scoCommon("windows-registry-key", map[string]interface{}{"key": value}), Key: value}, nil
	default:
		return nil, cerr.Newf("enrichment SCO %q not supported", entityType)
	}
}

var uidInName = regexp.MustCompile(`^(?P<name>[^(]+)\(uid=(?P<uid>\d+)\)$`)

// AccountFromUsername creates a User-Account from a string that may contain
// a bare username or the "name(uid=N)" form some audit logs emit.
func (b *Builder) AccountFromUsername(username string) UserAccount {
	var uid string
	if m := uidInName.FindStringSubmatch(username); m != nil {
		username, uid = m[1], m[2]
	}
	idProps := map[string]interface{}{"account_login": username}
	if uid != "" {
		idProps["user_id"] = uid
	}
	return UserAccount{
		Common:       b.scoCommon("user-account", idProps),
		AccountLogin: username,
		UserID:       uid,
	}
}

// IPProto classifies an address string as ipv4, ipv6 or neither.
func IPProto(address string) string {
	ip := net.ParseIP(address)
	switch {
	case ip == nil:
		return ""
	case ip.To4() != nil:
		return "ipv4"
	default:
		return "ipv6"
	}
}

// pathSplit splits a path on the last separator, accepting both unix and
// windows separators (observables come from both worlds).
func pathSplit(name string) (dir, base string) {
	idx := strings.LastIndexAny(name, `/\`)
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
