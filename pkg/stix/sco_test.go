// pkg/stix/sco_test.go

package stix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWithoutBehaviour(t *testing.T) {
	b := &Builder{}
	objs := b.File([]string{"filename1", "filename2"}, "")

	require.Len(t, objs, 1)
	file := objs[0].(File)
	assert.Equal(t, "filename1", file.Name)
	assert.Equal(t, []string{"filename2"}, file.XOpenCTIAdditionalNames)
	assert.Empty(t, file.ParentDirectoryRef)
}

func TestFileCreateDir(t *testing.T) {
	b := &Builder{FilenameBehaviour: CreateDir}
	objs := b.File([]string{"/tmp/filename1", "/home/foo/Downloads/filename2"}, "")

	require.Len(t, objs, 2)
	dir := objs[0].(Directory)
	file := objs[1].(File)

	// Paths are sorted; the first becomes the parent directory.
	assert.Equal(t, "/home/foo/Downloads", dir.Path)
	assert.Equal(t, dir.ID, file.ParentDirectoryRef)
	assert.Equal(t, "/tmp/filename1", file.Name)
}

func TestFileCreateDirRemovePath(t *testing.T) {
	b := &Builder{FilenameBehaviour: CreateDir | RemovePath}
	objs := b.File([]string{"filename1", "/home/foo/Downloads/filename2"}, "")

	require.Len(t, objs, 2)
	file := objs[1].(File)
	assert.Equal(t, "filename1", file.Name)
	assert.Equal(t, []string{"filename2"}, file.XOpenCTIAdditionalNames)
}

func TestFileHash(t *testing.T) {
	b := &Builder{}
	objs := b.File([]string{"evil.exe"}, "deadbeef")
	file := objs[0].(File)
	assert.Equal(t, "deadbeef", file.Hashes["SHA-256"])
}

func TestParseFilenameBehaviour(t *testing.T) {
	b, err := ParseFilenameBehaviour("create-dir,remove-path")
	require.NoError(t, err)
	assert.True(t, b.Has(CreateDir))
	assert.True(t, b.Has(RemovePath))

	b, err = ParseFilenameBehaviour("")
	require.NoError(t, err)
	assert.False(t, b.Has(CreateDir))

	_, err = ParseFilenameBehaviour("explode")
	require.Error(t, err)
}

func TestAddrSCO(t *testing.T) {
	b := &Builder{}

	obj, err := b.AddrSCO("198.51.100.7")
	require.NoError(t, err)
	assert.IsType(t, IPv4Address{}, obj)

	obj, err = b.AddrSCO("2001:db8::1")
	require.NoError(t, err)
	assert.IsType(t, IPv6Address{}, obj)

	_, err = b.AddrSCO("not-an-ip")
	require.Error(t, err)
}

func TestSCODispatch(t *testing.T) {
	b := &Builder{SCOLabels: []string{"wazuh"}}

	tests := []struct {
		entityType string
		value      string
		wantType   string
	}{
		{"Domain-Name", "example.org", "domain-name"},
		{"Hostname", "ws01", "hostname"},
		{"Email-Addr", "a@example.org", "email-addr"},
		{"Mac-Addr", "aa:bb:cc:dd:ee:ff", "mac-addr"},
		{"Url", "https://example.org", "url"},
		{"Windows-Registry-Key", `HKLM\SOFTWARE\foo`, "windows-registry-key"},
		{"User-Agent", "curl/8.0", "user-agent"},
		{"StixFile", "evil.exe", "file"},
		{"Directory", "/etc", "directory"},
		{"IPv4-Addr", "198.51.100.7", "ipv4-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.entityType, func(t *testing.T) {
			obj, err := b.SCO(tt.entityType, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, obj.ObjectType())
		})
	}

	_, err := b.SCO("Software", "nginx")
	require.Error(t, err)
}

func TestAccountFromUsername(t *testing.T) {
	b := &Builder{}

	acct := b.AccountFromUsername("alice")
	assert.Equal(t, "alice", acct.AccountLogin)
	assert.Empty(t, acct.UserID)

	acct = b.AccountFromUsername("root(uid=0)")
	assert.Equal(t, "root", acct.AccountLogin)
	assert.Equal(t, "0", acct.UserID)
}

func TestBuilderCommonProperties(t *testing.T) {
	confidence := 80
	b := &Builder{
		CreatedByRef: "identity--author",
		Confidence:   &confidence,
		MarkingRefs:  []string{TLPGreenID},
	}

	ident := b.Identity("Wazuh", "organization", "Wazuh")
	assert.Equal(t, "identity--author", ident.CreatedByRef)
	assert.Equal(t, []string{TLPGreenID}, ident.ObjectMarkingRefs)
	require.NotNil(t, ident.Confidence)
	assert.Equal(t, 80, *ident.Confidence)
	assert.Equal(t, SpecVersion, ident.SpecVersion)
}

func TestIPProto(t *testing.T) {
	assert.Equal(t, "ipv4", IPProto("10.0.0.1"))
	assert.Equal(t, "ipv6", IPProto("::1"))
	assert.Equal(t, "", IPProto("example.org"))
}
