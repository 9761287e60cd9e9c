// pkg/stix/ids_test.go

package stix

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var idPattern = regexp.MustCompile(`^[a-z0-9-]+--[0-9a-f]{8}-[0-9a-f]{4}-5[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestDeterministicIDFormat(t *testing.T) {
	ids := []string{
		IdentityID("Wazuh", "organization"),
		IncidentID("Wazuh alert: IPv4-Addr 1.2.3.4 sighted", "2024-03-01T10:00:00.000Z"),
		NoteID("2024-03-01T10:00:00.000Z", "content"),
		AttackPatternID("T1053.005", "T1053.005"),
		ToolID("PsExec"),
		RelationshipID("targets", "incident--a", "identity--b"),
		SightingID("indicator--a", "identity--b", "t0", "t1"),
		ObservableID("ipv4-addr", map[string]interface{}{"value": "1.2.3.4"}),
	}
	for _, id := range ids {
		assert.Regexp(t, idPattern, id, "UUIDv5-based STIX id")
	}
}

func TestDeterministicIDStability(t *testing.T) {
	assert.Equal(t,
		IdentityID("Wazuh", "organization"),
		IdentityID("Wazuh", "organization"))

	// Name normalization: case and surrounding space do not matter.
	assert.Equal(t,
		IdentityID("Wazuh", "organization"),
		IdentityID("  wazuh ", "Organization"))

	assert.NotEqual(t,
		IdentityID("Wazuh", "organization"),
		IdentityID("Wazuh", "system"))

	assert.NotEqual(t,
		SightingID("indicator--a", "identity--b", "t0", "t1"),
		SightingID("indicator--a", "identity--b", "t0", "t2"))
}

func TestNewBundleIDIsRandom(t *testing.T) {
	assert.NotEqual(t, NewBundleID(), NewBundleID())
	assert.Regexp(t, `^bundle--`, NewBundleID())
}
