// pkg/connerr/connerr_test.go

package connerr

import (
	"testing"

	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "plain error",
			err:  cerr.New("boom"),
			want: false,
		},
		{
			name: "user error",
			err:  NewUserErrorf("entity type %s is not supported", "Software"),
			want: true,
		},
		{
			name: "wrapped user error",
			err:  cerr.Wrap(NewUserError(cerr.New("over max TLP")), "processing failed"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserError(tt.err))
		})
	}
}

func TestNewUserErrorPreservesMessage(t *testing.T) {
	err := NewUserErrorf("entity type %s is not supported", "Software")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Software")
}

func TestNewUserErrorNil(t *testing.T) {
	assert.NoError(t, NewUserError(nil))
}
