package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobIDNormalizes(t *testing.T) {
	id, err := ParseJobID(" 6F9619FF-8B86-D011-B42D-00C04FC964FF ")
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", id)

	urn, err := ParseJobID("urn:uuid:6f9619ff-8b86-d011-b42d-00c04fc964ff")
	require.NoError(t, err)
	assert.Equal(t, id, urn)
}

func TestParseJobIDRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "job-1", "1234"} {
		_, err := ParseJobID(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewJobIDIsParsable(t *testing.T) {
	id := NewJobID()
	parsed, err := ParseJobID(id)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}
