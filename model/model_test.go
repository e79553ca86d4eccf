package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyJSONIsBase64(t *testing.T) {
	key := PublicKeyFromBytes([]byte{0x30, 0x82, 0x01, 0x22})
	member := Member{ID: "1", OwnerPublicKeys: []PublicKey{key}}

	data, err := json.Marshal(member)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"MIIBIg=="`)

	var decoded Member
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.OwnedBy(key))
}

func TestMemberHidden(t *testing.T) {
	m := Member{Metadata: Metadata{MetadataHidden: true}}
	assert.True(t, m.Hidden())
	assert.False(t, Member{}.Hidden())
	assert.False(t, Member{Metadata: Metadata{MetadataHidden: "yes"}}.Hidden())
}

func TestZoneCloneIsIndependent(t *testing.T) {
	z := NewZone("z")
	z.Members["m"] = Member{ID: "m", OwnerPublicKeys: []PublicKey{"a"}, Metadata: Metadata{"k": "v"}}

	c := z.Clone()
	m := c.Members["m"]
	m.OwnerPublicKeys[0] = "b"
	m.Metadata["k"] = "changed"

	assert.Equal(t, PublicKey("a"), z.Members["m"].OwnerPublicKeys[0])
	assert.Equal(t, "v", z.Members["m"].Metadata["k"])
}

func TestValidateTag(t *testing.T) {
	require.NoError(t, ValidateTag("name", strings.Repeat("é", MaxTagLength)))

	err := ValidateTag("name", strings.Repeat("a", MaxTagLength+1))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)
}

func TestValidateValue(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"0", true},
		{"1500.00", true},
		{"0.01", true},
		{"0.010", true},
		{"0.001", false},
		{"-1", false},
		{strings.Repeat("9", MaxValueDigits-MaxValueScale), true},
		{strings.Repeat("9", MaxValueDigits), false},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			err := ValidateValue(decimal.RequireFromString(tc.value))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateMetadataSize(t *testing.T) {
	require.NoError(t, ValidateMetadata("metadata", Metadata{"hidden": true}))
	assert.Error(t, ValidateMetadata("metadata", Metadata{"blob": strings.Repeat("x", MaxMetadataSize)}))
}
