package dc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpgo/internal/protocol"
)

func roundTrip(t *testing.T, f *Field, v Value) Value {
	t.Helper()
	w := protocol.NewWriter(64)
	require.NoError(t, f.PackArgs(w, v))
	r := protocol.NewReader(w.Bytes())
	got, err := f.UnpackArgs(r)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Remaining())
	return got
}

func TestPackUnpackRoundTrip(t *testing.T) {
	s := GameSchema()
	toon := s.ClassByName("DistributedToon")
	require.NotNil(t, toon)

	tests := []struct {
		field string
		value Value
	}{
		{"setName", TupleV(StringV("Mickey"))},
		{"setDNAString", TupleV(BlobV([]byte{0x01, 0x02, 0xFF}))},
		{"setMaxHp", TupleV(IntV(137))},
		{"setDISLid", TupleV(UintV(10000042))},
		{"setPosIndex", TupleV(UintV(3))},
		{"setFriendsList", TupleV(ListV(
			TupleV(UintV(10000001), UintV(0)),
			TupleV(UintV(10000002), UintV(1)),
		))},
		{"setX", TupleV(FloatV(-42.5))},
	}
	for _, tc := range tests {
		f := toon.FieldByName(tc.field)
		require.NotNil(t, f, tc.field)
		got := roundTrip(t, f, tc.value)
		assert.True(t, Equal(tc.value, got), "%s: %#v != %#v", tc.field, tc.value, got)
	}
}

func TestMolecularRoundTrip(t *testing.T) {
	toon := GameSchema().ClassByName("DistributedToon")
	f := toon.FieldByName("setXYZH")
	require.NotNil(t, f)
	require.Equal(t, Molecular, f.Kind)

	v := TupleV(
		TupleV(FloatV(1)), TupleV(FloatV(2)), TupleV(FloatV(3)), TupleV(FloatV(180)),
	)
	got := roundTrip(t, f, v)
	assert.True(t, Equal(v, got))

	// Molecular flags are the union of the atomics'.
	assert.True(t, f.Flags.Has(Broadcast|Ownsend))
}

func TestDefaults(t *testing.T) {
	s := GameSchema()
	acct := s.ClassByName("Account")

	avSet := acct.FieldByName("ACCOUNT_AV_SET")
	require.NotNil(t, avSet)
	def := avSet.Default()
	require.Equal(t, KindTuple, def.Kind)
	require.Len(t, def.Items, 1)
	assert.Len(t, def.Items[0].Items, 6)

	created := acct.FieldByName("CREATED")
	assert.True(t, Equal(TupleV(StringV("")), created.Default()))

	hp := s.ClassByName("DistributedToon").FieldByName("setMaxHp")
	assert.True(t, Equal(TupleV(IntV(15)), hp.Default()))
}

func TestObjectTypeNumbering(t *testing.T) {
	s := GameSchema()
	assert.Equal(t, uint16(1), s.ObjectTypeByName("Account"))
	assert.Equal(t, uint16(2), s.ObjectTypeByName("DistributedToon"))
	assert.Equal(t, uint16(3), s.ObjectTypeByName("DistributedEstate"))
	assert.Equal(t, uint16(4), s.ObjectTypeByName("DistributedHouse"))
	assert.Equal(t, uint16(5), s.ObjectTypeByName("DistributedPet"))
	assert.Equal(t, uint16(0), s.ObjectTypeByName("CentralLogger"))

	assert.Equal(t, "DistributedToon", s.ObjectType(2).Name)
}

func TestInheritedFieldsAndLookup(t *testing.T) {
	s := GameSchema()
	toon := s.ClassByName("DistributedToon")

	f := toon.FieldByName("setName")
	require.NotNil(t, f)
	assert.Same(t, f, s.FieldByNumber(f.Number))

	// Inherited fields come in declaration order.
	fields := toon.InheritedFields()
	require.NotEmpty(t, fields)
	for i := 1; i < len(fields); i++ {
		assert.Less(t, fields[i-1].Number, fields[i].Number)
	}
}

func TestSingleArgBareValueAccepted(t *testing.T) {
	toon := GameSchema().ClassByName("DistributedToon")
	f := toon.FieldByName("setName")

	w := protocol.NewWriter(16)
	require.NoError(t, f.PackArgs(w, StringV("Pluto")))

	r := protocol.NewReader(w.Bytes())
	got, err := f.UnpackArgs(r)
	require.NoError(t, err)
	assert.True(t, Equal(TupleV(StringV("Pluto")), got))
}

func TestPackTypeMismatch(t *testing.T) {
	toon := GameSchema().ClassByName("DistributedToon")
	f := toon.FieldByName("setName")

	w := protocol.NewWriter(16)
	err := f.PackArgs(w, TupleV(UintV(5)))
	assert.Error(t, err)
}
