package sequence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextSerial(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AA000001", "AA000002"},
		{"AA000009", "AA000010"},
		{"AA099999", "AA100000"},
		{"B0001", "B0002"},
		{"0001", "0002"},
	}
	for _, c := range cases {
		got, err := nextSerial(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got)
	}
}

func TestNextSerialOverflow(t *testing.T) {
	_, err := nextSerial("AA99")
	require.ErrorIs(t, err, ErrInvalidSerialRange)
}

func TestNextSerialNoSuffix(t *testing.T) {
	_, err := nextSerial("INVOICE")
	require.ErrorIs(t, err, ErrInvalidSerialRange)
}

func TestRemaining(t *testing.T) {
	book := SerialBook{SerialStart: "AA000001", SerialEnd: "AA000100", CurrentSerial: "AA000040"}
	require.Equal(t, int64(60), book.Remaining())

	depleted := SerialBook{SerialStart: "AA000001", SerialEnd: "AA000100", CurrentSerial: "AA000100"}
	require.Equal(t, int64(0), depleted.Remaining())
}
