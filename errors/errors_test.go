package errors

import (
	"testing"

	"github.com/letsencrypt/gsb/internal/test"
)

func TestNewAndIs(t *testing.T) {
	err := New(IntegrityError, "checksum mismatch for %s", "MALWARE/ANY_PLATFORM/URL")
	test.AssertEquals(t, err.Error(), "checksum mismatch for MALWARE/ANY_PLATFORM/URL")
	test.Assert(t, Is(err, IntegrityError), "expected IntegrityError")
	test.Assert(t, !Is(err, TransportError), "did not expect TransportError")
}

func TestIsRejectsForeignErrors(t *testing.T) {
	test.Assert(t, !Is(fmtError("boom"), InvalidURL), "a plain error must never match Is")
}

type fmtError string

func (e fmtError) Error() string { return string(e) }

func TestTypeString(t *testing.T) {
	cases := map[ErrorType]string{
		InternalServer:  "InternalServer",
		InvalidURL:      "InvalidURL",
		TransportError:  "TransportError",
		ProtocolError:   "ProtocolError",
		IntegrityError:  "IntegrityError",
		StorageError:    "StorageError",
		ErrorType(1000): "Unknown",
	}
	for typ, want := range cases {
		test.AssertEquals(t, typ.String(), want)
	}
}
