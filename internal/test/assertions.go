// Package test provides small assertion helpers used throughout this
// module's test suites, in place of a third-party assertion library.
package test

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

// caller returns short-format caller info so failures don't all appear to
// come from assertions.go.
func caller() string {
	_, file, line, _ := runtime.Caller(2)
	splits := strings.Split(file, "/")
	filename := splits[len(splits)-1]
	return fmt.Sprintf("%s:%d:", filename, line)
}

func Assert(t *testing.T, result bool, message string) {
	t.Helper()
	if !result {
		t.Error(caller(), message)
	}
}

func AssertNotError(t *testing.T, err error, message string) {
	t.Helper()
	if err != nil {
		t.Error(caller(), message, ":", err)
	}
}

func AssertError(t *testing.T, err error, message string) {
	t.Helper()
	if err == nil {
		t.Error(caller(), message)
	}
}

func AssertEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if one != two {
		t.Errorf("%s [%v] != [%v]", caller(), one, two)
	}
}

func AssertDeepEquals(t *testing.T, one, two interface{}) {
	t.Helper()
	if !reflect.DeepEqual(one, two) {
		t.Errorf("%s [%#v] != [%#v]", caller(), one, two)
	}
}

func AssertByteEquals(t *testing.T, one, two []byte) {
	t.Helper()
	if !bytes.Equal(one, two) {
		t.Errorf("%s Byte [%s] != [%s]",
			caller(),
			base64.StdEncoding.EncodeToString(one),
			base64.StdEncoding.EncodeToString(two))
	}
}

func AssertContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Errorf("%s String [%s] does not contain [%s]", caller(), haystack, needle)
	}
}
