/* Copyright 2025 Notevault Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package assert provides test helpers
package assert

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Equal fails a test if the actual does not match the expected
func Equal(t *testing.T, actual, expected interface{}, message string) {
	t.Helper()

	if actual != expected {
		t.Errorf("%s: actual %+v, expected %+v", message, actual, expected)
	}
}

// NotEqual fails a test if the actual matches the expected
func NotEqual(t *testing.T, actual, expected interface{}, message string) {
	t.Helper()

	if actual == expected {
		t.Errorf("%s: got %+v which should not have matched", message, actual)
	}
}

// DeepEqual fails a test if the actual does not deeply match the expected
func DeepEqual(t *testing.T, actual, expected interface{}, message string) {
	t.Helper()

	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("%s: mismatch (-expected +actual):\n%s", message, diff)
	}
}

// StatusCodeEquals fails a test if the actual status code does not match the expected
func StatusCodeEquals(t *testing.T, actual, expected int, message string) {
	t.Helper()

	if actual != expected {
		t.Errorf("%s: status code actual %d, expected %d", message, actual, expected)
	}
}

// Contains fails a test if the haystack does not contain the needle
func Contains(t *testing.T, haystack, needle, message string) {
	t.Helper()

	if !strings.Contains(haystack, needle) {
		t.Errorf("%s: %q not found in %q", message, needle, haystack)
	}
}

// NotContains fails a test if the haystack contains the needle
func NotContains(t *testing.T, haystack, needle, message string) {
	t.Helper()

	if strings.Contains(haystack, needle) {
		t.Errorf("%s: %q unexpectedly found in %q", message, needle, haystack)
	}
}
