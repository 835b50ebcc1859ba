package instance

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Instance and agent names share these rules because both end up in Redis
// keys and NATS subjects.
func TestValidateName(t *testing.T) {
	name63 := "m" + strings.Repeat("1", 62)

	testCases := []struct {
		input  string
		errMsg string // empty = valid
	}{
		{input: "default"},
		{input: "miner-1"},
		{input: "a"},
		{input: name63},
		{input: "", errMsg: "cannot be empty"},
		{input: name63 + "1", errMsg: "too long: 64 characters"},
		{input: "Miner", errMsg: "must be lowercase"},
		{input: "-scout", errMsg: "not at start/end"},
		{input: "scout-", errMsg: "not at start/end"},
		{input: "miner_1", errMsg: "must be lowercase alphanumeric"},
		{input: "huddle.prod", errMsg: "must be lowercase alphanumeric"},
		{input: "builder 2", errMsg: "must be lowercase alphanumeric"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q", tc.input), func(t *testing.T) {
			err := ValidateName(tc.input)
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestResolve(t *testing.T) {
	env := func(value string) func(string) string {
		return func(key string) string {
			if key == EnvInstanceName {
				return value
			}
			return ""
		}
	}

	testCases := []struct {
		name     string
		flag     string
		getenv   func(string) string
		config   string
		expected string
		wantErr  bool
	}{
		{name: "flag wins", flag: "cli", getenv: env("env"), config: "file", expected: "cli"},
		{name: "env beats config", getenv: env("env"), config: "file", expected: "env"},
		{name: "config used when nothing else set", getenv: env(""), config: "file", expected: "file"},
		{name: "default when unset", expected: DefaultName},
		{name: "invalid flag rejected", flag: "Bad_Name", wantErr: true},
		{name: "invalid env rejected", getenv: env("-oops"), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.flag, tc.getenv, tc.config)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
