// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lassandro/goavr/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]string{
		"trace": "TRACE",
		"DEBUG": "DEBUG",
		"info":  "INFO ",
		"":      "INFO ",
		"warn":  "WARN ",
		"error": "ERROR",
	} {
		lvl, err := logging.ParseLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, logging.LevelString(lvl), input)
	}

	_, err := logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestTraceFiltering(t *testing.T) {
	var buf bytes.Buffer

	log := logging.New(&buf, logging.LevelDebug)
	logging.Trace(log, "hidden")
	assert.False(t, logging.TraceEnabled(log))
	assert.Empty(t, buf.String())

	log = logging.New(&buf, logging.LevelTrace)
	logging.Trace(log, "shown", "pc", 4)
	assert.True(t, logging.TraceEnabled(log))
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestDiscard(t *testing.T) {
	log := logging.Discard()
	assert.False(t, logging.TraceEnabled(log))
	log.Error("dropped")
}
