// Copyright 2015-2018 trivago N.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trivago/tgo/ttesting"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

func formatEntry(f *prefixed.TextFormatter) string {
	entry := &logrus.Entry{
		Logger:  logrus.StandardLogger(),
		Time:    time.Date(2016, time.March, 3, 12, 0, 0, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "Leader not available, election in progress",
		Data: logrus.Fields{
			"topic":     "test.topic",
			"partition": 0,
		},
	}

	rendered, err := f.Format(entry)
	if err != nil {
		panic(err)
	}
	return string(rendered)
}

func TestConsoleFormatterRendersFields(t *testing.T) {
	expect := ttesting.NewExpect(t)

	output := formatEntry(NewConsoleFormatter(false))

	expect.True(strings.Contains(output, "Leader not available"))
	expect.True(strings.Contains(output, "topic=test.topic"))
	expect.True(strings.Contains(output, "partition=0"))
	expect.True(strings.Contains(output, "2016-03-03T12:00:00Z"))

	// colors off means no ansi escapes in the output
	expect.False(strings.Contains(output, "\x1b["))
}

func TestConsoleFormatterColors(t *testing.T) {
	expect := ttesting.NewExpect(t)

	output := formatEntry(NewConsoleFormatter(true))
	expect.True(strings.Contains(output, "\x1b["))
}

func TestConfigureSetsLevelAndFormatter(t *testing.T) {
	expect := ttesting.NewExpect(t)

	defer logrus.SetLevel(logrus.InfoLevel)

	Configure(true, false)
	expect.Equal(logrus.DebugLevel, logrus.GetLevel())

	_, correct := logrus.StandardLogger().Formatter.(*prefixed.TextFormatter)
	expect.True(correct)

	Configure(false, false)
	expect.Equal(logrus.InfoLevel, logrus.GetLevel())
}
