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

// Package logger configures logrus output for programs embedding the client
// library.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// NewConsoleFormatter returns a formatter for interactive use. The client
// logs broker, topic and partition as structured fields, so field sorting
// stays enabled and entries are padded to keep those fields aligned across
// a busy fetch loop. Warnings and errors get their own colors since
// connection losses and leader elections are the events worth spotting.
func NewConsoleFormatter(colored bool) *prefixed.TextFormatter {
	f := prefixed.TextFormatter{}

	f.ForceFormatting = true
	f.ForceColors = colored
	f.DisableColors = !colored
	f.FullTimestamp = true
	f.TimestampFormat = time.RFC3339
	f.DisableUppercase = true
	f.SpacePadding = 44

	f.SetColorScheme(&prefixed.ColorScheme{
		TimestampStyle:  "black+h",
		PrefixStyle:     "cyan",
		DebugLevelStyle: "black+h",
		InfoLevelStyle:  "green",
		WarnLevelStyle:  "yellow",
		ErrorLevelStyle: "red+b",
	})

	return &f
}

// Configure points the standard logrus logger at the console formatter.
// Debug lowers the level to debug; otherwise the level is info.
func Configure(debug bool, colored bool) {
	logrus.SetFormatter(NewConsoleFormatter(colored))

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
