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

// Package kiel is an asynchronous client library for Kafka 0.8/0.9-era
// clusters.
//
// The library keeps one TCP connection per broker, multiplexes requests on
// each connection via correlation IDs and reconciles its picture of the
// cluster (brokers, topics, partition leaders) whenever metadata drifts.
//
// The usable client types live in the clients package: a Producer, a
// SingleConsumer for standalone consumption and a GroupedConsumer that
// coordinates partition ownership among group members via Zookeeper.
package kiel

const (
	versionMajor = 2
	versionMinor = 0
	versionPatch = 0
	// VersionString contains the version of the library as a string
	VersionString = "v2.0.0"
)

// GetVersionNumber returns the version of the library as a single number
func GetVersionNumber() int64 {
	return versionMajor*10000 + versionMinor*100 + versionPatch
}
